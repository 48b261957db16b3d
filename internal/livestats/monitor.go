package livestats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/config"
)

// RunInfo describes one candidate run reported by the external scheduler.
type RunInfo struct {
	RunID     string
	Workflow  string
	StartTime time.Time
	Created   time.Time
}

// RunSource is the boundary to the external task scheduler: recent runs
// and their log entries.
type RunSource interface {
	RecentRuns(ctx context.Context, since time.Time) ([]RunInfo, error)
	Logs(ctx context.Context, runID string, after time.Time) ([]LogEntry, error)
}

// Monitor polls the run source on a fixed cadence and folds parsed stats
// envelopes into the tracker, pushing each update to subscribed observers.
type Monitor struct {
	logger        *zap.Logger
	source        RunSource
	tracker       *Tracker
	hub           *Hub
	pollInterval  time.Duration
	recencyWindow time.Duration

	mu        sync.Mutex
	highWater map[string]time.Time
}

type MonitorParams struct {
	fx.In

	Logger    *zap.Logger
	Source    RunSource
	Tracker   *Tracker
	Hub       *Hub
	AppConfig *config.AppConfig
}

func NewMonitor(params MonitorParams) *Monitor {
	return &Monitor{
		logger:        params.Logger,
		source:        params.Source,
		tracker:       params.Tracker,
		hub:           params.Hub,
		pollInterval:  params.AppConfig.Livestats.PollInterval,
		recencyWindow: params.AppConfig.Livestats.RecencyWindow,
		highWater:     make(map[string]time.Time),
	}
}

// Run is the long-lived monitoring loop.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stats monitor stopped")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	cutoff := time.Now().Add(-m.recencyWindow)
	runs, err := m.source.RecentRuns(ctx, cutoff)
	if err != nil {
		m.logger.Warn("failed to list recent runs", zap.Error(err))
		return
	}
	for _, run := range runs {
		m.pollRun(ctx, run)
	}
}

// pollRun reads log entries past the run's high-water mark and applies the
// latest stats envelope found, if any. The last envelope per cycle wins.
func (m *Monitor) pollRun(ctx context.Context, run RunInfo) {
	m.mu.Lock()
	mark := m.highWater[run.RunID]
	m.mu.Unlock()

	logs, err := m.source.Logs(ctx, run.RunID, mark)
	if err != nil {
		m.logger.Warn("failed to read run logs", zap.String("run_id", run.RunID), zap.Error(err))
		return
	}

	var latest Envelope
	var latestTS time.Time
	newMark := mark
	for _, entry := range logs {
		if !entry.Timestamp.After(mark) {
			continue
		}
		if entry.Timestamp.After(newMark) {
			newMark = entry.Timestamp
		}
		env, ok := ParseEnvelope(entry)
		if !ok {
			m.logger.Debug("log line is not a stats envelope", zap.String("run_id", run.RunID))
			continue
		}
		if !entry.Timestamp.Before(latestTS) {
			latest = env
			latestTS = entry.Timestamp
		}
	}

	m.mu.Lock()
	m.highWater[run.RunID] = newMark
	m.mu.Unlock()

	if latest == nil {
		return
	}

	// elapsed_time is recomputed from the run's own start, not trusted from
	// the envelope.
	var elapsed int64
	if !run.StartTime.IsZero() {
		elapsed = int64(time.Since(run.StartTime).Seconds())
	}

	stats := CampaignStats{
		RunID:            run.RunID,
		Workflow:         run.Workflow,
		Executions:       latest.int64Field("executions"),
		ExecutionsPerSec: latest.floatField("executions_per_sec"),
		Crashes:          latest.intField("crashes"),
		UniqueCrashes:    latest.intField("unique_crashes"),
		Coverage:         latest.floatField("coverage"),
		CorpusSize:       latest.intField("corpus_size"),
		ElapsedTime:      elapsed,
	}
	if prev, ok := m.tracker.Get(run.RunID); ok {
		stats.LastCrashTime = prev.LastCrashTime
		if stats.Crashes > prev.Crashes {
			ts := latestTS
			stats.LastCrashTime = &ts
		}
	} else if stats.Crashes > 0 {
		ts := latestTS
		stats.LastCrashTime = &ts
	}
	m.tracker.Update(stats)
	m.hub.Broadcast(run.RunID, stats)
	m.logger.Debug("updated campaign stats",
		zap.String("run_id", run.RunID),
		zap.Int64("executions", stats.Executions),
	)
}

type monitorLifecycleParams struct {
	fx.In

	LC      fx.Lifecycle
	Monitor *Monitor
}

func registerMonitor(params monitorLifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	params.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				params.Monitor.Run(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

var LivestatsModule = fx.Options(
	fx.Provide(NewTracker),
	fx.Provide(NewHub),
	fx.Provide(NewMonitor),
	fx.Invoke(registerMonitor),
	fx.Invoke(registerStatsServer),
)
