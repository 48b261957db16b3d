package livestats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	runs     []RunInfo
	logs     map[string][]LogEntry
	logCalls map[string][]time.Time
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		logs:     make(map[string][]LogEntry),
		logCalls: make(map[string][]time.Time),
	}
}

func (s *fakeSource) RecentRuns(context.Context, time.Time) ([]RunInfo, error) {
	return s.runs, nil
}

func (s *fakeSource) Logs(_ context.Context, runID string, after time.Time) ([]LogEntry, error) {
	s.logCalls[runID] = append(s.logCalls[runID], after)
	var out []LogEntry
	for _, e := range s.logs[runID] {
		if e.Timestamp.After(after) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestMonitor(source RunSource) (*Monitor, *Tracker, *Hub) {
	tracker := NewTracker()
	hub := NewHub(zap.NewNop())
	m := &Monitor{
		logger:        zap.NewNop(),
		source:        source,
		tracker:       tracker,
		hub:           hub,
		pollInterval:  5 * time.Second,
		recencyWindow: 15 * time.Minute,
		highWater:     make(map[string]time.Time),
	}
	return m, tracker, hub
}

func statsLine(ts time.Time, executions int) LogEntry {
	return LogEntry{
		Timestamp: ts,
		Message:   fmt.Sprintf(`FUZZ_STATS {"executions": %d, "executions_per_sec": 10.0, "crashes": 0, "unique_crashes": 0, "corpus_size": 3}`, executions),
	}
}

func TestPollLatestWins(t *testing.T) {
	source := newFakeSource()
	start := time.Now().Add(-time.Minute)
	source.runs = []RunInfo{{RunID: "r1", Workflow: "fuzzing", StartTime: start, Created: start}}
	base := time.Now().Add(-30 * time.Second)
	source.logs["r1"] = []LogEntry{
		statsLine(base, 100),
		{Timestamp: base.Add(time.Second), Message: "unrelated noise"},
		statsLine(base.Add(2*time.Second), 300),
		statsLine(base.Add(time.Second), 200), // out of order, older
	}

	m, tracker, _ := newTestMonitor(source)
	m.poll(context.Background())

	stats, ok := tracker.Get("r1")
	require.True(t, ok)
	assert.EqualValues(t, 300, stats.Executions, "latest-timestamped line wins")
	assert.Equal(t, "fuzzing", stats.Workflow)
	// recomputed from run start, not from the log line
	assert.GreaterOrEqual(t, stats.ElapsedTime, int64(59))
}

func TestPollMonotonicAcrossCyclesWithDuplicates(t *testing.T) {
	source := newFakeSource()
	start := time.Now().Add(-time.Minute)
	source.runs = []RunInfo{{RunID: "r1", Workflow: "fuzzing", StartTime: start, Created: start}}
	base := time.Now().Add(-30 * time.Second)

	m, tracker, _ := newTestMonitor(source)

	source.logs["r1"] = []LogEntry{statsLine(base, 100)}
	m.poll(context.Background())
	stats, _ := tracker.Get("r1")
	assert.EqualValues(t, 100, stats.Executions)

	// at-least-once delivery: old line redelivered alongside a newer one
	source.logs["r1"] = []LogEntry{
		statsLine(base, 100),
		statsLine(base.Add(5*time.Second), 250),
	}
	m.poll(context.Background())
	stats, _ = tracker.Get("r1")
	assert.EqualValues(t, 250, stats.Executions, "snapshot values are never summed")

	// nothing new: record keeps its last value
	m.poll(context.Background())
	stats, _ = tracker.Get("r1")
	assert.EqualValues(t, 250, stats.Executions)
}

func TestPollLastCrashTime(t *testing.T) {
	source := newFakeSource()
	start := time.Now().Add(-time.Minute)
	source.runs = []RunInfo{{RunID: "r1", Workflow: "fuzzing", StartTime: start, Created: start}}
	base := time.Now().Add(-30 * time.Second)

	m, tracker, _ := newTestMonitor(source)

	source.logs["r1"] = []LogEntry{statsLine(base, 100)}
	m.poll(context.Background())
	stats, _ := tracker.Get("r1")
	assert.Nil(t, stats.LastCrashTime, "no crashes yet")

	crashTS := base.Add(5 * time.Second)
	source.logs["r1"] = append(source.logs["r1"], LogEntry{
		Timestamp: crashTS,
		Message:   `FUZZ_STATS {"executions": 200, "executions_per_sec": 10.0, "crashes": 1, "unique_crashes": 1, "corpus_size": 3}`,
	})
	m.poll(context.Background())
	stats, _ = tracker.Get("r1")
	require.NotNil(t, stats.LastCrashTime)
	assert.True(t, stats.LastCrashTime.Equal(crashTS))

	// crash count unchanged in a later cycle keeps the old timestamp
	source.logs["r1"] = append(source.logs["r1"], LogEntry{
		Timestamp: crashTS.Add(5 * time.Second),
		Message:   `FUZZ_STATS {"executions": 300, "executions_per_sec": 10.0, "crashes": 1, "unique_crashes": 1, "corpus_size": 3}`,
	})
	m.poll(context.Background())
	stats, _ = tracker.Get("r1")
	require.NotNil(t, stats.LastCrashTime)
	assert.True(t, stats.LastCrashTime.Equal(crashTS))
}

func TestPollHighWaterMarkIsIncremental(t *testing.T) {
	source := newFakeSource()
	start := time.Now().Add(-time.Minute)
	source.runs = []RunInfo{{RunID: "r1", StartTime: start, Created: start}}
	base := time.Now().Add(-30 * time.Second)
	source.logs["r1"] = []LogEntry{statsLine(base, 100)}

	m, _, _ := newTestMonitor(source)
	m.poll(context.Background())
	m.poll(context.Background())

	calls := source.logCalls["r1"]
	require.Len(t, calls, 2)
	assert.True(t, calls[0].IsZero())
	assert.Equal(t, base.Unix(), calls[1].Unix(), "second poll starts after the seen timestamp")
}

func TestPollBroadcastsToObservers(t *testing.T) {
	source := newFakeSource()
	start := time.Now().Add(-time.Minute)
	source.runs = []RunInfo{{RunID: "r1", StartTime: start, Created: start}}
	source.logs["r1"] = []LogEntry{statsLine(time.Now().Add(-time.Second), 42)}

	m, _, hub := newTestMonitor(source)
	obs := &recordingObserver{}
	hub.Subscribe("r1", obs)

	m.poll(context.Background())

	require.Len(t, obs.messages, 1)
	assert.Contains(t, string(obs.messages[0]), `"type":"stats_update"`)
	assert.Contains(t, string(obs.messages[0]), `"executions":42`)
}

type recordingObserver struct {
	messages [][]byte
	err      error
}

func (o *recordingObserver) Send(message []byte) error {
	if o.err != nil {
		return o.err
	}
	o.messages = append(o.messages, message)
	return nil
}

func TestBroadcastPrunesFailedObserver(t *testing.T) {
	hub := NewHub(zap.NewNop())
	good := &recordingObserver{}
	bad := &recordingObserver{err: errors.New("connection closed")}
	hub.Subscribe("r1", good)
	hub.Subscribe("r1", bad)

	hub.Broadcast("r1", CampaignStats{RunID: "r1", Executions: 7})

	assert.Len(t, good.messages, 1, "healthy observer still receives the update")
	assert.Equal(t, 1, hub.ObserverCount("r1"), "failed observer is pruned")

	hub.Broadcast("r1", CampaignStats{RunID: "r1", Executions: 8})
	assert.Len(t, good.messages, 2)
}

func TestBroadcastNoObserversIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Broadcast("r1", CampaignStats{RunID: "r1"})
	assert.Equal(t, 0, hub.ObserverCount("r1"))
}
