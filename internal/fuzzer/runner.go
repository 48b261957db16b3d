package fuzzer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/internal/module"
	"forgefuzz/pkg/telemetry"
)

// StatsRecorder receives the stats log lines the telemetry pipeline reads
// back.
type StatsRecorder interface {
	AppendStats(ctx context.Context, runID string, ts time.Time, message string, extra map[string]any) error
}

// CampaignRunner executes one module run end to end and duplicates the
// module's stats snapshots into the structured log stream, where the
// telemetry pipeline picks them up.
type CampaignRunner struct {
	logger        *zap.Logger
	registry      *module.Registry
	tracerFactory *telemetry.TracerFactory
	recorder      StatsRecorder
}

type CampaignRunnerParams struct {
	fx.In

	Logger        *zap.Logger
	Registry      *module.Registry
	TracerFactory *telemetry.TracerFactory
	Recorder      StatsRecorder `optional:"true"`
}

func NewCampaignRunner(params CampaignRunnerParams) *CampaignRunner {
	return &CampaignRunner{
		logger:        params.Logger,
		registry:      params.Registry,
		tracerFactory: params.TracerFactory,
		recorder:      params.Recorder,
	}
}

// Run resolves the named module, validates its config, and executes it in
// the workspace. Stats snapshots are re-emitted as FUZZ_STATS log lines
// carrying the stats_type discriminator.
func (r *CampaignRunner) Run(ctx context.Context, runID, workflow, moduleName string, cfg module.Config, workspace string) (*module.Result, error) {
	mod, err := r.registry.Get(moduleName)
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(
		zap.String("run_id", runID),
		zap.String("workflow", workflow),
		zap.String("module", moduleName),
	)

	tracer, ok := ctx.Value(telemetry.TracerKey{}).(telemetry.Tracer)
	if !ok {
		tracer = &telemetry.DummyTracer{}
		ctx = context.WithValue(ctx, telemetry.TracerKey{}, tracer)
	}

	if err := mod.ValidateConfig(cfg); err != nil {
		logger.Error("config validation failed", zap.Error(err))
		return nil, err
	}

	tracer.AddEvent("campaign.module.start", telemetry.EventAttributes{
		"run_id": runID,
		"module": moduleName,
	})

	statsFn := func(ctx context.Context, stats module.Stats) {
		r.emitStats(ctx, logger, runID, workflow, stats)
	}

	result, err := mod.Execute(ctx, cfg, workspace, statsFn)
	if err != nil {
		logger.Error("module execution rejected", zap.Error(err))
		return nil, err
	}

	tracer.AddEvent("campaign.module.done", telemetry.EventAttributes{
		"run_id": runID,
		"status": string(result.Status),
	})
	logger.Info("module execution finished",
		zap.String("status", string(result.Status)),
		zap.Int("findings", len(result.Findings)),
		zap.Float64("execution_time", result.ExecutionTime),
	)
	return result, nil
}

// emitStats writes one snapshot as a FUZZ_STATS marker line plus structured
// fields, so both the typed side channel and the marker fallback can parse it.
func (r *CampaignRunner) emitStats(ctx context.Context, logger *zap.Logger, runID, workflow string, stats module.Stats) {
	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	message := fmt.Sprintf("FUZZ_STATS %s", payload)
	if r.recorder != nil {
		extra := map[string]any{
			"stats_type":         "fuzzing_live_update",
			"executions":         stats.Executions,
			"executions_per_sec": stats.ExecutionsPerSec,
			"crashes":            stats.Crashes,
			"unique_crashes":     stats.UniqueCrashes,
			"coverage":           stats.Coverage,
			"corpus_size":        stats.CorpusSize,
		}
		if err := r.recorder.AppendStats(ctx, runID, time.Now(), message, extra); err != nil {
			logger.Debug("failed to record stats line", zap.Error(err))
		}
	}
	logger.Info(message,
		zap.String("stats_type", "fuzzing_live_update"),
		zap.String("run_id", runID),
		zap.String("workflow", workflow),
		zap.Int64("executions", stats.Executions),
		zap.Float64("executions_per_sec", stats.ExecutionsPerSec),
		zap.Int("crashes", stats.Crashes),
		zap.Int("unique_crashes", stats.UniqueCrashes),
		zap.Int("corpus_size", stats.CorpusSize),
	)
}

var RunnerModule = fx.Options(
	fx.Provide(module.NewRegistry),
	fx.Provide(NewCampaignRunner),
)
