package subproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/internal/module"
	"forgefuzz/pkg/watchdog"
)

var metadata = module.Metadata{
	Name:              "cargo_fuzz",
	Version:           "1.0.0",
	Description:       "builds cargo-fuzz harnesses and runs them as libFuzzer subprocesses",
	Category:          "fuzzing",
	Tags:              []string{"fuzzing", "rust", "libfuzzer"},
	RequiresWorkspace: true,
}

type CargoFuzzer struct {
	logger      *zap.Logger
	watchDogFac *watchdog.WatchDogFactory
	runner      CommandRunner
}

type CargoFuzzerParams struct {
	fx.In

	Logger      *zap.Logger
	WatchDogFac *watchdog.WatchDogFactory
}

func NewCargoFuzzer(params CargoFuzzerParams) *CargoFuzzer {
	return &CargoFuzzer{
		logger:      params.Logger,
		watchDogFac: params.WatchDogFac,
		runner:      NewExecRunner(params.Logger),
	}
}

func (f *CargoFuzzer) Metadata() module.Metadata {
	return metadata
}

type runConfig struct {
	targetName    string
	maxIterations int
	runTimeout    time.Duration
	buildTimeout  time.Duration
	sanitizer     string
}

func parseConfig(cfg module.Config) (runConfig, error) {
	var rc runConfig
	var err error
	if rc.targetName, err = cfg.String("target_name", ""); err != nil {
		return rc, err
	}
	if rc.maxIterations, err = cfg.PositiveInt("max_iterations", 1000000); err != nil {
		return rc, err
	}
	runSecs, err := cfg.PositiveInt("timeout_seconds", 1800)
	if err != nil {
		return rc, err
	}
	rc.runTimeout = time.Duration(runSecs) * time.Second
	buildSecs, err := cfg.PositiveInt("build_timeout_seconds", 600)
	if err != nil {
		return rc, err
	}
	rc.buildTimeout = time.Duration(buildSecs) * time.Second
	if rc.sanitizer, err = cfg.Enum("sanitizer", "address", "address", "memory", "undefined"); err != nil {
		return rc, err
	}
	return rc, nil
}

func (f *CargoFuzzer) ValidateConfig(cfg module.Config) error {
	_, err := parseConfig(cfg)
	return err
}

// DiscoverHarnesses lists the harness names under fuzz/fuzz_targets, one
// per .rs file, sorted. A missing directory yields zero harnesses.
func DiscoverHarnesses(workspace string) []string {
	dir := filepath.Join(workspace, "fuzz", "fuzz_targets")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var targets []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".rs") {
			continue
		}
		targets = append(targets, strings.TrimSuffix(e.Name(), ".rs"))
	}
	sort.Strings(targets)
	return targets
}

func (f *CargoFuzzer) Execute(ctx context.Context, cfg module.Config, workspace string, statsFn module.StatsFunc) (*module.Result, error) {
	rc, err := parseConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := module.ValidateWorkspace(workspace); err != nil {
		return nil, err
	}

	base := module.NewBase(metadata)
	base.StartTimer()
	logger := f.logger.With(
		zap.String("module", metadata.Name),
		zap.String("workspace", workspace),
	)

	if err := f.runner.LookPath("cargo"); err != nil {
		logger.Error("cargo not found", zap.Error(err))
		return base.FailedResult(&module.EngineUnavailableError{Engine: "cargo-fuzz", Reason: "cargo not found in PATH"}), nil
	}

	targets := DiscoverHarnesses(workspace)
	if len(targets) == 0 {
		logger.Warn("no fuzz targets discovered")
		res := base.FailedResult(nil)
		res.Error = "No fuzz targets found. Expected fuzz targets in fuzz/fuzz_targets/"
		return res, nil
	}

	target := rc.targetName
	if target == "" {
		target = targets[0]
		logger.Info("no target specified, using first discovered target", zap.String("target", target))
	} else if !contains(targets, target) {
		res := base.FailedResult(nil)
		res.Error = fmt.Sprintf("Target '%s' not found. Available targets: %s", target, strings.Join(targets, ", "))
		return res, nil
	}
	logger = logger.With(zap.String("target", target))

	logger.Info("building fuzz target", zap.String("sanitizer", rc.sanitizer))
	buildOut, err := f.runner.Run(ctx, workspace, rc.buildTimeout, nil,
		"cargo", "fuzz", "build", target, "--sanitizer="+rc.sanitizer)
	if err != nil {
		logger.Error("build failed", zap.Error(err), zap.String("output", tail(buildOut, 2000)))
		return base.FailedResult(&module.BuildError{Target: target, Output: tail(buildOut, 2000)}), nil
	}

	// Watch the artifacts directory so crash files created mid-run feed the
	// live counters before the post-run scan.
	artifactsDir := filepath.Join(workspace, "fuzz", "artifacts", target)
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		logger.Warn("failed to create artifacts directory", zap.Error(err))
	}
	watchCtx, cancelWatch := context.WithCancel(ctx)
	crashChan := make(chan string, 64)
	wd := f.watchDogFac.New(watchCtx, crashChan, func(p string) bool {
		name := filepath.Base(p)
		return strings.HasPrefix(name, "crash-") ||
			strings.HasPrefix(name, "leak-") ||
			strings.HasPrefix(name, "timeout-")
	})
	wd.AddDir(artifactsDir)
	var artifactCount atomic.Int64
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for range crashChan {
			artifactCount.Add(1)
		}
	}()
	defer func() {
		cancelWatch()
		<-watchDone
	}()

	logger.Info("starting fuzzing",
		zap.Int("max_iterations", rc.maxIterations),
		zap.Duration("timeout", rc.runTimeout),
	)
	start := time.Now()
	var lastProgress Progress
	var crashLines int
	lineFn := func(line string) {
		if p, ok := ParseProgressLine(line); ok {
			lastProgress = p
			if statsFn != nil {
				elapsed := time.Since(start).Seconds()
				rate := p.ExecsPerSec
				if rate == 0 && elapsed > 0 {
					rate = float64(p.Executions) / elapsed
				}
				statsFn(ctx, module.Stats{
					Executions:       p.Executions,
					ExecutionsPerSec: rate,
					Crashes:          crashLines,
					UniqueCrashes:    int(artifactCount.Load()),
					Coverage:         float64(p.Coverage),
					CorpusSize:       p.CorpusSize,
					ElapsedTime:      int64(elapsed),
				})
			}
		}
		if IsCrashLine(line) {
			crashLines++
		}
	}

	// The run timeout is enforced by libFuzzer itself via -max_total_time;
	// the outer bound only catches a wedged engine.
	_, runErr := f.runner.Run(ctx, workspace, rc.runTimeout+time.Minute, lineFn,
		"cargo", "fuzz", "run", target,
		"--sanitizer="+rc.sanitizer,
		"--",
		fmt.Sprintf("-runs=%d", rc.maxIterations),
		fmt.Sprintf("-max_total_time=%d", int(rc.runTimeout.Seconds())),
	)
	if runErr != nil {
		// Non-zero exit is expected when the harness crashed on an input.
		logger.Debug("fuzz run exited non-zero", zap.Error(runErr))
	}
	elapsed := time.Since(start).Seconds()

	findings := f.collectArtifacts(ctx, &base, workspace, target, logger)

	res := base.NewResult(module.StatusSuccess, findings)
	res.Summary = map[string]any{
		"target":             target,
		"total_executions":   lastProgress.Executions,
		"executions_per_sec": rate(lastProgress.Executions, elapsed),
		"crashes_found":      len(findings),
		"coverage":           float64(lastProgress.Coverage),
		"corpus_size":        lastProgress.CorpusSize,
	}
	logger.Info("fuzzing completed",
		zap.Int64("executions", lastProgress.Executions),
		zap.Int("crashes", len(findings)),
	)
	return res, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func rate(executions int64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(executions) / elapsed
}

var CargoModule = fx.Options(
	fx.Provide(fx.Annotate(NewCargoFuzzer, fx.As(new(module.Module)), fx.ResultTags(`group:"modules"`))),
)
