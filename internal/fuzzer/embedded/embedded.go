package embedded

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"forgefuzz/internal/module"
)

const statsInterval = 5 * time.Second

var metadata = module.Metadata{
	Name:              "embedded_fuzzer",
	Version:           "1.0.0",
	Description:       "in-process fuzzer driving a dynamically loaded target entry point over a corpus",
	Category:          "fuzzing",
	Tags:              []string{"fuzzing", "dynamic"},
	RequiresWorkspace: true,
}

type EmbeddedFuzzer struct {
	logger *zap.Logger
	loader TargetLoader
}

type EmbeddedFuzzerParams struct {
	fx.In

	Logger *zap.Logger
}

func NewEmbeddedFuzzer(params EmbeddedFuzzerParams) *EmbeddedFuzzer {
	return &EmbeddedFuzzer{
		logger: params.Logger,
		loader: PluginLoader{},
	}
}

func (f *EmbeddedFuzzer) Metadata() module.Metadata {
	return metadata
}

type runConfig struct {
	targetPath    string
	maxIterations int
	maxTime       time.Duration
	corpusDir     string
}

func parseConfig(cfg module.Config) (runConfig, error) {
	var rc runConfig
	var err error
	if rc.targetPath, err = cfg.String("target_path", ""); err != nil {
		return rc, err
	}
	if rc.maxIterations, err = cfg.PositiveInt("max_iterations", 10000); err != nil {
		return rc, err
	}
	maxSecs, err := cfg.PositiveInt("max_time_seconds", 300)
	if err != nil {
		return rc, err
	}
	rc.maxTime = time.Duration(maxSecs) * time.Second
	if rc.corpusDir, err = cfg.String("corpus_dir", "corpus"); err != nil {
		return rc, err
	}
	return rc, nil
}

func (f *EmbeddedFuzzer) ValidateConfig(cfg module.Config) error {
	_, err := parseConfig(cfg)
	return err
}

func (f *EmbeddedFuzzer) Execute(ctx context.Context, cfg module.Config, workspace string, statsFn module.StatsFunc) (*module.Result, error) {
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

	targetPath := rc.targetPath
	if targetPath == "" {
		targets, err := DiscoverTargets(workspace)
		if err != nil {
			logger.Warn("target discovery failed", zap.Error(err))
			return base.FailedResult(err), nil
		}
		targetPath = targets[0]
		for _, ignored := range targets[1:] {
			logger.Info("ignoring additional fuzz target", zap.String("target", ignored))
		}
	}
	logger = logger.With(zap.String("target", targetPath))

	entry, err := f.loader.Load(targetPath)
	if err != nil {
		logger.Error("failed to load fuzz target", zap.Error(err))
		return base.FailedResult(err), nil
	}

	inputs, err := loadCorpus(workspace, rc.corpusDir)
	if err != nil {
		logger.Error("failed to read corpus", zap.Error(err))
		return base.FailedResult(err), nil
	}

	wrapped := newWrappedTarget(entry)
	start := time.Now()

	// The stats reporter must be stopped and joined on every exit path.
	statsCtx, cancelStats := context.WithCancel(ctx)
	statsDone := make(chan struct{})
	if statsFn != nil {
		go f.reportStats(statsCtx, wrapped, start, len(inputs), statsFn, statsDone)
	} else {
		close(statsDone)
	}
	var stopOnce sync.Once
	stopStats := func() {
		stopOnce.Do(func() {
			cancelStats()
			<-statsDone
		})
	}
	defer stopStats()

	logger.Info("starting fuzz run",
		zap.Int("max_iterations", rc.maxIterations),
		zap.Duration("max_time", rc.maxTime),
		zap.Int("corpus_size", len(inputs)),
	)
	f.replay(ctx, wrapped, inputs, rc.maxIterations, rc.maxTime)
	stopStats()

	elapsed := time.Since(start).Seconds()
	executions := wrapped.Executions()

	findings := make([]module.Finding, 0, len(wrapped.crashes))
	for _, cr := range wrapped.crashes {
		finding := base.NewFinding(
			"Fuzz target crash",
			fmt.Sprintf("target panicked on iteration %d: %s", cr.Iteration, cr.Message),
			module.SeverityCritical,
			"crash",
		)
		finding.FilePath = targetPath
		finding.Metadata = map[string]any{
			"iteration":    cr.Iteration,
			"input_hex":    hex.EncodeToString(cr.Input),
			"input_base64": base64.StdEncoding.EncodeToString(cr.Input),
			"stack":        cr.Stack,
		}
		findings = append(findings, finding)
	}

	res := base.NewResult(module.StatusSuccess, findings)
	res.Summary = map[string]any{
		"target":             targetPath,
		"total_executions":   executions,
		"executions_per_sec": rate(executions, elapsed),
		"crashes":            len(wrapped.crashes),
		"corpus_size":        len(inputs),
	}
	logger.Info("fuzz run finished",
		zap.Int64("executions", executions),
		zap.Int("crashes", len(wrapped.crashes)),
	)
	return res, nil
}

// replay drives the target over the corpus, cycling when the iteration
// budget exceeds the corpus size. Whichever budget is hit first stops the
// run. A crashing input does not stop the replay; the wrapper has already
// recorded it by the time the panic reaches us.
func (f *EmbeddedFuzzer) replay(ctx context.Context, w *wrappedTarget, inputs [][]byte, maxIterations int, maxTime time.Duration) {
	deadline := time.Now().Add(maxTime)
	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return
		}
		var data []byte
		if len(inputs) > 0 {
			data = inputs[i%len(inputs)]
		}
		runInput(w, data)
	}
}

func runInput(w *wrappedTarget, data []byte) {
	defer func() {
		recover()
	}()
	w.Run(data)
}

func (f *EmbeddedFuzzer) reportStats(ctx context.Context, w *wrappedTarget, start time.Time, corpusSize int, statsFn module.StatsFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()
			executions := w.Executions()
			crashes := int(w.CrashCount())
			statsFn(ctx, module.Stats{
				Executions:       executions,
				ExecutionsPerSec: rate(executions, elapsed),
				Crashes:          crashes,
				UniqueCrashes:    crashes,
				CorpusSize:       corpusSize,
				ElapsedTime:      int64(elapsed),
			})
		}
	}
}

// loadCorpus reads the corpus directory in lexicographic order. A missing
// directory is an empty corpus, not an error.
func loadCorpus(workspace, corpusDir string) ([][]byte, error) {
	dir := filepath.Join(workspace, corpusDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	inputs := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, data)
	}
	return inputs, nil
}

func rate(executions int64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(executions) / elapsed
}

var EmbeddedModule = fx.Options(
	fx.Provide(fx.Annotate(NewEmbeddedFuzzer, fx.As(new(module.Module)), fx.ResultTags(`group:"modules"`))),
)
