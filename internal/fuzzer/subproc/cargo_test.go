package subproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forgefuzz/internal/module"
	"forgefuzz/pkg/watchdog"
)

type stubCall struct {
	name string
	args []string
}

type stubRunner struct {
	lookPathErr error
	calls       []stubCall
	handler     func(call stubCall, lineFn func(string)) (string, error)
}

func (r *stubRunner) LookPath(string) error {
	return r.lookPathErr
}

func (r *stubRunner) Run(_ context.Context, _ string, _ time.Duration, lineFn func(string), name string, args ...string) (string, error) {
	call := stubCall{name: name, args: args}
	r.calls = append(r.calls, call)
	if r.handler != nil {
		return r.handler(call, lineFn)
	}
	return "", nil
}

func newTestFuzzer(runner CommandRunner) *CargoFuzzer {
	return &CargoFuzzer{
		logger:      zap.NewNop(),
		watchDogFac: watchdog.NewWatchDogFactory(zap.NewNop()),
		runner:      runner,
	}
}

func writeWorkspace(t *testing.T, targets ...string) string {
	t.Helper()
	ws := t.TempDir()
	dir := filepath.Join(ws, "fuzz", "fuzz_targets")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, name := range targets {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".rs"), []byte("fuzz_target!(|data: &[u8]| {});"), 0644))
	}
	return ws
}

func isRun(call stubCall) bool {
	return call.name == "cargo" && len(call.args) >= 2 && call.args[0] == "fuzz" && call.args[1] == "run"
}

func TestDiscoverHarnesses(t *testing.T) {
	ws := writeWorkspace(t, "parse", "decode")
	require.NoError(t, os.WriteFile(filepath.Join(ws, "fuzz", "fuzz_targets", "notes.txt"), nil, 0644))

	targets := DiscoverHarnesses(ws)
	assert.Equal(t, []string{"decode", "parse"}, targets)

	assert.Empty(t, DiscoverHarnesses(t.TempDir()))
}

func TestExecuteNoTargets(t *testing.T) {
	f := newTestFuzzer(&stubRunner{})
	ws := t.TempDir()

	res, err := f.Execute(context.Background(), module.Config{}, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, module.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "No fuzz targets found")
}

func TestExecuteEngineUnavailable(t *testing.T) {
	f := newTestFuzzer(&stubRunner{lookPathErr: errors.New("not found")})
	ws := writeWorkspace(t, "parse")

	res, err := f.Execute(context.Background(), module.Config{}, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, module.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "unavailable")
}

func TestExecuteUnknownTarget(t *testing.T) {
	f := newTestFuzzer(&stubRunner{})
	ws := writeWorkspace(t, "parse")

	res, err := f.Execute(context.Background(), module.Config{"target_name": "other"}, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, module.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "Target 'other' not found")
	assert.Contains(t, res.Error, "parse")
}

func TestExecuteBuildFailure(t *testing.T) {
	runner := &stubRunner{
		handler: func(call stubCall, _ func(string)) (string, error) {
			return "error[E0308]: mismatched types", errors.New("exit status 101")
		},
	}
	f := newTestFuzzer(runner)
	ws := writeWorkspace(t, "parse")

	res, err := f.Execute(context.Background(), module.Config{}, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, module.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "build failed")
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"fuzz", "build", "parse", "--sanitizer=address"}, runner.calls[0].args)
}

func TestExecuteSuccessWithStats(t *testing.T) {
	progressLines := []string{
		"INFO: Seed: 1234",
		"#128\tNEW    cov: 50 ft: 60 corp: 4/16b exec/s: 128 rss: 26Mb",
		"#4096\tNEW    cov: 80 ft: 90 corp: 9/64b exec/s: 409 rss: 27Mb",
	}
	runner := &stubRunner{
		handler: func(call stubCall, lineFn func(string)) (string, error) {
			if isRun(call) {
				for _, line := range progressLines {
					lineFn(line)
				}
			}
			return strings.Join(progressLines, "\n"), nil
		},
	}
	f := newTestFuzzer(runner)
	ws := writeWorkspace(t, "parse")

	var snapshots []module.Stats
	res, err := f.Execute(context.Background(), module.Config{
		"max_iterations":  float64(5000),
		"timeout_seconds": float64(60),
	}, ws, func(_ context.Context, s module.Stats) {
		snapshots = append(snapshots, s)
	})
	require.NoError(t, err)

	assert.Equal(t, module.StatusSuccess, res.Status)
	assert.Empty(t, res.Findings)
	assert.EqualValues(t, 4096, res.Summary["total_executions"])
	assert.Equal(t, 9, res.Summary["corpus_size"])

	require.Len(t, snapshots, 2)
	assert.EqualValues(t, 128, snapshots[0].Executions)
	assert.EqualValues(t, 4096, snapshots[1].Executions)
	assert.Equal(t, float64(409), snapshots[1].ExecutionsPerSec)

	// budgets are passed straight to the engine
	require.Len(t, runner.calls, 2)
	runArgs := runner.calls[1].args
	assert.Contains(t, runArgs, "-runs=5000")
	assert.Contains(t, runArgs, "-max_total_time=60")
}

func TestExecuteZeroStatsLinesTolerated(t *testing.T) {
	runner := &stubRunner{
		handler: func(call stubCall, lineFn func(string)) (string, error) {
			if isRun(call) {
				lineFn("INFO: Seed: 99")
			}
			return "", nil
		},
	}
	f := newTestFuzzer(runner)
	ws := writeWorkspace(t, "parse")

	res, err := f.Execute(context.Background(), module.Config{}, ws, nil)
	require.NoError(t, err)
	assert.Equal(t, module.StatusSuccess, res.Status)
	assert.EqualValues(t, 0, res.Summary["total_executions"])
}

func TestExecuteCrashArtifacts(t *testing.T) {
	reproOutput := "==1== ERROR: AddressSanitizer: SEGV on unknown address"
	runner := &stubRunner{
		handler: func(call stubCall, lineFn func(string)) (string, error) {
			if isRun(call) && len(call.args) == 4 {
				// reproducer run: cargo fuzz run parse <artifact>
				return reproOutput, errors.New("exit status 77")
			}
			return "", nil
		},
	}
	f := newTestFuzzer(runner)
	ws := writeWorkspace(t, "parse")

	artifactsDir := filepath.Join(ws, "fuzz", "artifacts", "parse")
	require.NoError(t, os.MkdirAll(artifactsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "crash-abc123"), []byte{0xde, 0xad}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "leak-def456"), []byte{0x01}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(artifactsDir, "notes.txt"), nil, 0644))

	res, err := f.Execute(context.Background(), module.Config{}, ws, nil)
	require.NoError(t, err)

	assert.Equal(t, module.StatusSuccess, res.Status)
	require.Len(t, res.Findings, 2)

	crash := res.Findings[0]
	assert.Equal(t, module.SeverityCritical, crash.Severity)
	assert.Equal(t, "crash", crash.Category)
	assert.Contains(t, crash.Title, "Segmentation Fault")
	assert.Equal(t, "crash-abc123", crash.Metadata["crash_file"])
	assert.Equal(t, 2, crash.Metadata["input_size"])

	leak := res.Findings[1]
	assert.Equal(t, module.SeverityMedium, leak.Severity)
	assert.Contains(t, leak.Title, "Memory Leak")
}

func TestExecuteConfigErrors(t *testing.T) {
	f := newTestFuzzer(&stubRunner{})
	ws := writeWorkspace(t, "parse")

	var cerr *module.ConfigError
	_, err := f.Execute(context.Background(), module.Config{"max_iterations": float64(-5)}, ws, nil)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "max_iterations", cerr.Field)

	_, err = f.Execute(context.Background(), module.Config{"sanitizer": "thread"}, ws, nil)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "sanitizer", cerr.Field)
}

func TestExecuteInvalidWorkspace(t *testing.T) {
	f := newTestFuzzer(&stubRunner{})

	var werr *module.WorkspaceError
	_, err := f.Execute(context.Background(), module.Config{}, "/does/not/exist", nil)
	require.ErrorAs(t, err, &werr)
}
