package subproc

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const gracefulStopTimeout = 10 * time.Second

// CommandRunner executes external engine commands. The port exists so tests
// can substitute the cargo toolchain.
type CommandRunner interface {
	// LookPath reports whether the named binary is installed.
	LookPath(name string) error
	// Run executes the command in dir with a bounded timeout, returning the
	// combined output. When lineFn is non-nil it receives each output line
	// as it is produced.
	Run(ctx context.Context, dir string, timeout time.Duration, lineFn func(string), name string, args ...string) (string, error)
}

// ExecRunner runs commands via os/exec. On timeout the process is sent
// SIGINT and given a grace period before being killed; context cancellation
// kills it immediately.
type ExecRunner struct {
	logger *zap.Logger
}

func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func (r *ExecRunner) Run(ctx context.Context, dir string, timeout time.Duration, lineFn func(string), name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	var output strings.Builder
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			output.WriteString(line)
			output.WriteByte('\n')
			if lineFn != nil {
				lineFn(line)
			}
		}
	}()

	if err := cmd.Start(); err != nil {
		pw.Close()
		<-scanDone
		return "", err
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(timeout):
		r.logger.Info("command timed out, sending SIGINT",
			zap.String("command", name),
			zap.Duration("timeout", timeout),
		)
		_ = cmd.Process.Signal(syscall.SIGINT)
		select {
		case waitErr = <-done:
		case <-time.After(gracefulStopTimeout):
			r.logger.Warn("command ignored SIGINT, killing", zap.String("command", name))
			_ = cmd.Process.Kill()
			waitErr = <-done
		}
	case <-ctx.Done():
		r.logger.Info("context cancelled, killing command", zap.String("command", name))
		_ = cmd.Process.Kill()
		<-done
		waitErr = ctx.Err()
	}

	pw.Close()
	<-scanDone
	return output.String(), waitErr
}
