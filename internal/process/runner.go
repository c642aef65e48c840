// Package process runs the backing version-control tool as a subprocess.
//
// The runner enforces a fixed deadline per invocation. A process that
// outlives the deadline is sent SIGTERM, given a short grace period, then
// SIGKILLed. Every exit path reaps the child. The runner never retries;
// backoff decisions belong to callers.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/Nu-SCPTheme/deepwell/internal/wikierr"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is the per-command deadline.
	DefaultTimeout = 1800 * time.Millisecond

	// killGrace is how long a terminated process may take to exit
	// before it is killed outright.
	killGrace = 2000 * time.Millisecond
)

type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{timeout: timeout, logger: logger}
}

// Run executes args in dir, discarding stdout.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) error {
	_, err := r.run(ctx, dir, args, false)
	return err
}

// RunCapture executes args in dir and returns captured stdout.
func (r *Runner) RunCapture(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return r.run(ctx, dir, args, true)
}

func (r *Runner) run(ctx context.Context, dir string, args []string, capture bool) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("process: empty argument vector")
	}

	r.logger.Debug("running process",
		zap.String("dir", dir),
		zap.Strings("args", args),
		zap.Bool("capture", capture),
	)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(nil)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: starting %s: %w", args[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		r.reap(cmd, done)
		return nil, ctx.Err()
	case <-deadline.C:
		r.logger.Warn("process exceeded deadline, terminating",
			zap.Duration("timeout", r.timeout),
			zap.Strings("args", args),
		)
		r.reap(cmd, done)
		return nil, wikierr.ErrCommandTimeout
	}

	if waitErr == nil {
		if capture {
			return stdout.Bytes(), nil
		}
		return nil, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code := exitErr.ExitCode()
		signal := 0
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = int(ws.Signal())
		}

		r.logger.Warn("process failed",
			zap.Int("exit_code", code),
			zap.Int("signal", signal),
			zap.Strings("args", args),
		)

		return nil, wikierr.NewCommandError(args, code, signal, stderr.String())
	}

	return nil, fmt.Errorf("process: waiting for %s: %w", args[0], waitErr)
}

// reap terminates the child, waits out the grace period, kills it if it is
// still alive, and always drains the wait channel so no zombie remains.
func (r *Runner) reap(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		r.logger.Warn("failed to terminate process", zap.Error(err))
	}

	grace := time.NewTimer(killGrace)
	defer grace.Stop()

	select {
	case <-done:
		return
	case <-grace.C:
		r.logger.Warn("process ignored SIGTERM, killing")
	}

	if err := cmd.Process.Kill(); err != nil {
		r.logger.Warn("failed to kill process", zap.Error(err))
	}
	<-done
}
