// Package supervisor spawns, signals and awaits external processes.
//
// Children spawned here are reaped by a dedicated waiter goroutine. PIDs the
// supervisor did not spawn are inspected through gopsutil and polled.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sys/unix"

	"github.com/sureshkrishnan-v/idsagent/internal/constants"
)

// UnknownExitCode is reported when a process was killed by a signal or was
// not our child.
const UnknownExitCode = -1

// ErrEmptyCommand is returned by Spawn for an empty argv.
var ErrEmptyCommand = errors.New("supervisor: empty command")

type child struct {
	cmd      *exec.Cmd
	done     chan struct{}
	code     int
	released bool
}

// Supervisor owns the processes it spawns.
type Supervisor struct {
	logger       *zap.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	children map[int]*child
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPollInterval sets how often a foreign PID is checked for exit.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New creates a Supervisor.
func New(logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:       logger,
		pollInterval: constants.ProcessPollInterval,
		children:     make(map[int]*child),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts argv as a child process and returns its PID. The context only
// guards the start; the child outlives it. Output is streamed into the logger.
func (s *Supervisor) Spawn(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	procLog := s.logger.With(zap.String("proc", filepath.Base(argv[0])))
	stdout := &zapio.Writer{Log: procLog, Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: procLog, Level: zapcore.WarnLevel}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	pid := cmd.Process.Pid
	c := &child{cmd: cmd, done: make(chan struct{})}

	s.mu.Lock()
	s.children[pid] = c
	s.mu.Unlock()

	s.logger.Info("Process started",
		zap.Int("pid", pid),
		zap.Strings("argv", argv))

	go s.reap(pid, c, stdout, stderr)
	return pid, nil
}

func (s *Supervisor) reap(pid int, c *child, writers ...*zapio.Writer) {
	err := c.cmd.Wait()
	code := exitCode(err)
	for _, w := range writers {
		_ = w.Close()
	}

	s.mu.Lock()
	c.code = code
	close(c.done)
	if c.released {
		delete(s.children, pid)
	}
	s.mu.Unlock()

	s.logger.Info("Process exited", zap.Int("pid", pid), zap.Int("exit_code", code))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return UnknownExitCode
}

// Terminate sends SIGTERM to pid. A process that is already gone is a no-op;
// other failures are logged. Terminate does not wait for the exit.
func (s *Supervisor) Terminate(ctx context.Context, pid int) {
	s.mu.Lock()
	c, owned := s.children[pid]
	if owned {
		c.released = true
		select {
		case <-c.done:
			delete(s.children, pid)
			s.mu.Unlock()
			return
		default:
		}
	}
	s.mu.Unlock()

	if owned {
		err := c.cmd.Process.Signal(unix.SIGTERM)
		switch {
		case err == nil:
			s.logger.Debug("Sent SIGTERM", zap.Int("pid", pid))
		case errors.Is(err, os.ErrProcessDone):
		default:
			s.logger.Warn("Failed to terminate process", zap.Int("pid", pid), zap.Error(err))
		}
		return
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if !errors.Is(err, process.ErrorProcessNotRunning) {
			s.logger.Warn("Failed to look up process", zap.Int("pid", pid), zap.Error(err))
		}
		return
	}
	if err := p.TerminateWithContext(ctx); err != nil && !errors.Is(err, unix.ESRCH) {
		s.logger.Warn("Failed to terminate process", zap.Int("pid", pid), zap.Error(err))
		return
	}
	s.logger.Debug("Sent SIGTERM", zap.Int("pid", pid))
}

// AwaitExit blocks until pid exits or ctx is done. It returns the exit code
// and true on exit, or false when ctx ended first. Foreign processes report
// UnknownExitCode.
func (s *Supervisor) AwaitExit(ctx context.Context, pid int) (int, bool) {
	s.mu.Lock()
	c, owned := s.children[pid]
	s.mu.Unlock()

	if owned {
		select {
		case <-c.done:
			s.mu.Lock()
			delete(s.children, pid)
			s.mu.Unlock()
			return c.code, true
		case <-ctx.Done():
			return 0, false
		}
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		if !s.alive(ctx, pid) {
			return UnknownExitCode, true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return 0, false
		}
	}
}

// alive reports whether a foreign pid still runs. Zombies count as exited.
func (s *Supervisor) alive(ctx context.Context, pid int) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return !slices.Contains(status, process.Zombie)
}

// Running returns the PIDs of spawned children that have not exited yet.
func (s *Supervisor) Running() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]int, 0, len(s.children))
	for pid, c := range s.children {
		select {
		case <-c.done:
		default:
			pids = append(pids, pid)
		}
	}
	slices.Sort(pids)
	return pids
}
