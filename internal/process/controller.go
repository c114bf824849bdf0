// ABOUTME: Out-of-process start, stop, restart, and reload through the PID file
// ABOUTME: Stop escalates SIGTERM to SIGKILL with bounded liveness polling

package process

import (
	"context"
	"errors"
	"time"

	rpcerrors "github.com/harper/rpcd/internal/errors"
	"github.com/harper/rpcd/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTermWait     = 15 * time.Second
	DefaultKillWait     = 5 * time.Second
)

// ReloadSignal asks the master to restart its workers.
const ReloadSignal = unix.SIGUSR1

// IsRunning signals pid with 0. "No such process" means dead; a permission
// error means the process exists under another user.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Signaler delivers signals and answers liveness checks.
type Signaler interface {
	Signal(pid int, sig unix.Signal) error
	Alive(pid int) bool
}

type osSignaler struct{}

func (osSignaler) Signal(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) }
func (osSignaler) Alive(pid int) bool                    { return IsRunning(pid) }

// RunFunc runs the server in the foreground until ctx is done or it stops.
type RunFunc func(ctx context.Context) error

type Controller struct {
	name     string
	pidFile  *PIDFile
	run      RunFunc
	signaler Signaler

	pollInterval time.Duration
	termWait     time.Duration
	killWait     time.Duration
}

type Option func(*Controller)

func WithSignaler(s Signaler) Option {
	return func(c *Controller) { c.signaler = s }
}

// WithTimings overrides the poll interval and the SIGTERM and SIGKILL waits.
func WithTimings(poll, term, kill time.Duration) Option {
	return func(c *Controller) {
		c.pollInterval, c.termWait, c.killWait = poll, term, kill
	}
}

func NewController(name string, pidFile *PIDFile, run RunFunc, opts ...Option) *Controller {
	c := &Controller{
		name:         name,
		pidFile:      pidFile,
		run:          run,
		signaler:     osSignaler{},
		pollInterval: DefaultPollInterval,
		termWait:     DefaultTermWait,
		killWait:     DefaultKillWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the recorded pid and whether it is alive.
func (c *Controller) Status() (int, bool) {
	pid := c.pidFile.Read()
	return pid, pid > 0 && c.signaler.Alive(pid)
}

// Start runs the server in the foreground unless one is already live.
func (c *Controller) Start(ctx context.Context) error {
	pid, running := c.Status()
	if running {
		return rpcerrors.NewAlreadyRunningError(c.name, pid, c.pidFile.Path())
	}
	if pid > 0 {
		logger.Warn("Removing stale pid file %s (pid %d is not running)", c.pidFile.Path(), pid)
		if err := c.pidFile.Remove(); err != nil {
			return err
		}
	}
	if c.run == nil {
		return errors.New("process: no run function configured")
	}
	return c.run(ctx)
}

// Stop terminates the recorded process and removes the pid file. A pid
// file naming a dead process is removed and reported as not running.
func (c *Controller) Stop(ctx context.Context) error {
	pid, running := c.Status()
	if !running {
		if pid > 0 {
			logger.Warn("Removing stale pid file %s (pid %d is not running)", c.pidFile.Path(), pid)
			if err := c.pidFile.Remove(); err != nil {
				return err
			}
		}
		return rpcerrors.NewNotRunningError(c.name, c.pidFile.Path())
	}

	ladder := []struct {
		sig  unix.Signal
		name string
		wait time.Duration
	}{
		{unix.SIGTERM, "SIGTERM", c.termWait},
		{unix.SIGKILL, "SIGKILL", c.killWait},
	}

	var sent []string
	var waited time.Duration
	for _, step := range ladder {
		logger.Info("Sending %s to %s (pid %d)", step.name, c.name, pid)
		if err := c.signaler.Signal(pid, step.sig); err != nil {
			if errors.Is(err, unix.ESRCH) {
				break
			}
			return err
		}
		sent = append(sent, step.name)

		start := time.Now()
		stopped, err := c.waitForExit(ctx, pid, step.wait)
		waited += time.Since(start)
		if err != nil {
			return err
		}
		if stopped {
			break
		}
	}

	if c.signaler.Alive(pid) {
		return rpcerrors.NewStopTimeoutError(c.name, pid, waited, sent)
	}
	logger.Info("%s stopped", c.name)
	return c.pidFile.Remove()
}

// Restart stops the running process and starts a new one in the
// foreground. A failed stop aborts the restart.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Reload asks the master to restart its workers. The pid file is untouched.
func (c *Controller) Reload(ctx context.Context) error {
	pid, running := c.Status()
	if !running {
		return rpcerrors.NewNotRunningError(c.name, c.pidFile.Path())
	}
	logger.Info("Sending SIGUSR1 to %s (pid %d)", c.name, pid)
	return c.signaler.Signal(pid, ReloadSignal)
}

func (c *Controller) waitForExit(ctx context.Context, pid int, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if !c.signaler.Alive(pid) {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
