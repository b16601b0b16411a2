// Package launcher starts the scraper as a detached child process and probes
// processes it did not start.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/pricewise"
)

// DefaultPollInterval is used by adopted processes when no interval is given.
const DefaultPollInterval = time.Second

// Launcher implements pricewise.Launcher with os/exec.
type Launcher struct {
	logger *zap.Logger
}

// New returns a Launcher.
func New(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger.Named("launcher")}
}

// Start spawns spec.Command in its own process group with stdout and stderr
// appended to spec.LogPath. It returns once the process has started.
func (l *Launcher) Start(spec pricewise.LaunchSpec) (pricewise.Process, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: command is required", pricewise.ErrSpawnFailed)
	}

	var logFile *os.File
	if spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.LogPath), 0o750); err != nil {
			return nil, fmt.Errorf("%w: create log directory: %w", pricewise.ErrSpawnFailed, err)
		}
		// #nosec G304 -- log path is built from the configured data directory.
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("%w: open log file: %w", pricewise.ErrSpawnFailed, err)
		}
		logFile = f
	}

	// #nosec G204 -- the command comes from operator configuration.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	detach(cmd)

	err := cmd.Start()
	if logFile != nil {
		// The child holds its own descriptor.
		_ = logFile.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pricewise.ErrSpawnFailed, err)
	}
	l.logger.Info("process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", spec.Command),
		zap.String("log", spec.LogPath),
	)
	return &child{cmd: cmd}, nil
}

// Attach adopts a process started by an earlier host instance. Its exit
// status is not observable, so Wait reports 0 once the pid is gone.
func (l *Launcher) Attach(pid int, pollInterval time.Duration) (pricewise.Process, bool) {
	if !l.Alive(pid) {
		return nil, false
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	l.logger.Info("adopting running process", zap.Int("pid", pid))
	return &adopted{pid: pid, poll: pollInterval, alive: l.Alive}, true
}

// Alive reports whether pid refers to a live process.
func (l *Launcher) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return processAlive(pid)
}

// child is a process started by this host.
type child struct {
	cmd      *exec.Cmd
	waitOnce sync.Once
	code     int
	err      error
}

func (c *child) PID() int {
	return c.cmd.Process.Pid
}

func (c *child) Wait() (int, error) {
	c.waitOnce.Do(func() {
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			c.code = 0
		case errors.As(err, &exitErr):
			c.code = exitCode(exitErr.ProcessState)
		default:
			c.code = -1
			c.err = fmt.Errorf("wait for process: %w", err)
		}
	})
	return c.code, c.err
}

func (c *child) Terminate() error {
	return signalGroup(c.PID(), false)
}

func (c *child) Kill() error {
	return signalGroup(c.PID(), true)
}

// adopted is a process this host did not start; it is polled for liveness.
type adopted struct {
	pid   int
	poll  time.Duration
	alive func(int) bool
}

func (a *adopted) PID() int {
	return a.pid
}

func (a *adopted) Wait() (int, error) {
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for a.alive(a.pid) {
		<-ticker.C
	}
	return 0, nil
}

func (a *adopted) Terminate() error {
	return signalGroup(a.pid, false)
}

func (a *adopted) Kill() error {
	return signalGroup(a.pid, true)
}
