// Package orchestrator drives the scraper lifecycle: it launches the external
// scraper for a run, finalizes the run when the process exits, stops runs on
// request and recovers in-flight runs after a host restart.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricewise/internal/fsutil"
	"github.com/JakeFAU/pricewise/internal/pricewise"
	"github.com/JakeFAU/pricewise/internal/progress"
	"github.com/JakeFAU/pricewise/internal/runstate"
	"github.com/JakeFAU/pricewise/internal/snapshot"
)

// Environment variables handed to the scraper process.
const (
	EnvRunID        = "PRICEWISE_RUN_ID"
	EnvConfig       = "PRICEWISE_CONFIG"
	EnvOutputDir    = "PRICEWISE_OUTPUT_DIR"
	EnvProgressFile = "PRICEWISE_PROGRESS_FILE"
)

// Layout under the data directory.
const (
	RunsDir        = "runs"
	LogsDir        = "logs"
	RunConfigFile  = "config.json"
	RunOutputDir   = "out"
	cancelMessage  = "cancelled by user"
	interruptedMsg = "interrupted: scraper process not found after restart"
)

const (
	defaultGracePeriod  = 10 * time.Second
	defaultKillTimeout  = 5 * time.Second
	defaultPollInterval = time.Second
	defaultHistoryLimit = 20
	defaultLogTailLines = 50
)

// Config controls how the scraper is launched and supervised.
type Config struct {
	DataDir string
	// Command and Args start the scraper; Dir is its working directory.
	Command string
	Args    []string
	Dir     string
	// Env entries (KEY=VALUE) are appended to the host environment.
	Env []string
	// GracePeriod is how long StopRun waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// KillTimeout is how long StopRun waits after SIGKILL before giving up on the process.
	KillTimeout time.Duration
	// PollInterval is used to watch processes adopted after a restart.
	PollInterval time.Duration
	HistoryLimit int
	LogTailLines int
	// KeepStaging retains runs/<id> after a successful commit.
	KeepStaging bool
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = defaultKillTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.LogTailLines <= 0 {
		c.LogTailLines = defaultLogTailLines
	}
	return c
}

// ConfigSource yields the scraper configuration in effect.
type ConfigSource interface {
	Get() pricewise.ScraperConfig
}

// Deps bundles the collaborators of an Orchestrator.
type Deps struct {
	Tracker   *runstate.Tracker
	History   *runstate.HistoryLog
	Configs   ConfigSource
	Snapshots *snapshot.Repository
	Launcher  pricewise.Launcher
	Clock     pricewise.Clock
	IDs       pricewise.IDGenerator
	Events    progress.Emitter
	Logger    *zap.Logger
}

// Orchestrator owns the scraper process for the host.
type Orchestrator struct {
	cfg       Config
	tracker   *runstate.Tracker
	history   *runstate.HistoryLog
	configs   ConfigSource
	snapshots *snapshot.Repository
	launcher  pricewise.Launcher
	clock     pricewise.Clock
	ids       pricewise.IDGenerator
	events    progress.Emitter
	logger    *zap.Logger

	mu     sync.Mutex
	active *activeRun

	analyzeMu sync.Mutex
}

type activeRun struct {
	id        string
	startedAt time.Time
	cfg       pricewise.ScraperConfig
	stageDir  string
	proc      pricewise.Process

	done       chan struct{}
	cancelled  atomic.Bool
	finishOnce sync.Once
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case strings.TrimSpace(cfg.DataDir) == "":
		return nil, errors.New("data directory is required")
	case deps.Tracker == nil || deps.History == nil:
		return nil, errors.New("run state tracker and history are required")
	case deps.Configs == nil || deps.Snapshots == nil:
		return nil, errors.New("config source and snapshot repository are required")
	case deps.Launcher == nil || deps.Clock == nil || deps.IDs == nil:
		return nil, errors.New("launcher, clock and id generator are required")
	}
	events := deps.Events
	if events == nil {
		events = progress.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		tracker:   deps.Tracker,
		history:   deps.History,
		configs:   deps.Configs,
		snapshots: deps.Snapshots,
		launcher:  deps.Launcher,
		clock:     deps.Clock,
		ids:       deps.IDs,
		events:    events,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// StartRun claims the idle to running transition, spawns the scraper and
// returns without waiting for it. Concurrent callers see at most one success;
// the rest fail with pricewise.ErrAlreadyRunning.
func (o *Orchestrator) StartRun(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := o.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	startedAt := o.clock.Now().UTC()
	logPath := o.logPath(id)

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.tracker.Begin(pricewise.RunStart{RunID: id, StartedAt: startedAt, LogFile: logPath}); err != nil {
		return "", err
	}

	cfg := o.configs.Get()
	run := &activeRun{
		id:        id,
		startedAt: startedAt,
		cfg:       cfg,
		stageDir:  filepath.Join(o.cfg.DataDir, RunsDir, id),
		done:      make(chan struct{}),
	}
	o.events.Emit(progress.Event{RunID: id, TS: startedAt, Stage: progress.StageRunStart, Mode: cfg.ModeName()})

	proc, err := o.spawn(run, logPath)
	if err != nil {
		if !errors.Is(err, pricewise.ErrSpawnFailed) {
			err = fmt.Errorf("%w: %w", pricewise.ErrSpawnFailed, err)
		}
		o.finish(run, outcome{exitCode: pricewise.ExitCodeSpawnFailed, err: err, stage: progress.StageRunError})
		return "", fmt.Errorf("start run %s: %w", id, err)
	}
	run.proc = proc
	if err := o.tracker.AttachPID(id, proc.PID()); err != nil {
		o.logger.Error("persist run pid failed", zap.String("run_id", id), zap.Error(err))
	}
	o.active = run
	go o.watch(run)
	return id, nil
}

func (o *Orchestrator) spawn(run *activeRun, logPath string) (pricewise.Process, error) {
	outDir := filepath.Join(run.stageDir, RunOutputDir)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	data, err := json.MarshalIndent(run.cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode scraper config: %w", err)
	}
	configPath := filepath.Join(run.stageDir, RunConfigFile)
	if err := fsutil.WriteFile(configPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write scraper config: %w", err)
	}
	env := append([]string(nil), o.cfg.Env...)
	env = append(env,
		EnvRunID+"="+run.id,
		EnvConfig+"="+configPath,
		EnvOutputDir+"="+outDir,
		EnvProgressFile+"="+o.snapshots.ProgressPath(),
	)
	return o.launcher.Start(pricewise.LaunchSpec{
		Command: o.cfg.Command,
		Args:    o.cfg.Args,
		Dir:     o.cfg.Dir,
		Env:     env,
		LogPath: logPath,
	})
}

// StopRun cancels the in-flight run. It is a no-op when idle. Otherwise the
// process group gets SIGTERM, then SIGKILL after the grace period, and the run
// is recorded as cancelled even when the process never exits.
func (o *Orchestrator) StopRun(_ context.Context) error {
	state := o.tracker.Get()
	if !state.Running() {
		return nil
	}

	o.mu.Lock()
	run := o.active
	if run == nil || run.id != state.RunID {
		run = o.adoptLocked(state)
	}
	o.mu.Unlock()

	if run == nil {
		// No process to signal; converge the record directly.
		o.finishRecord(state, outcome{
			exitCode: pricewise.ExitCodeCancelled,
			err:      errors.New(cancelMessage),
			stage:    progress.StageRunCancelled,
		})
		return nil
	}

	run.cancelled.Store(true)
	o.logger.Info("stopping run", zap.String("run_id", run.id), zap.Int("pid", run.proc.PID()))
	if err := run.proc.Terminate(); err != nil {
		o.logger.Warn("terminate scraper failed", zap.String("run_id", run.id), zap.Error(err))
	}
	if o.await(run, o.cfg.GracePeriod) {
		return nil
	}

	o.logger.Warn("scraper ignored SIGTERM, killing", zap.String("run_id", run.id))
	if err := run.proc.Kill(); err != nil {
		o.logger.Warn("kill scraper failed", zap.String("run_id", run.id), zap.Error(err))
	}
	if o.await(run, o.cfg.KillTimeout) {
		return nil
	}

	o.logger.Error("scraper unresponsive after kill, forcing idle", zap.String("run_id", run.id))
	o.complete(run, cancelledOutcome())
	return nil
}

// await reports whether run finished within d. The caller's context does not
// shorten the wait: the grace and kill windows always run to completion.
func (o *Orchestrator) await(run *activeRun, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-run.done:
		return true
	case <-timer.C:
		return false
	}
}

// Reconcile repairs a running record left by a previous host instance. A
// live recorded pid is adopted and watched; otherwise the run is closed with
// the interrupted indicator.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state := o.tracker.Get()
	if !state.Running() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil && o.active.id == state.RunID {
		return nil
	}
	if run := o.adoptLocked(state); run != nil {
		o.logger.Info("adopted in-flight run", zap.String("run_id", run.id), zap.Int("pid", run.proc.PID()))
		return nil
	}
	o.logger.Warn("recorded run has no live process", zap.String("run_id", state.RunID), zap.Int("pid", state.PID))
	o.finishRecord(state, outcome{
		exitCode: pricewise.ExitCodeInterrupted,
		err:      errors.New(interruptedMsg),
		stage:    progress.StageRunError,
	})
	return nil
}

// adoptLocked attaches to the process recorded in state and starts watching it.
func (o *Orchestrator) adoptLocked(state pricewise.RunState) *activeRun {
	if state.PID <= 0 {
		return nil
	}
	proc, ok := o.launcher.Attach(state.PID, o.cfg.PollInterval)
	if !ok {
		return nil
	}
	run := o.runFromState(state)
	run.proc = proc
	o.active = run
	go o.watch(run)
	return run
}

// runFromState rebuilds run bookkeeping from the persisted record, preferring
// the config snapshot staged for that run.
func (o *Orchestrator) runFromState(state pricewise.RunState) *activeRun {
	run := &activeRun{
		id:       state.RunID,
		stageDir: filepath.Join(o.cfg.DataDir, RunsDir, state.RunID),
		done:     make(chan struct{}),
	}
	if state.StartedAt != nil {
		run.startedAt = *state.StartedAt
	}
	run.cfg = o.configs.Get()
	data, err := fsutil.ReadFile(filepath.Join(run.stageDir, RunConfigFile))
	if err == nil && len(data) > 0 {
		var staged pricewise.ScraperConfig
		if err := json.Unmarshal(data, &staged); err == nil {
			run.cfg = staged
		}
	}
	return run
}

func (o *Orchestrator) logPath(runID string) string {
	return filepath.Join(o.cfg.DataDir, LogsDir, "run-"+runID+".log")
}
