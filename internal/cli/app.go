package cli

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buckleypaul/zflow/internal/config"
	"github.com/buckleypaul/zflow/internal/docker"
	"github.com/buckleypaul/zflow/internal/flash"
	"github.com/buckleypaul/zflow/internal/logger"
	"github.com/buckleypaul/zflow/internal/metrics"
	"github.com/buckleypaul/zflow/internal/runner"
	"github.com/buckleypaul/zflow/internal/serial"
	"github.com/buckleypaul/zflow/internal/store"
	"github.com/buckleypaul/zflow/internal/target"
	"github.com/buckleypaul/zflow/internal/ui"
	"github.com/buckleypaul/zflow/internal/west"
	"github.com/buckleypaul/zflow/internal/workflow"
)

// app is the per-invocation environment shared by every command.
type app struct {
	cfg     config.Config
	root    string // Directory holding .zflow/ and the workspace config
	log     *zap.SugaredLogger
	out     *ui.Printer
	targets *target.Registry
	store   *store.Store
	metrics *metrics.Recorder

	stdout io.Writer
	stderr io.Writer
}

// load resolves configuration for cmd. The workspace root is the enclosing
// west workspace, or the working directory outside of one.
func (a *app) load(cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	a.root = west.DefaultMount(cwd, cwd)

	cfg, err := config.Load(a.root, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(a.stderr, cfg.LogLevel)
	a.out = ui.NewPrinter(a.stdout)

	if cfg.TargetsFile != "" {
		a.targets, err = target.Load(a.path(cfg.TargetsFile))
	} else {
		a.targets, err = target.Builtin()
	}
	if err != nil {
		return err
	}

	a.store = store.New(a.path(cfg.StateDir))
	a.metrics = metrics.New()
	return nil
}

// path resolves p against the workspace root.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

// mount is the host directory bound into the container.
func (a *app) mount() string {
	if a.cfg.Workspace != "" {
		return a.path(a.cfg.Workspace)
	}
	return a.root
}

func (a *app) locker() serial.Locker {
	if a.cfg.LockDir != "" {
		return serial.Locker{Dir: a.path(a.cfg.LockDir)}
	}
	return serial.DefaultLocker()
}

// toolRunner echoes tool output live at debug level.
func (a *app) toolRunner(env []string) *runner.Exec {
	r := &runner.Exec{Env: env}
	if logger.ParseLevel(a.cfg.LogLevel) <= logger.ParseLevel(logger.DebugLevel) {
		r.Echo = a.stderr
	}
	return r
}

func (a *app) engine() *docker.Engine {
	return docker.New(a.toolRunner(nil), a.log)
}

// flashTool returns the host flasher, running inside the workspace's Python
// venv when one provides the tool.
func (a *app) flashTool() *flash.Tool {
	tool := "esptool.py"
	if t, err := a.targets.Get(a.cfg.Target); err == nil && t.Flash.Tool != "" {
		tool = t.Flash.Tool
	}
	env := runner.HostEnv(a.mount(), a.cfg.VenvPath, tool)
	return flash.NewTool(a.toolRunner(env), a.log)
}

func (a *app) orchestrator() (*workflow.Orchestrator, error) {
	return workflow.New(workflow.Config{
		Runtime:       a.engine(),
		Flasher:       a.flashTool(),
		Locker:        a.locker(),
		Store:         a.store,
		LockFile:      filepath.Join(a.store.Root(), "workflow.lock"),
		Metrics:       a.metrics,
		Log:           a.log,
		DockerContext: a.path(a.cfg.DockerContext),
	})
}

// finish flushes metrics and the logger after a command.
func (a *app) finish() {
	if a.metrics != nil && a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.path(a.cfg.MetricsFile)); err != nil {
			a.log.Warnw("failed to write metrics", "file", a.cfg.MetricsFile, "error", err)
		}
	}
	if a.log != nil {
		a.log.Sync()
	}
}

func (a *app) lookupTarget(name string) (target.Target, error) {
	t, err := a.targets.Get(name)
	if err != nil {
		return target.Target{}, usageError{err}
	}
	return t, nil
}
