// Package workflow sequences the image-build, container-run, firmware-build,
// flash and monitor stages, enforcing which stage may follow which and
// surfacing every tool failure as a typed StageError.
package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/buckleypaul/zflow/internal/docker"
	"github.com/buckleypaul/zflow/internal/flash"
	"github.com/buckleypaul/zflow/internal/metrics"
	"github.com/buckleypaul/zflow/internal/runner"
	"github.com/buckleypaul/zflow/internal/serial"
	"github.com/buckleypaul/zflow/internal/store"
	"github.com/buckleypaul/zflow/internal/target"
	"github.com/buckleypaul/zflow/internal/west"
)

// Stage names used in errors, logs and metrics.
const (
	StageBuildImage    = "build-image"
	StageRunContainer  = "run"
	StageBuildFirmware = "build-firmware"
	StageFlash         = "flash"
	StageMonitor       = "monitor"
	StageStop          = "stop"
)

// ContainerRuntime builds images and runs commands inside the toolchain
// container. Nothing that touches hardware goes through it.
type ContainerRuntime interface {
	Build(ctx context.Context, req docker.BuildRequest) (docker.Image, runner.Result, error)
	Run(ctx context.Context, req docker.RunRequest) (docker.Container, runner.Result, error)
	Exec(ctx context.Context, c docker.Container, workdir string, cmd ...string) (runner.Result, error)
	Remove(ctx context.Context, c docker.Container) error
}

// Flasher writes firmware from the host.
type Flasher interface {
	Write(ctx context.Context, req flash.Request) flash.Report
}

// Persistence stores the workflow snapshot and history between runs.
type Persistence interface {
	LoadState(v any) (bool, error)
	SaveState(v any) error
	AddImage(r store.ImageRecord) error
	AddBuild(r store.BuildRecord) error
	AddFlash(r store.FlashRecord) error
	AddSerialLog(r store.SerialLog) error
}

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Runtime ContainerRuntime
	Flasher Flasher
	// OpenPort opens serial ports on the host. Defaults to serial.Open.
	OpenPort serial.Opener
	Locker   serial.Locker
	// Store is optional; without it state lives only in memory.
	Store Persistence
	// LockFile guards the workflow across processes sharing Store. Empty
	// means stages are only serialized within this process.
	LockFile string
	Metrics *metrics.Recorder
	Log     *zap.SugaredLogger
	// DockerContext is the directory holding the targets' Dockerfiles.
	DockerContext string
	Now           func() time.Time
}

// Orchestrator runs one workflow instance. Stages never overlap: a call
// made while another stage (or a monitor session) is active fails with
// ErrBusy.
type Orchestrator struct {
	runtime  ContainerRuntime
	flasher  Flasher
	openPort serial.Opener
	locker   serial.Locker
	store    Persistence
	metrics  *metrics.Recorder
	log      *zap.SugaredLogger
	ctxDir   string
	now      func() time.Time
	lockFile string

	busy sync.Mutex
	held *serial.Lock

	mu   sync.Mutex
	snap Snapshot
}

// New builds an Orchestrator and restores any persisted snapshot.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Runtime == nil || cfg.Flasher == nil {
		return nil, errors.New("workflow: runtime and flasher are required")
	}
	o := &Orchestrator{
		runtime:  cfg.Runtime,
		flasher:  cfg.Flasher,
		openPort: cfg.OpenPort,
		locker:   cfg.Locker,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		ctxDir:   cfg.DockerContext,
		now:      cfg.Now,
		lockFile: cfg.LockFile,
	}
	if o.openPort == nil {
		o.openPort = serial.Open
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if o.now == nil {
		o.now = time.Now
	}

	if err := o.reload(); err != nil {
		return nil, err
	}
	// A Monitoring stage on disk whose workflow lock is free means the
	// process holding the port died. While the lock is held it is live.
	if o.snap.Stage == Monitoring {
		lock, err := o.lockWorkflow()
		if err == nil {
			o.snap.Stage = Flashed
			o.snap.MonitorPort = ""
			lock.Release()
		}
	}
	return o, nil
}

// reload replaces the in-memory snapshot with the persisted one, if any.
func (o *Orchestrator) reload() error {
	if o.store == nil {
		return nil
	}
	var snap Snapshot
	found, err := o.store.LoadState(&snap)
	if err != nil {
		return fmt.Errorf("load workflow state: %w", err)
	}
	if found {
		o.mu.Lock()
		o.snap = snap
		o.mu.Unlock()
	}
	return nil
}

func (o *Orchestrator) lockWorkflow() (*serial.Lock, error) {
	if o.lockFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(o.lockFile), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return serial.LockFile(o.lockFile)
}

// Status returns a copy of the current snapshot.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap.clone()
}

// enter claims the workflow for one stage. Across processes the claim is the
// workflow lock file; the snapshot is reloaded under it so a stage always
// starts from what the previous holder persisted.
func (o *Orchestrator) enter() error {
	if !o.busy.TryLock() {
		return ErrBusy
	}
	lock, err := o.lockWorkflow()
	if err != nil {
		o.busy.Unlock()
		if errors.Is(err, serial.ErrLocked) {
			return fmt.Errorf("%w: workflow held by another process: %v", ErrBusy, err)
		}
		return err
	}
	if err := o.reload(); err != nil {
		lock.Release()
		o.busy.Unlock()
		return err
	}
	o.mu.Lock()
	if o.snap.Stage == Monitoring {
		o.snap.Stage = Flashed
		o.snap.MonitorPort = ""
	}
	o.mu.Unlock()
	o.held = lock
	return nil
}

func (o *Orchestrator) leave() {
	if err := o.held.Release(); err != nil {
		o.log.Warnw("failed to release workflow lock", "error", err)
	}
	o.held = nil
	o.busy.Unlock()
}

// update mutates the snapshot under the lock and persists it.
func (o *Orchestrator) update(fn func(s *Snapshot)) {
	o.mu.Lock()
	fn(&o.snap)
	o.snap.UpdatedAt = o.now()
	snap := o.snap.clone()
	o.mu.Unlock()

	if o.store == nil {
		return
	}
	if err := o.store.SaveState(snap); err != nil {
		o.log.Warnw("failed to persist workflow state", "error", err)
	}
}

func (o *Orchestrator) observe(stage string, start time.Time, err error) {
	kind := ""
	if err != nil {
		kind = KindName(err)
		if kind == "" {
			kind = "Other"
		}
	}
	o.metrics.ObserveStage(stage, o.now().Sub(start), kind)
}

func (o *Orchestrator) record(what string, fn func(Persistence) error) {
	if o.store == nil {
		return
	}
	if err := fn(o.store); err != nil {
		o.log.Warnw("failed to record history", "record", what, "error", err)
	}
}

// BuildImage builds the toolchain image for t. Rebuilding with unchanged
// inputs yields the same image and leaves later stages valid; a different
// image invalidates everything after ImageBuilt.
func (o *Orchestrator) BuildImage(ctx context.Context, t target.Target) (img ImageRef, err error) {
	if err := o.enter(); err != nil {
		return ImageRef{}, err
	}
	defer o.leave()
	start := o.now()
	defer func() { o.observe(StageBuildImage, start, err) }()

	log := o.log.With("stage", StageBuildImage, "target", t.Name)
	log.Infow("building image", "tag", t.Image, "dockerfile", t.Dockerfile)

	req := docker.BuildRequest{Tag: t.Image, Dockerfile: t.Dockerfile, Context: o.ctxDir}
	img, res, buildErr := o.runtime.Build(ctx, req)
	o.record("image", func(p Persistence) error {
		return p.AddImage(store.ImageRecord{
			RunID:     o.Status().RunID,
			Target:    t.Name,
			Tag:       t.Image,
			ImageID:   img.ID,
			Timestamp: start,
			Success:   buildErr == nil,
			Duration:  res.Duration.String(),
		})
	})

	if buildErr != nil {
		o.update(func(s *Snapshot) { s.reset(NotBuilt) })
		log.Errorw("image build failed", "error", buildErr)
		return ImageRef{}, stageErr(StageBuildImage, ErrBuildFailure, res.Output, buildErr)
	}

	o.update(func(s *Snapshot) {
		unchanged := s.Stage >= ImageBuilt && s.Image != nil && s.Target != nil &&
			s.Target.Name == t.Name && s.Image.ID != "" && s.Image.ID == img.ID
		if unchanged {
			return
		}
		s.reset(NotBuilt)
		s.RunID = store.NewID()
		s.Stage = ImageBuilt
		tc := t
		s.Target = &tc
		s.Image = &img
	})
	log.Infow("image ready", "id", img.ID)
	return img, nil
}

// RunContainer starts the long-lived toolchain container with mount bound
// read-write as its working directory. The container must later be torn
// down with Stop.
func (o *Orchestrator) RunContainer(ctx context.Context, img ImageRef, mount WorkspaceMount) (c ContainerHandle, err error) {
	start := o.now()
	defer func() { o.observe(StageRunContainer, start, err) }()

	hostPath, err := checkMount(mount.HostPath)
	if err != nil {
		return ContainerHandle{}, err
	}

	if err := o.enter(); err != nil {
		return ContainerHandle{}, err
	}
	defer o.leave()

	snap := o.Status()
	if snap.Stage < ImageBuilt || snap.Image == nil || snap.Target == nil {
		return ContainerHandle{}, fmt.Errorf("%s: %w: no image built (stage %s)", StageRunContainer, ErrInvalidTransition, snap.Stage)
	}
	if !sameImage(*snap.Image, img) {
		return ContainerHandle{}, fmt.Errorf("%s: %w: image %s is not the current build %s", StageRunContainer, ErrInvalidTransition, img.Tag, snap.Image.Tag)
	}

	t := *snap.Target
	req := docker.RunRequest{
		Name:       "zflow-" + t.Name,
		Image:      snap.Image.Tag,
		HostPath:   hostPath,
		MountPoint: mount.MountPoint,
		Ports:      t.Ports,
	}
	if req.MountPoint == "" {
		req.MountPoint = t.MountPoint
	}

	log := o.log.With("stage", StageRunContainer, "target", t.Name)
	if prev := snap.Container; prev != nil && prev.Name != req.Name {
		if err := o.runtime.Remove(ctx, *prev); err != nil {
			log.Warnw("failed to remove previous container", "name", prev.Name, "error", err)
		}
	}

	o.update(func(s *Snapshot) {
		s.reset(ImageBuilt)
		s.Container = nil
	})

	log.Infow("starting container", "mount", hostPath, "mount_point", req.MountPoint)
	c, res, runErr := o.runtime.Run(ctx, req)
	if runErr != nil {
		return ContainerHandle{}, stageErr(StageRunContainer, ErrContainerFailure, res.Output, runErr)
	}

	o.update(func(s *Snapshot) {
		s.Stage = ContainerRunning
		s.Container = &c
	})
	return c, nil
}

func checkMount(hostPath string) (string, error) {
	if strings.TrimSpace(hostPath) == "" {
		return "", stageErr(StageRunContainer, ErrMountError, "", errors.New("no workspace path given"))
	}
	abs, err := filepath.Abs(hostPath)
	if err != nil {
		return "", stageErr(StageRunContainer, ErrMountError, "", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", stageErr(StageRunContainer, ErrMountError, "", fmt.Errorf("workspace %s: %w", abs, err))
	}
	if !info.IsDir() {
		return "", stageErr(StageRunContainer, ErrMountError, "", fmt.Errorf("workspace %s is not a directory", abs))
	}
	return abs, nil
}

func sameImage(current, given ImageRef) bool {
	if given.ID != "" && current.ID != "" {
		return given.ID == current.ID
	}
	return given.Tag == current.Tag
}

// BuildFirmware builds project for board inside the container.
func (o *Orchestrator) BuildFirmware(ctx context.Context, c ContainerHandle, project, board string) (BuildArtifact, error) {
	return o.BuildFirmwareWith(ctx, c, west.BuildOptions{Project: project, Board: board})
}

// BuildFirmwareWith is BuildFirmware with the full set of west options.
// On success the binary is verified to exist at
// <project>/build/<toolchain>/<binary> on the host side of the mount.
func (o *Orchestrator) BuildFirmwareWith(ctx context.Context, c ContainerHandle, opts west.BuildOptions) (a BuildArtifact, err error) {
	if err := o.enter(); err != nil {
		return BuildArtifact{}, err
	}
	defer o.leave()
	start := o.now()
	defer func() { o.observe(StageBuildFirmware, start, err) }()

	snap := o.Status()
	active, ok := snap.ActiveContainer()
	if !ok {
		return BuildArtifact{}, fmt.Errorf("%s: %w: no container running (stage %s)", StageBuildFirmware, ErrInvalidTransition, snap.Stage)
	}
	if c.ID != active.ID {
		return BuildArtifact{}, fmt.Errorf("%s: %w: container %s is not the running workspace container", StageBuildFirmware, ErrInvalidTransition, c.Name)
	}

	project, err := cleanProject(opts.Project)
	if err != nil {
		return BuildArtifact{}, err
	}
	opts.Project = project
	t := *snap.Target
	if opts.Board == "" {
		opts.Board = t.DefaultBoard
	}

	o.update(func(s *Snapshot) { s.reset(ContainerRunning) })

	log := o.log.With("stage", StageBuildFirmware, "project", project, "board", opts.Board)
	log.Infow("building firmware")

	res, buildErr := o.runtime.Exec(ctx, active, active.MountPoint, west.BuildArgs(opts)...)
	rel := t.ArtifactPath(project)
	historyRecord := store.BuildRecord{
		RunID:     snap.RunID,
		Board:     opts.Board,
		App:       project,
		Timestamp: start,
		Duration:  res.Duration.String(),
	}
	if buildErr != nil {
		o.record("build", func(p Persistence) error { return p.AddBuild(historyRecord) })
		log.Errorw("firmware build failed", "exit_code", res.ExitCode)
		return BuildArtifact{}, stageErr(StageBuildFirmware, ErrFirmwareBuildFailure, res.Output, buildErr)
	}

	hostPath := filepath.Join(active.HostPath, filepath.FromSlash(rel))
	sum, size, err := digest(hostPath)
	if err != nil {
		o.record("build", func(p Persistence) error { return p.AddBuild(historyRecord) })
		return BuildArtifact{}, stageErr(StageBuildFirmware, ErrMissingArtifact, res.Output,
			fmt.Errorf("build reported success but %s is missing: %w", rel, err))
	}

	a = BuildArtifact{
		Target:     t.Name,
		Board:      opts.Board,
		Project:    project,
		Path:       rel,
		HostPath:   hostPath,
		SHA256:     sum,
		Size:       size,
		Generation: snap.Generation + 1,
		BuiltAt:    o.now(),
	}
	o.update(func(s *Snapshot) {
		s.Stage = FirmwareBuilt
		s.Generation = a.Generation
		ac := a
		s.Artifact = &ac
	})

	historyRecord.Success = true
	historyRecord.Artifacts = []string{rel}
	historyRecord.Generation = a.Generation
	o.record("build", func(p Persistence) error { return p.AddBuild(historyRecord) })
	log.Infow("firmware built", "artifact", rel, "size", size, "generation", a.Generation)
	return a, nil
}

// cleanProject normalizes a project path and rejects paths that leave the
// workspace mount.
func cleanProject(project string) (string, error) {
	p := path.Clean(filepath.ToSlash(strings.TrimSpace(project)))
	if p == "" || p == "." {
		return "", fmt.Errorf("%s: %w: project path is required", StageBuildFirmware, ErrInvalidArgument)
	}
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%s: %w: project %q must be relative to the workspace", StageBuildFirmware, ErrInvalidArgument, project)
	}
	return p, nil
}

func digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if info.IsDir() {
		return "", 0, fmt.Errorf("%s is a directory", path)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), info.Size(), nil
}

// Flash writes a from the host. It refuses artifacts that are not from the
// latest firmware build or whose file changed since, and it holds port
// exclusively for the duration of the write. A started write is never
// cancelled.
func (o *Orchestrator) Flash(ctx context.Context, a BuildArtifact, port string, params target.FlashParams) (result FlashResult, err error) {
	if err := o.enter(); err != nil {
		return FlashResult{}, err
	}
	defer o.leave()
	start := o.now()
	defer func() { o.observe(StageFlash, start, err) }()

	snap := o.Status()
	if err := validateArtifact(snap, a); err != nil {
		return FlashResult{}, err
	}
	if params.Tool == "" && snap.Target != nil {
		params = snap.Target.Flash.WithBaudRate(params.BaudRate)
	}

	lock, err := o.locker.Acquire(port)
	if err != nil {
		return FlashResult{}, stageErr(StageFlash, ErrPortUnavailable, "", err)
	}
	defer lock.Release()

	o.update(func(s *Snapshot) { s.reset(FirmwareBuilt) })

	log := o.log.With("stage", StageFlash, "port", port, "artifact", a.Path)
	report := o.flasher.Write(context.WithoutCancel(ctx), flash.Request{Port: port, Image: a.HostPath, Params: params})

	flashRecord := store.FlashRecord{
		RunID:     snap.RunID,
		Board:     a.Board,
		Port:      port,
		Artifact:  a.Path,
		Timestamp: start,
		Success:   report.Outcome == flash.Completed,
		Duration:  report.Duration.String(),
	}

	cause := fmt.Errorf("%s exited %d", params.Tool, report.ExitCode)
	if report.Err != nil {
		cause = fmt.Errorf("%s: %w", params.Tool, report.Err)
	}
	switch report.Outcome {
	case flash.Completed:
	case flash.PortUnavailable:
		err = stageErr(StageFlash, ErrPortUnavailable, report.Output, cause)
	default:
		err = stageErr(StageFlash, ErrFlashToolError, report.Output, cause)
	}
	if err != nil {
		flashRecord.Error = KindName(err)
		o.record("flash", func(p Persistence) error { return p.AddFlash(flashRecord) })
		log.Errorw("flash failed", "exit_code", report.ExitCode, "kind", KindName(err), "error", cause)
		return FlashResult{}, err
	}

	o.update(func(s *Snapshot) { s.Stage = Flashed })
	o.record("flash", func(p Persistence) error { return p.AddFlash(flashRecord) })
	log.Infow("flash complete", "verified", report.Verified, "duration", report.Duration)
	return FlashResult{
		Port:     port,
		Artifact: a.Path,
		Output:   report.Output,
		Duration: report.Duration,
		Verified: report.Verified,
		Reset:    report.Reset,
	}, nil
}

func validateArtifact(snap Snapshot, a BuildArtifact) error {
	missing := func(format string, args ...any) error {
		return stageErr(StageFlash, ErrMissingArtifact, "", fmt.Errorf(format, args...))
	}
	if snap.Stage < FirmwareBuilt || snap.Artifact == nil {
		return missing("no firmware has been built (stage %s)", snap.Stage)
	}
	if a.Generation != snap.Artifact.Generation || a.HostPath != snap.Artifact.HostPath {
		return missing("artifact %s is stale: generation %d, latest build is %d", a.Path, a.Generation, snap.Artifact.Generation)
	}
	sum, _, err := digest(a.HostPath)
	if err != nil {
		return missing("artifact %s: %w", a.Path, err)
	}
	if sum != a.SHA256 {
		return missing("artifact %s changed on disk since it was built", a.Path)
	}
	return nil
}

// Stop tears down the recorded container and returns the workflow to
// ImageBuilt.
func (o *Orchestrator) Stop(ctx context.Context) (err error) {
	if err := o.enter(); err != nil {
		return err
	}
	defer o.leave()
	start := o.now()
	defer func() { o.observe(StageStop, start, err) }()

	snap := o.Status()
	if snap.Container == nil {
		return nil
	}
	if err := o.runtime.Remove(ctx, *snap.Container); err != nil {
		return stageErr(StageStop, ErrContainerFailure, "", err)
	}
	o.update(func(s *Snapshot) {
		s.reset(ImageBuilt)
		s.Container = nil
	})
	o.log.Infow("container removed", "name", snap.Container.Name)
	return nil
}
