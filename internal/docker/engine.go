// Package docker drives the container runtime CLI: image builds, long-lived
// workspace containers and commands executed inside them.
package docker

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/buckleypaul/zflow/internal/runner"
)

const (
	dockerCommand = "docker"
	podmanCommand = "podman"
)

// Image is a built, tagged image.
type Image struct {
	Tag string `json:"tag"`
	ID  string `json:"id"`
}

// BuildRequest selects the Dockerfile and context for an image build.
type BuildRequest struct {
	Tag        string
	Dockerfile string
	Context    string
}

// RunRequest describes a long-lived workspace container.
type RunRequest struct {
	Name       string
	Image      string
	HostPath   string
	MountPoint string
	Ports      []string
	// Command overrides the image's default command when non-empty.
	Command []string
}

// Container is a running workspace container.
type Container struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	HostPath   string   `json:"host_path"`
	MountPoint string   `json:"mount_point"`
	Ports      []string `json:"ports,omitempty"`
}

// Engine runs docker (or podman) commands through a runner.
type Engine struct {
	runner runner.Runner
	cmd    string
	log    *zap.SugaredLogger
}

// New returns an Engine using docker, or podman when only podman is installed.
func New(r runner.Runner, log *zap.SugaredLogger) *Engine {
	cmd := dockerCommand
	if _, err := exec.LookPath(podmanCommand); err == nil {
		if _, err := exec.LookPath(dockerCommand); err != nil {
			cmd = podmanCommand
		}
	}
	return NewWithCommand(r, cmd, log)
}

// NewWithCommand returns an Engine invoking the given runtime binary.
func NewWithCommand(r runner.Runner, cmd string, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{runner: r, cmd: cmd, log: log.Named("docker")}
}

// Command returns the runtime binary name.
func (e *Engine) Command() string { return e.cmd }

func (e *Engine) run(ctx context.Context, args ...string) (runner.Result, error) {
	e.log.Debugw("running", "cmd", e.cmd, "args", args)
	res := e.runner.Run(ctx, e.cmd, args...)
	return res, runner.Check(res, e.cmd, args...)
}

// BuildArgs returns the arguments for an image build.
func BuildArgs(req BuildRequest) []string {
	dockerfile := req.Dockerfile
	if !filepath.IsAbs(dockerfile) && req.Context != "" {
		dockerfile = filepath.Join(req.Context, dockerfile)
	}
	return []string{"build", "-t", req.Tag, "-f", dockerfile, req.Context}
}

// Build builds (or reuses from cache) the tagged image and resolves its ID.
// The returned Result always carries the build tool's output.
func (e *Engine) Build(ctx context.Context, req BuildRequest) (Image, runner.Result, error) {
	res, err := e.run(ctx, BuildArgs(req)...)
	if err != nil {
		return Image{}, res, err
	}

	id, err := runner.Output(ctx, e.runner, e.cmd, "image", "inspect", "--format", "{{.Id}}", req.Tag)
	if err != nil {
		return Image{}, res, err
	}
	return Image{Tag: req.Tag, ID: id}, res, nil
}

// RunArgs returns the arguments for starting a detached workspace container.
// The mount is read-write and doubles as the working directory.
func RunArgs(req RunRequest) []string {
	args := []string{
		"run", "-d",
		"--name", req.Name,
		"-v", fmt.Sprintf("%s:%s:rw", req.HostPath, req.MountPoint),
		"-w", req.MountPoint,
	}
	for _, p := range req.Ports {
		args = append(args, "-p", p)
	}
	args = append(args, req.Image)
	return append(args, req.Command...)
}

// Run replaces any container with the same name and starts a new one.
func (e *Engine) Run(ctx context.Context, req RunRequest) (Container, runner.Result, error) {
	// A leftover container from a previous run would make the name collide.
	if _, err := e.run(ctx, "rm", "-f", req.Name); err != nil {
		e.log.Debugw("no previous container removed", "name", req.Name, "error", err)
	}

	res, err := e.run(ctx, RunArgs(req)...)
	if err != nil {
		return Container{}, res, err
	}

	c := Container{
		ID:         lastLine(res.Output),
		Name:       req.Name,
		Image:      req.Image,
		HostPath:   req.HostPath,
		MountPoint: req.MountPoint,
		Ports:      append([]string(nil), req.Ports...),
	}

	running, err := e.Running(ctx, c)
	if err != nil {
		return Container{}, res, err
	}
	if !running {
		logs, _ := e.run(ctx, "logs", c.ID)
		res.Output += logs.Output
		return Container{}, res, fmt.Errorf("container %s exited immediately after start", c.Name)
	}

	e.log.Infow("container started", "name", c.Name, "id", shortID(c.ID))
	return c, res, nil
}

// Running reports whether the container is up.
func (e *Engine) Running(ctx context.Context, c Container) (bool, error) {
	state, err := runner.Output(ctx, e.runner, e.cmd, "inspect", "-f", "{{.State.Running}}", c.ref())
	if err != nil {
		return false, err
	}
	return state == "true", nil
}

// Exec runs a command inside the container with workdir as its working
// directory. A non-OK result is returned as a *runner.CommandError.
func (e *Engine) Exec(ctx context.Context, c Container, workdir string, cmd ...string) (runner.Result, error) {
	args := []string{"exec"}
	if workdir != "" {
		args = append(args, "-w", workdir)
	}
	args = append(args, c.ref())
	return e.run(ctx, append(args, cmd...)...)
}

// Remove force-removes the container.
func (e *Engine) Remove(ctx context.Context, c Container) error {
	_, err := e.run(ctx, "rm", "-f", c.ref())
	return err
}

func (c Container) ref() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
