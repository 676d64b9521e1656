// Package west wraps the Zephyr meta-tool: build command lines, board
// listings, project discovery and workspace detection.
package west

import (
	"context"
	"path"
	"strings"

	"github.com/buckleypaul/zflow/internal/runner"
)

// ExecFunc runs a command in the build environment (normally inside the
// toolchain container).
type ExecFunc func(ctx context.Context, cmd ...string) (runner.Result, error)

// BuildOptions configures a `west build` invocation.
type BuildOptions struct {
	Project   string // Project path relative to the workspace root
	Board     string
	Shield    string
	Pristine  bool
	CMakeArgs string
}

// BuildDir returns the build directory used for a project: <project>/build.
func BuildDir(project string) string {
	return path.Join(path.Clean(project), "build")
}

// BuildArgs returns the full `west build` command line.
func BuildArgs(opts BuildOptions) []string {
	pristine := "auto"
	if opts.Pristine {
		pristine = "always"
	}
	args := []string{"west", "build", "-p", pristine, "-b", opts.Board, "-d", BuildDir(opts.Project)}
	if shield := strings.TrimSpace(opts.Shield); shield != "" {
		args = append(args, "--shield", shield)
	}
	args = append(args, path.Clean(opts.Project))
	if cmake := strings.Fields(opts.CMakeArgs); len(cmake) > 0 {
		args = append(args, "--")
		args = append(args, cmake...)
	}
	return args
}
