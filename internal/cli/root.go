package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/ui"
	"github.com/buckleypaul/zflow/internal/workflow"
)

// newRootCmd builds the command tree. Configuration is resolved before any
// subcommand runs.
func newRootCmd(a *app, version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "zflow",
		Short:         "Build, flash and monitor Zephyr firmware with a containerized toolchain",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	f := root.PersistentFlags()
	f.String("target", "", "target profile (default espressif)")
	f.String("workspace", "", "host directory to mount into the container")
	f.String("board", "", "board used when build-firmware is given none")
	f.Int("baud-rate", 0, "serial monitor baud rate")
	f.Int("flash-baud-rate", 0, "flashing baud rate (target default when 0)")
	f.String("docker-context", "", "directory holding the Dockerfiles")
	f.String("targets-file", "", "YAML file replacing the built-in targets")
	f.String("state-dir", "", "directory for state and history")
	f.String("lock-dir", "", "directory for serial port lock files")
	f.String("venv-path", "", "Python venv providing the flashing tool")
	f.String("log-level", "", "debug, info, warn or error")
	f.String("metrics-file", "", "write Prometheus metrics to this file")

	root.AddCommand(
		newBuildImageCmd(a),
		newRunCmd(a),
		newBuildFirmwareCmd(a),
		newFlashCmd(a),
		newMonitorCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newPortsCmd(a),
		newBoardsCmd(a),
		newProjectsCmd(a),
		newTargetsCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs zflow with args and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a, version)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	a.finish()
	if err != nil {
		report(ui.NewPrinter(stderr), err)
	}
	return ExitCode(err, ctx.Err() != nil)
}

// report prints err with the failing tool's output and a hint when the
// error carries them.
func report(p *ui.Printer, err error) {
	var se *workflow.StageError
	if errors.As(err, &se) {
		msg := se.Kind.Error()
		if se.Err != nil {
			msg += ": " + se.Err.Error()
		}
		p.Failure(se.Stage, workflow.KindName(se), msg, se.Output, se.Hint)
		return
	}
	p.Failure("error", workflow.KindName(err), err.Error(), "", "")
}

// args wraps a cobra positional-argument validator so violations exit with
// the usage code.
func args(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, a []string) error {
		if err := v(cmd, a); err != nil {
			return usageError{fmt.Errorf("%s: %w", cmd.CommandPath(), err)}
		}
		return nil
	}
}
