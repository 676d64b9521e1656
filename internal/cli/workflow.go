package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/target"
	"github.com/buckleypaul/zflow/internal/west"
	"github.com/buckleypaul/zflow/internal/workflow"
)

func newBuildImageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build-image <target>",
		Short: "Build the toolchain image for a target",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			t, err := a.lookupTarget(argv[0])
			if err != nil {
				return err
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			img, err := o.BuildImage(cmd.Context(), t)
			if err != nil {
				return err
			}
			a.out.Success("image %s built for %s", img.Tag, t.Name)
			a.out.Field("id", img.ID)
			return nil
		},
	}
}

func newRunCmd(a *app) *cobra.Command {
	var mountPoint string

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Start the toolchain container with the workspace mounted",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			t, err := a.lookupTarget(argv[0])
			if err != nil {
				return err
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			snap := o.Status()
			var img workflow.ImageRef
			if snap.Image != nil {
				img = *snap.Image
			}
			if snap.Target != nil && snap.Target.Name != t.Name {
				return fmt.Errorf("%w: the current image was built for %s, run build-image %s first",
					workflow.ErrInvalidTransition, snap.Target.Name, t.Name)
			}

			c, err := o.RunContainer(cmd.Context(), img, workflow.WorkspaceMount{
				HostPath:   a.mount(),
				MountPoint: mountPoint,
			})
			if err != nil {
				return err
			}
			a.out.Success("container %s running", c.Name)
			a.out.Field("mount", c.HostPath+" -> "+c.MountPoint)
			for _, p := range c.Ports {
				a.out.Field("port", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mountPoint, "mount-point", "", "container path for the workspace (target default when empty)")
	return cmd
}

func newBuildFirmwareCmd(a *app) *cobra.Command {
	var opts west.BuildOptions

	cmd := &cobra.Command{
		Use:   "build-firmware <project> [board]",
		Short: "Build a Zephyr project inside the running container",
		Args:  args(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			opts.Project = argv[0]
			opts.Board = a.cfg.Board
			if len(argv) == 2 {
				opts.Board = argv[1]
			}

			// Without a running container the orchestrator rejects the
			// empty handle with the right error.
			c, _ := o.Status().ActiveContainer()
			art, err := o.BuildFirmwareWith(cmd.Context(), c, opts)
			if err != nil {
				return err
			}
			a.out.Success("built %s for %s", art.Project, art.Board)
			a.out.Field("artifact", art.Path)
			a.out.Field("size", strconv.FormatInt(art.Size, 10)+" bytes")
			a.out.Field("sha256", art.SHA256)
			a.out.Field("generation", strconv.Itoa(art.Generation))
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Pristine, "pristine", false, "always start from a clean build directory")
	cmd.Flags().StringVar(&opts.Shield, "shield", "", "shield to build with")
	cmd.Flags().StringVar(&opts.CMakeArgs, "cmake-args", "", "extra CMake arguments")
	return cmd
}

func newFlashCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flash <port>",
		Short: "Flash the latest firmware build from the host",
		Args:  args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			snap := o.Status()
			var art workflow.BuildArtifact
			if snap.Artifact != nil {
				art = *snap.Artifact
			}
			// Empty params take the target's flash profile; only the baud
			// rate can be overridden from configuration.
			params := target.FlashParams{BaudRate: a.cfg.FlashBaudRate}
			res, err := o.Flash(cmd.Context(), art, argv[0], params)
			if err != nil {
				return err
			}
			a.out.Success("flashed %s to %s in %s", res.Artifact, res.Port, res.Duration.Round(100*time.Millisecond))
			if res.Verified {
				a.out.Field("verified", "hash of data verified")
			}
			if res.Reset {
				a.out.Field("reset", "device reset")
			}
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Remove the toolchain container",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			name := ""
			if c := o.Status().Container; c != nil {
				name = c.Name
			}
			if err := o.Stop(cmd.Context()); err != nil {
				return err
			}
			if name == "" {
				a.out.Warn("no container to stop")
				return nil
			}
			a.out.Success("container %s removed", name)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the workflow state",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			s := o.Status()

			a.out.Stage("zflow", s.Stage.String())
			a.out.Field("workspace", a.mount())
			if s.Target != nil {
				a.out.Field("target", s.Target.Name)
			}
			if s.Image != nil {
				a.out.Field("image", s.Image.Tag+" "+shortID(s.Image.ID))
			}
			if c, ok := s.ActiveContainer(); ok {
				a.out.Field("container", c.Name+" "+shortID(c.ID))
			} else if s.Container != nil {
				a.out.Field("container", s.Container.Name+" (stale, run stop)")
			}
			if s.Artifact != nil {
				a.out.Field("artifact", fmt.Sprintf("%s (generation %d)", s.Artifact.Path, s.Artifact.Generation))
				a.out.Field("board", s.Artifact.Board)
			}
			if s.MonitorPort != "" {
				a.out.Field("monitoring", s.MonitorPort)
			}
			if !s.UpdatedAt.IsZero() {
				a.out.Field("updated", s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func shortID(id string) string {
	const prefix = "sha256:"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		id = id[len(prefix):]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
