package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/runner"
	"github.com/buckleypaul/zflow/internal/serial"
	"github.com/buckleypaul/zflow/internal/west"
	"github.com/buckleypaul/zflow/internal/workflow"
)

func newPortsCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports on the host",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			shown := 0
			for _, p := range ports {
				if !p.IsUSB && !all {
					continue
				}
				shown++
				desc := p.Product
				if p.IsUSB {
					desc = strings.TrimSpace(fmt.Sprintf("%s:%s %s", p.VID, p.PID, p.Product))
				}
				a.out.Field(p.Name, desc)
			}
			if shown == 0 {
				a.out.Warn("no serial ports found")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include non-USB ports")
	return cmd
}

func newBoardsCmd(a *app) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List boards known to the toolchain in the running container",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			c, ok := o.Status().ActiveContainer()
			if !ok {
				return fmt.Errorf("boards: %w: no container running", workflow.ErrInvalidTransition)
			}

			engine := a.engine()
			exec := func(ctx context.Context, command ...string) (runner.Result, error) {
				return engine.Exec(ctx, c, c.MountPoint, command...)
			}
			boards, err := west.ListBoards(cmd.Context(), exec)
			if err != nil {
				return err
			}
			for _, b := range boards {
				if filter != "" && !strings.Contains(b.Name, filter) {
					continue
				}
				a.out.Line(b.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only boards whose name contains this text")
	return cmd
}

func newProjectsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List Zephyr projects in the workspace",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			projects, err := west.ListProjects(a.mount())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				a.out.Warn("no Zephyr projects under %s", a.mount())
			}
			for _, p := range projects {
				a.out.Line(p.Path)
			}
			return nil
		},
	}
}

func newTargetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List target profiles",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			for _, name := range a.targets.Names() {
				t, _ := a.targets.Get(name)
				a.out.Heading(name)
				a.out.Field("image", t.Image)
				a.out.Field("board", t.DefaultBoard)
				a.out.Field("flash", fmt.Sprintf("%s --chip %s @ %d", t.Flash.Tool, t.Flash.Chip, t.Flash.BaudRate))
				a.out.Field("monitor", fmt.Sprintf("%d baud", t.BaudRate))
			}
			return nil
		},
	}
}
