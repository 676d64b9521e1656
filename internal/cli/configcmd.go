package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change zflow settings",
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigSetCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  args(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, argv []string) error {
			c := a.cfg
			values := map[string]string{
				"target":          c.Target,
				"workspace":       c.Workspace,
				"board":           c.Board,
				"baud_rate":       fmt.Sprint(c.BaudRate),
				"flash_baud_rate": fmt.Sprint(c.FlashBaudRate),
				"docker_context":  c.DockerContext,
				"targets_file":    c.TargetsFile,
				"state_dir":       c.StateDir,
				"lock_dir":        c.LockDir,
				"venv_path":       c.VenvPath,
				"log_level":       c.LogLevel,
				"metrics_file":    c.MetricsFile,
			}
			for _, k := range config.Keys {
				a.out.Field(k, values[k])
			}
			return nil
		},
	}
}

func newConfigSetCmd(a *app) *cobra.Command {
	var global bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting in the workspace (or global) config file",
		Args:  args(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			err := config.Set(a.root, global, argv[0], argv[1])
			if errors.Is(err, config.ErrUnknownKey) {
				return usageError{err}
			}
			if err != nil {
				return err
			}
			a.out.Success("%s = %s", argv[0], argv[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "write ~/.config/zflow/config.json instead")
	return cmd
}
