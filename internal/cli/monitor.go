package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/tui"
	"github.com/buckleypaul/zflow/internal/workflow"
)

func newMonitorCmd(a *app) *cobra.Command {
	var (
		fullscreen bool
		saveLog    bool
		timestamps bool
	)

	cmd := &cobra.Command{
		Use:   "monitor <port> [baud]",
		Short: "Stream serial output from the flashed device until interrupted",
		Args:  args(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			port := argv[0]
			baud := a.cfg.BaudRate
			if len(argv) == 2 {
				n, err := strconv.Atoi(argv[1])
				if err != nil || n <= 0 {
					return usageError{fmt.Errorf("invalid baud rate %q", argv[1])}
				}
				baud = n
			}

			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			var opts []workflow.MonitorOption
			if saveLog {
				dir, err := a.store.LogsDir()
				if err != nil {
					return err
				}
				name := fmt.Sprintf("serial-%s-%s.log", time.Now().Format("20060102-150405"), sanitize(port))
				opts = append(opts, workflow.WithLogFile(filepath.Join(dir, name)))
			}

			ctx := cmd.Context()
			session, err := o.Monitor(ctx, port, baud, opts...)
			if err != nil {
				return err
			}
			defer session.Close()
			a.log.Infow("monitoring, press Ctrl-C to stop", "port", port, "baud", baud)

			if fullscreen {
				if err := tui.RunMonitor(ctx, session, fmt.Sprintf("%s @ %d", port, baud)); err != nil {
					return err
				}
				session.Close()
				return session.Err()
			}

			for line := range session.Lines() {
				if timestamps {
					fmt.Fprintf(a.stdout, "%s %s\n", line.Time.Format("15:04:05.000"), line.Text)
				} else {
					fmt.Fprintln(a.stdout, line.Text)
				}
			}
			return session.Err()
		},
	}
	cmd.Flags().BoolVar(&fullscreen, "tui", false, "full-screen scrollable monitor")
	cmd.Flags().BoolVar(&saveLog, "log", false, "also write the output to .zflow/logs")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "prefix each line with the time it arrived")
	return cmd
}

func sanitize(port string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, strings.TrimPrefix(port, "/dev/"))
}
