package cli

import (
	"github.com/spf13/cobra"

	"github.com/buckleypaul/zflow/internal/bridge"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		allow []string
	)

	cmd := &cobra.Command{
		Use:   "serve <port>",
		Short: "Expose a serial port over TCP for tools inside the container",
		Long: "Bridges a host serial port to one TCP client at a time. The port is opened\n" +
			"only while a client is connected, so flash and monitor can use it in between.",
		Args: args(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, argv []string) error {
			srv, err := bridge.New(bridge.Config{
				Port:     argv[0],
				BaudRate: a.cfg.BaudRate,
				Addr:     addr,
				Allow:    allow,
				Locker:   a.locker(),
				Log:      a.log,
			})
			if err != nil {
				return usageError{err}
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", bridge.DefaultAddr, "TCP listen address")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "client IPs or CIDRs allowed to connect (default loopback)")
	return cmd
}
