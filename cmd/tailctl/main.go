package main

import (
	"fmt"
	"os"

	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/conn"
	"tailctl/cmd/tailctl/exitnode"
	"tailctl/cmd/tailctl/history"
	"tailctl/cmd/tailctl/ipcmd"
	statuscmd "tailctl/cmd/tailctl/status"
	"tailctl/cmd/tailctl/ui"
	watchcmd "tailctl/cmd/tailctl/watch"
	"tailctl/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	var (
		flags         cmdutil.RootFlags
		noInteraction bool
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "tailctl",
		Short:         "Tailscale connection and exit-node manager",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(noInteraction)

			level := logging.LevelWarn
			if flags.Debug {
				level = logging.LevelDebug
			} else if cfg, err := flags.Config(); err == nil && cfg.LogLevel != "" {
				level = cfg.LogLevel
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&flags.Binary, "binary", "", "Tailscale executable to use")
	root.PersistentFlags().BoolVar(&noInteraction, "no-interaction", false, "Disable spinners and colors")

	root.AddCommand(statuscmd.Cmd(&flags))
	root.AddCommand(conn.UpCmd(&flags))
	root.AddCommand(conn.DownCmd(&flags))
	root.AddCommand(exitnode.Cmd(&flags))
	root.AddCommand(ipcmd.Cmd())
	root.AddCommand(watchcmd.Cmd(&flags))
	root.AddCommand(history.Cmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
