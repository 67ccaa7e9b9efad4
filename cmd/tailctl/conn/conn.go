// Package conn implements the one-shot "up" and "down" commands: issue the
// transition, then wait for the backend to converge before reporting.
package conn

import (
	"context"
	"errors"
	"fmt"

	tailctl "tailctl"
	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/ui"
	"tailctl/internal/engine"

	"github.com/spf13/cobra"
)

// UpCmd returns the "tailctl up" command.
func UpCmd(flags *cmdutil.RootFlags) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Connect to the tailnet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := flags.Backend()
			if err != nil {
				return err
			}

			err = ui.RunWithSpinner(cmd.Context(), "Connecting", func(ctx context.Context) error {
				if err := client.Up(ctx, cfg.UpArgs); err != nil {
					return err
				}
				if noWait {
					return nil
				}
				return engine.AwaitState(ctx, client, tailctl.RealClock{}, true)
			})
			journal("connect", err)
			if err != nil {
				if errors.Is(err, tailctl.ErrConvergenceTimeout) {
					return fmt.Errorf("connect issued, but the backend did not report a connection in time")
				}
				return err
			}

			fmt.Println(ui.SuccessMsg("connected"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return without waiting for the connection to be confirmed")
	return cmd
}

// DownCmd returns the "tailctl down" command.
func DownCmd(flags *cmdutil.RootFlags) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Disconnect from the tailnet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := flags.Backend()
			if err != nil {
				return err
			}

			err = ui.RunWithSpinner(cmd.Context(), "Disconnecting", func(ctx context.Context) error {
				if err := client.Down(ctx); err != nil {
					return err
				}
				if noWait {
					return nil
				}
				return engine.AwaitState(ctx, client, tailctl.RealClock{}, false)
			})
			journal("disconnect", err)
			if err != nil {
				if errors.Is(err, tailctl.ErrConvergenceTimeout) {
					return fmt.Errorf("disconnect issued, but the backend still reports a connection")
				}
				return err
			}

			fmt.Println(ui.SuccessMsg("disconnected"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return without waiting for the disconnect to be confirmed")
	return cmd
}

// journal records the transition outcome, best effort.
func journal(kind string, err error) {
	store := cmdutil.OptionalStore()
	if store == nil {
		return
	}
	defer store.Close()

	switch {
	case err == nil:
		_ = store.RecordTransition(kind, "ok", "")
	case errors.Is(err, tailctl.ErrConvergenceTimeout):
		_ = store.RecordTransition(kind, "timeout", err.Error())
	default:
		_ = store.RecordTransition(kind, "failed", err.Error())
	}
}
