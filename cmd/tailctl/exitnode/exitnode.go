// Package exitnode implements the "exit-node" command group: list the
// eligible devices, route traffic through one, or clear the selection.
package exitnode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tailctl "tailctl"
	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/ui"
	"tailctl/internal/engine"

	"github.com/spf13/cobra"
)

// Cmd returns the "tailctl exit-node" command group.
func Cmd(flags *cmdutil.RootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exit-node",
		Short: "Manage the exit node selection",
	}
	cmd.AddCommand(listCmd(flags))
	cmd.AddCommand(setCmd(flags))
	cmd.AddCommand(clearCmd(flags))
	return cmd
}

func listCmd(flags *cmdutil.RootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List devices advertising themselves as exit nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := flags.Backend()
			if err != nil {
				return err
			}

			var st tailctl.Status
			err = ui.RunWithSpinner(cmd.Context(), "Fetching status", func(ctx context.Context) error {
				st, err = client.Status(ctx)
				return err
			})
			if err != nil {
				return err
			}

			if len(st.ExitNodes) == 0 {
				fmt.Println(ui.WarnMsg("no devices on this tailnet advertise an exit node"))
				return nil
			}

			rows := make([][]string, 0, len(st.ExitNodes))
			for _, d := range st.ExitNodes {
				active := ""
				if d.ActiveExitNode {
					active = ui.Success("active")
				}
				rows = append(rows, []string{
					ui.OnlineDot(d.Online) + " " + d.Name,
					d.PreferredArg(),
					strings.Join(d.Addrs, ", "),
					active,
				})
			}
			fmt.Println(ui.Table([]string{"Device", "Argument", "Address", ""}, rows))
			return nil
		},
	}
}

func setCmd(flags *cmdutil.RootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set [device]",
		Short: "Route traffic through an exit node",
		Long: "Route traffic through the named device. Without an argument the last\n" +
			"applied exit node is reused when still available, else the first\n" +
			"eligible device.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := flags.Backend()
			if err != nil {
				return err
			}

			requested := ""
			if len(args) == 1 {
				requested = args[0]
			}

			store := cmdutil.OptionalStore()
			if store != nil {
				defer store.Close()
			}

			var target string
			err = ui.RunWithSpinner(cmd.Context(), "Applying exit node", func(ctx context.Context) error {
				st, err := client.Status(ctx)
				if err != nil {
					return err
				}

				lastApplied := ""
				if store != nil {
					lastApplied, _ = store.LastExitNode()
				}
				target = engine.ResolveEnableTarget(requested, lastApplied, st.ExitNodes)
				if target == "" {
					return fmt.Errorf("no exit nodes available on this tailnet")
				}
				if err := client.SetExitNode(ctx, target); err != nil {
					return err
				}
				return engine.AwaitExitNode(ctx, client, tailctl.RealClock{}, true, target)
			})
			timedOut := errors.Is(err, tailctl.ErrConvergenceTimeout)
			if store != nil {
				switch {
				case err == nil:
					_ = store.SaveLastExitNode(target)
					_ = store.RecordTransition("exit-node", "ok", target)
				case timedOut:
					// The command was accepted; only confirmation lagged.
					_ = store.SaveLastExitNode(target)
					_ = store.RecordTransition("exit-node", "timeout", target)
				default:
					_ = store.RecordTransition("exit-node", "failed", err.Error())
				}
			}
			if timedOut {
				return fmt.Errorf("exit node %s applied, but status has not confirmed it yet", target)
			}
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("routing traffic through %s", ui.Accent(target)))
			return nil
		},
	}
}

func clearCmd(flags *cmdutil.RootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Stop routing traffic through an exit node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := flags.Backend()
			if err != nil {
				return err
			}

			err = ui.RunWithSpinner(cmd.Context(), "Clearing exit node", func(ctx context.Context) error {
				if err := client.SetExitNode(ctx, ""); err != nil {
					return err
				}
				return engine.AwaitExitNode(ctx, client, tailctl.RealClock{}, false, "")
			})
			if store := cmdutil.OptionalStore(); store != nil {
				switch {
				case err == nil:
					_ = store.RecordTransition("exit-node", "ok", "")
				case errors.Is(err, tailctl.ErrConvergenceTimeout):
					_ = store.RecordTransition("exit-node", "timeout", "")
				default:
					_ = store.RecordTransition("exit-node", "failed", err.Error())
				}
				_ = store.Close()
			}
			if errors.Is(err, tailctl.ErrConvergenceTimeout) {
				return fmt.Errorf("clear issued, but status still reports an active exit node")
			}
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("exit node cleared"))
			return nil
		},
	}
}
