// Package history implements "tailctl history": the persisted journal of
// connection and exit-node transitions.
package history

import (
	"fmt"

	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/ui"

	"github.com/spf13/cobra"
)

// Cmd returns the "tailctl history" command.
func Cmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent connection and exit-node transitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cmdutil.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Transitions(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println(ui.InfoMsg("no transitions recorded yet"))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				outcome := e.Outcome
				switch e.Outcome {
				case "ok":
					outcome = ui.Success(outcome)
				case "failed", "timeout":
					outcome = ui.ErrorStyle.Render(outcome)
				}
				rows = append(rows, []string{
					e.At.Local().Format("2006-01-02 15:04:05"),
					e.Kind,
					outcome,
					e.Message,
				})
			}
			fmt.Println(ui.Table([]string{"When", "Kind", "Outcome", "Detail"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}
