// Package ipcmd implements "tailctl ip": the machine's public address as
// the wider internet sees it, which is how an exit-node switch is verified.
package ipcmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tailctl/cmd/tailctl/ui"
	"tailctl/internal/ipinfo"

	"github.com/spf13/cobra"
)

// Cmd returns the "tailctl ip" command.
func Cmd() *cobra.Command {
	var (
		asJSON bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "ip",
		Short: "Show the public IP and its network origin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var info ipinfo.Info
			err := ui.RunWithSpinner(cmd.Context(), "Resolving public IP", func(ctx context.Context) error {
				var err error
				info, err = ipinfo.NewFetcher().Lookup(ctx, force)
				return err
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			pairs := []ui.Pair{ui.KV("Public IP", ui.Bold(info.IP))}
			if info.Org != "" {
				pairs = append(pairs, ui.KV("Network", info.Org))
			}
			if info.ASN != "" {
				pairs = append(pairs, ui.KV("ASN", info.ASN))
			}
			if loc := location(info); loc != "" {
				pairs = append(pairs, ui.KV("Location", loc))
			}
			fmt.Println(ui.KeyValues("  ", pairs...))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the lookup cache")
	return cmd
}

func location(info ipinfo.Info) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{info.City, info.Region, info.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
