package statuscmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	tailctl "tailctl"
	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/ui"
	"tailctl/internal/ipinfo"

	"github.com/spf13/cobra"
)

// Cmd returns the "tailctl status" command.
func Cmd(flags *cmdutil.RootFlags) *cobra.Command {
	var (
		asJSON  bool
		noPeers bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection state, devices, and exit nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := flags.Backend()
			if err != nil {
				return err
			}

			var (
				st tailctl.Status
				ip *ipinfo.Info
			)
			err = ui.RunWithSpinner(cmd.Context(), "Fetching status", func(ctx context.Context) error {
				var err error
				st, err = client.Status(ctx)
				if err != nil {
					return err
				}
				if cfg.LookupPublicIP() {
					// Best effort; status still renders without it.
					if info, ipErr := ipinfo.NewFetcher().Lookup(ctx, false); ipErr == nil {
						ip = &info
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(st, ip)
			}

			render(st, ip, !noPeers)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	cmd.Flags().BoolVar(&noPeers, "no-peers", false, "Skip the device table")
	return cmd
}

func writeJSON(st tailctl.Status, ip *ipinfo.Info) error {
	out := struct {
		tailctl.Status
		PublicIP *ipinfo.Info `json:",omitempty"`
	}{Status: st, PublicIP: ip}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func render(st tailctl.Status, ip *ipinfo.Info, withPeers bool) {
	pairs := []ui.Pair{
		ui.KV("State", ui.ConnState(st.Connected)),
		ui.KV("Backend", st.BackendState),
	}
	if st.Self != nil {
		pairs = append(pairs,
			ui.KV("This device", st.Self.Name),
			ui.KV("Tailscale IP", strings.Join(st.Self.Addrs, ", ")),
		)
	}
	if st.ActiveExitNode != nil {
		pairs = append(pairs, ui.KV("Exit node", ui.Accent(st.ActiveExitNode.Name)))
	} else {
		pairs = append(pairs, ui.KV("Exit node", ui.Muted("none")))
	}
	if ip != nil {
		origin := ip.IP
		if ip.Org != "" {
			origin += " " + ui.Muted("("+ip.Org+")")
		}
		pairs = append(pairs, ui.KV("Public IP", origin))
	}
	fmt.Println(ui.KeyValues("  ", pairs...))

	if !withPeers || len(st.Devices) == 0 {
		return
	}

	rows := make([][]string, 0, len(st.Devices))
	for _, d := range st.Devices {
		exit := ""
		switch {
		case d.ActiveExitNode:
			exit = "active"
		case d.ExitNodeOption:
			exit = "available"
		}
		rows = append(rows, []string{
			ui.OnlineDot(d.Online) + " " + d.Name,
			strings.Join(d.Addrs, ", "),
			d.OS,
			exit,
		})
	}
	fmt.Println(ui.Table([]string{"Device", "Address", "OS", "Exit node"}, rows))
}
