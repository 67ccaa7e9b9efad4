// Package watch implements "tailctl watch": a live terminal view of the
// connection driven by the reconciliation engine. Keystrokes issue
// transitions; the view follows the engine's updates.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	tailctl "tailctl"
	"tailctl/cmd/tailctl/cmdutil"
	"tailctl/cmd/tailctl/ui"
	"tailctl/internal/engine"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// Cmd returns the "tailctl watch" command.
func Cmd(flags *cmdutil.RootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live connection view with interactive controls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := flags.Backend()
			if err != nil {
				return err
			}

			opts := []engine.Option{}
			if store := cmdutil.OptionalStore(); store != nil {
				defer store.Close()
				opts = append(opts, engine.WithStore(store))
			}
			if len(cfg.UpArgs) > 0 {
				opts = append(opts, engine.WithUpArgs(cfg.UpArgs))
			}
			if d := time.Duration(cfg.RefreshInterval); d > 0 {
				opts = append(opts, engine.WithRefreshInterval(d))
			}
			eng := engine.New(client, opts...)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- eng.Run(ctx) }()

			m := newModel(eng)
			p := tea.NewProgram(m, tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && ctx.Err() == nil {
				cancel()
				<-errCh
				return fmt.Errorf("watch: %w", err)
			}
			cancel()
			return <-errCh
		},
	}
}

type updateMsg engine.Update

func waitForUpdate(ch <-chan engine.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return updateMsg(u)
	}
}

type model struct {
	eng     *engine.Engine
	spinner spinner.Model

	latest  engine.Update
	seen    bool
	message string
	errText string
}

func newModel(eng *engine.Engine) *model {
	return &model{
		eng: eng,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(ui.AccentStyle),
		),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.eng.Updates()))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case updateMsg:
		u := engine.Update(msg)
		m.latest = u
		m.seen = true
		if u.Message != "" {
			m.message = u.Message
			m.errText = ""
		}
		if u.Err != nil {
			m.errText = u.Err.Error()
			m.message = ""
		}
		return m, waitForUpdate(m.eng.Updates())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Every keystroke counts as an interaction so the engine schedules a
	// debounced refresh behind the burst.
	m.eng.NotifyInteraction()

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "c":
		m.eng.Connect()
	case "d":
		m.eng.Disconnect()
	case "e":
		m.toggleExitNode()
	case "r":
		m.eng.Refresh()
	}
	return m, nil
}

// toggleExitNode flips the selection the way the last update shows it.
func (m *model) toggleExitNode() {
	if m.seen && m.latest.ExitEnabled {
		m.eng.SetExitNode(false, "")
		return
	}
	m.eng.SetExitNode(true, "")
}

func (m *model) View() string {
	var b strings.Builder
	b.WriteString("\n")

	if !m.seen || m.latest.Status == nil {
		b.WriteString("  " + m.spinner.View() + " waiting for status\n")
		b.WriteString(m.footer())
		return b.String()
	}

	st := m.latest.Status
	pairs := []ui.Pair{ui.KV("State", m.stateLine(st))}
	if st.Self != nil {
		pairs = append(pairs,
			ui.KV("This device", st.Self.Name),
			ui.KV("Tailscale IP", strings.Join(st.Self.Addrs, ", ")),
		)
	}
	pairs = append(pairs, ui.KV("Exit node", m.exitLine(st)))
	b.WriteString(ui.KeyValues("  ", pairs...))

	online := 0
	for _, d := range st.Devices {
		if d.Online {
			online++
		}
	}
	b.WriteString("  " + ui.Muted(fmt.Sprintf("%d devices, %d online", len(st.Devices), online)) + "\n")

	if m.message != "" {
		b.WriteString("\n  " + ui.InfoMsg("%s", m.message) + "\n")
	}
	if m.errText != "" {
		b.WriteString("\n  " + ui.ErrorMsg("%s", m.errText) + "\n")
	}

	b.WriteString(m.footer())
	return b.String()
}

func (m *model) stateLine(st *tailctl.Status) string {
	if m.latest.Busy {
		return m.spinner.View() + " " + ui.Warn("working")
	}
	return ui.ConnState(st.Connected)
}

func (m *model) exitLine(st *tailctl.Status) string {
	if m.latest.ExitBusy {
		return m.spinner.View() + " " + ui.Muted("applying")
	}
	if m.latest.ExitEnabled {
		if m.latest.ExitTarget != "" {
			return ui.Accent(m.latest.ExitTarget)
		}
		return ui.Accent("enabled")
	}
	return ui.Muted("none")
}

func (m *model) footer() string {
	return "\n  " + ui.FaintStyle.Render("c connect · d disconnect · e exit node · r refresh · q quit") + "\n"
}
