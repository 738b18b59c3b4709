package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/hierarchy"
)

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Show what to work on now",
	Args:  cobra.NoArgs,
	RunE:  runFocus,
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	panelTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	panelLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	panelMuted = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241"))
)

func init() {
	rootCmd.AddCommand(focusCmd)
}

func runFocus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		view, err := a.svc.GetFocus(ctx)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), view, func(w io.Writer) {
			fmt.Fprintln(w, renderFocus(view))
		})
	})
}

func renderFocus(v *hierarchy.FocusView) string {
	var b strings.Builder
	if v.Focus.IsIdle() {
		b.WriteString(panelTitle.Render("All work complete"))
		b.WriteString("\n")
	} else {
		c := v.Focus.Candidate
		b.WriteString(panelTitle.Render(fmt.Sprintf("%s: %s", c.Kind, c.Name)))
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s\n", panelLabel.Render("id      "), c.ID)
		fmt.Fprintf(&b, "%s %s\n", panelLabel.Render("status  "), statusStyle(c.Status))
		fmt.Fprintf(&b, "%s %s\n", panelLabel.Render("priority"), c.Priority)
		fmt.Fprintf(&b, "%s %s\n", panelLabel.Render("tier    "), v.Focus.Tier)
		if v.Progress != nil {
			fmt.Fprintf(&b, "%s %d/%d\n", panelLabel.Render("items   "), v.Progress.Done, v.Progress.Total)
		}
		for _, anc := range v.Context {
			fmt.Fprintf(&b, "%s %s %q (%s)\n", panelLabel.Render("within  "), anc.Kind, anc.Name, anc.Status)
		}
	}
	if len(v.History) > 0 {
		b.WriteString(panelMuted.Render("recently closed"))
		b.WriteString("\n")
		for _, h := range v.History {
			fmt.Fprintf(&b, "  %s %s %q\n", statusStyle(h.Status), h.Kind, h.Name)
		}
	}
	b.WriteString(panelMuted.Render(fmt.Sprintf("project version %d", v.Version)))
	return panelStyle.Render(b.String())
}
