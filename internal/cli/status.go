package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/hierarchy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project progress by stage and milestone",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		r, err := a.svc.Status(ctx)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), r, func(w io.Writer) { printStatus(w, r) })
	})
}

func printStatus(w io.Writer, r *hierarchy.Report) {
	printHeader(w, fmt.Sprintf("%s (version %d, %s)", r.Project.Name, r.Project.Version, r.Project.Status))
	if len(r.Stages) == 0 {
		fmt.Fprintln(w, "No stages yet. Add one with 'roadmap stage add <name>'.")
	}
	for _, st := range r.Stages {
		fmt.Fprintf(w, "Stage %d %q %s  %s\n", st.OrderIndex, st.Name, statusStyle(st.Status), st.ID)
		for _, m := range st.Milestones {
			fmt.Fprintf(w, "  Milestone %d %q %s  %d/%d tasks closed  %s\n",
				m.OrderIndex, m.Name, statusStyle(m.Status), m.TasksDone, m.Tasks, m.ID)
		}
	}
	fmt.Fprintf(w, "Open tasks: %d  Paused: %d  Open subtasks: %d  Open sidequests: %d\n",
		r.OpenTasks, r.PausedTasks, r.OpenSubtasks, r.OpenSidequests)
}
