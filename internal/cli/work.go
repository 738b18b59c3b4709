package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/hierarchy"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/store"
)

var (
	initCmd = &cobra.Command{
		Use:   "init <project-name>",
		Short: "Create the project (no-op when it exists)",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}

	stageCmd = &cobra.Command{
		Use:   "stage",
		Short: "Manage stages",
	}
	stageAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "Append a stage to the completion path",
		Args:  cobra.ExactArgs(1),
		RunE:  runStageAdd,
	}

	milestoneCmd = &cobra.Command{
		Use:   "milestone",
		Short: "Manage milestones",
	}
	milestoneAddCmd = &cobra.Command{
		Use:   "add <stage-id> <name>",
		Short: "Append a milestone to a stage",
		Args:  cobra.ExactArgs(2),
		RunE:  runMilestoneAdd,
	}
	milestoneCompleteCmd = &cobra.Command{
		Use:   "complete <milestone-id>",
		Short: "Complete a milestone whose tasks are all closed",
		Args:  cobra.ExactArgs(1),
		RunE:  runMilestoneComplete,
	}

	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	taskCreateCmd = &cobra.Command{
		Use:   "create <milestone-id> <name>",
		Short: "Create a pending task",
		Args:  cobra.ExactArgs(2),
		RunE:  runTaskCreate,
	}
	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks by priority, then age",
		Args:  cobra.NoArgs,
		RunE:  runTaskList,
	}

	subtaskCmd = &cobra.Command{
		Use:   "subtask",
		Short: "Manage subtasks",
	}
	subtaskCreateCmd = &cobra.Command{
		Use:   "create <task-id> <name>",
		Short: "Create a subtask; the parent task pauses",
		Args:  cobra.ExactArgs(2),
		RunE:  runSubtaskCreate,
	}
	subtaskListCmd = &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's subtasks",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubtaskList,
	}
)

func init() {
	taskCreateCmd.Flags().String("priority", "", "low, medium, high or critical (default from milestone position)")
	taskListCmd.Flags().String("milestone", "", "Only tasks of this milestone")
	taskListCmd.Flags().StringSlice("status", nil, "Only tasks in these statuses")

	stageCmd.AddCommand(stageAddCmd)
	milestoneCmd.AddCommand(milestoneAddCmd, milestoneCompleteCmd)
	taskCmd.AddCommand(taskCreateCmd, taskListCmd,
		transitionCmd("start", "Start a pending task", startTask),
		transitionCmd("complete", "Complete an in-progress task", completeTask),
		transitionCmd("cancel", "Cancel a task", cancelTask),
	)
	subtaskCmd.AddCommand(subtaskCreateCmd, subtaskListCmd,
		transitionCmd("start", "Start a queued subtask", startSubtask),
		transitionCmd("complete", "Complete a subtask; the parent resumes when none remain", completeSubtask),
		transitionCmd("cancel", "Cancel a subtask; the parent resumes when none remain", cancelSubtask),
	)
	rootCmd.AddCommand(initCmd, stageCmd, milestoneCmd, taskCmd, subtaskCmd)
}

// transitionCmd builds a "<verb> <id>" subcommand around one service call.
func transitionCmd(verb, short string, do func(ctx context.Context, a *app, id string) (any, func(io.Writer), error)) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				payload, human, err := do(ctx, a, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), payload, human)
			})
		},
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, err := a.svc.InitProject(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), p, func(w io.Writer) {
			fmt.Fprintf(w, "Project %q ready (version %d, %s)\n", p.Name, p.Version, a.cfg.Store.Path)
		})
	})
}

func runStageAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		st, err := a.svc.AddStage(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), st, func(w io.Writer) {
			fmt.Fprintf(w, "Stage %d %q: %s\n", st.OrderIndex, st.Name, st.ID)
		})
	})
}

func runMilestoneAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.svc.AddMilestone(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), m, func(w io.Writer) {
			fmt.Fprintf(w, "Milestone %d %q: %s\n", m.OrderIndex, m.Name, m.ID)
		})
	})
}

func runMilestoneComplete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		m, err := a.svc.CompleteMilestone(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), m, func(w io.Writer) {
			fmt.Fprintf(w, "Milestone %q %s\n", m.Name, statusStyle(m.Status))
		})
	})
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	in := hierarchy.TaskInput{MilestoneID: args[0], Name: args[1]}
	if raw, _ := cmd.Flags().GetString("priority"); strings.TrimSpace(raw) != "" {
		p, err := lifecycle.ParsePriority(raw)
		if err != nil {
			return fault.Wrap(fault.InvalidArgument, err, "bad --priority")
		}
		in.Priority = p
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		t, err := a.svc.CreateTask(ctx, in)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), t, func(w io.Writer) { printTask(w, t) })
	})
}

func runTaskList(cmd *cobra.Command, args []string) error {
	f := store.TaskFilter{}
	f.MilestoneID, _ = cmd.Flags().GetString("milestone")
	statuses, _ := cmd.Flags().GetStringSlice("status")
	for _, s := range statuses {
		f.Statuses = append(f.Statuses, lifecycle.Status(strings.TrimSpace(s)))
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		tasks, err := a.svc.ListTasks(ctx, f)
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []store.Task{}
		}
		return emit(cmd.OutOrStdout(), tasks, func(w io.Writer) {
			if len(tasks) == 0 {
				fmt.Fprintln(w, "No tasks.")
				return
			}
			for i := range tasks {
				printTask(w, &tasks[i])
			}
		})
	})
}

func printTask(w io.Writer, t *store.Task) {
	fmt.Fprintf(w, "task %s  %-8s %-11s %s\n", t.ID, t.Priority, statusStyle(t.Status), t.Name)
}

func printSubtask(w io.Writer, st *store.Subtask) {
	fmt.Fprintf(w, "subtask %s  %-11s %s\n", st.ID, statusStyle(st.Status), st.Name)
}

func startTask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	t, err := a.svc.StartTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return t, func(w io.Writer) { printTask(w, t) }, nil
}

func completeTask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	out, err := a.svc.CompleteTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return out, func(w io.Writer) { printTaskOutcome(w, out) }, nil
}

func cancelTask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	out, err := a.svc.CancelTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return out, func(w io.Writer) { printTaskOutcome(w, out) }, nil
}

func printTaskOutcome(w io.Writer, out *hierarchy.TaskOutcome) {
	printTask(w, out.Task)
	if out.ItemsCompleted > 0 {
		fmt.Fprintf(w, "  items completed: %d\n", out.ItemsCompleted)
	}
	if out.MilestoneCompleted {
		fmt.Fprintln(w, "  milestone completed")
	}
	if out.StageCompleted {
		fmt.Fprintln(w, "  stage completed")
	}
	if out.ProjectCompleted {
		fmt.Fprintln(w, "  project completed")
	}
}

func runSubtaskCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		st, err := a.svc.CreateSubtask(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), st, func(w io.Writer) { printSubtask(w, st) })
	})
}

func runSubtaskList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		subs, err := a.svc.ListSubtasks(ctx, args[0])
		if err != nil {
			return err
		}
		if subs == nil {
			subs = []store.Subtask{}
		}
		return emit(cmd.OutOrStdout(), subs, func(w io.Writer) {
			if len(subs) == 0 {
				fmt.Fprintln(w, "No subtasks.")
				return
			}
			for i := range subs {
				printSubtask(w, &subs[i])
			}
		})
	})
}

func startSubtask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	st, err := a.svc.StartSubtask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return st, func(w io.Writer) { printSubtask(w, st) }, nil
}

func completeSubtask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	out, err := a.svc.CompleteSubtask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return out, func(w io.Writer) { printSubtaskOutcome(w, out) }, nil
}

func cancelSubtask(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	out, err := a.svc.CancelSubtask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return out, func(w io.Writer) { printSubtaskOutcome(w, out) }, nil
}

func printSubtaskOutcome(w io.Writer, out *hierarchy.SubtaskOutcome) {
	printSubtask(w, out.Subtask)
	switch {
	case out.Violation:
		fmt.Fprintf(w, "  %s parent %s was not paused; left unchanged\n", severityStyle("warning"), out.Parent.ID)
	case out.ParentResumed:
		fmt.Fprintf(w, "  parent %s resumed\n", out.Parent.ID)
	case out.Remaining > 0:
		fmt.Fprintf(w, "  %d subtasks remaining on %s\n", out.Remaining, out.Parent.ID)
	}
}
