package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/hierarchy"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/store"
)

var (
	sidequestCmd = &cobra.Command{
		Use:     "sidequest",
		Aliases: []string{"sq"},
		Short:   "Manage sidequests (interruptions that take focus)",
	}
	sidequestCreateCmd = &cobra.Command{
		Use:   "create <name>",
		Short: "Record an interruption; its owner keeps its status",
		Args:  cobra.ExactArgs(1),
		RunE:  runSidequestCreate,
	}
	sidequestCompleteCmd = &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a sidequest with a required outcome",
		Args:  cobra.ExactArgs(1),
		RunE:  runSidequestComplete,
	}

	itemCmd = &cobra.Command{
		Use:   "item",
		Short: "Manage checklist items on tasks and sidequests",
	}
	itemAddCmd = &cobra.Command{
		Use:   "add <owner-kind:owner-id> <name>",
		Short: "Attach an item to a task or sidequest",
		Args:  cobra.ExactArgs(2),
		RunE:  runItemAdd,
	}
	itemCompleteCmd = &cobra.Command{
		Use:   "complete <item-id>",
		Short: "Complete an item",
		Args:  cobra.ExactArgs(1),
		RunE:  runItemComplete,
	}
	itemProgressCmd = &cobra.Command{
		Use:   "progress <owner-kind:owner-id>",
		Short: "Show completed/total items for an owner",
		Args:  cobra.ExactArgs(1),
		RunE:  runItemProgress,
	}
)

func init() {
	sidequestCreateCmd.Flags().String("owner", "", "Interrupted task or subtask as kind:id")
	sidequestCreateCmd.Flags().Bool("defect", false, "Raise priority to medium")
	sidequestCompleteCmd.Flags().String("outcome", "", "What the sidequest produced (required)")

	sidequestCmd.AddCommand(sidequestCreateCmd, sidequestCompleteCmd,
		transitionCmd("start", "Start a queued sidequest", startSidequest),
		transitionCmd("cancel", "Cancel a sidequest", cancelSidequest),
	)
	itemCmd.AddCommand(itemAddCmd, itemCompleteCmd, itemProgressCmd)
	rootCmd.AddCommand(sidequestCmd, itemCmd)
}

func printSidequest(w io.Writer, q *store.Sidequest) {
	fmt.Fprintf(w, "sidequest %s  %-8s %-11s %s", q.ID, q.Priority, statusStyle(q.Status), q.Name)
	if owner := q.Owner(); !owner.IsZero() {
		fmt.Fprintf(w, "  (interrupted %s)", owner)
	}
	fmt.Fprintln(w)
}

func runSidequestCreate(cmd *cobra.Command, args []string) error {
	in := hierarchy.SidequestInput{Name: args[0]}
	in.Defect, _ = cmd.Flags().GetBool("defect")
	owner, err := optionalRef(cmd, "owner")
	if err != nil {
		return err
	}
	in.Owner = owner
	return withApp(cmd, func(ctx context.Context, a *app) error {
		q, err := a.svc.CreateSidequest(ctx, in)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), q, func(w io.Writer) { printSidequest(w, q) })
	})
}

func runSidequestComplete(cmd *cobra.Command, args []string) error {
	outcome, _ := cmd.Flags().GetString("outcome")
	return withApp(cmd, func(ctx context.Context, a *app) error {
		out, err := a.svc.CompleteSidequest(ctx, args[0], outcome)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), out, func(w io.Writer) {
			printSidequest(w, out.Sidequest)
			fmt.Fprintf(w, "  outcome: %s\n", out.Sidequest.Outcome)
			if out.ItemsCompleted > 0 {
				fmt.Fprintf(w, "  items completed: %d\n", out.ItemsCompleted)
			}
		})
	})
}

func startSidequest(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	q, err := a.svc.StartSidequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return q, func(w io.Writer) { printSidequest(w, q) }, nil
}

func cancelSidequest(ctx context.Context, a *app, id string) (any, func(io.Writer), error) {
	q, err := a.svc.CancelSidequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return q, func(w io.Writer) { printSidequest(w, q) }, nil
}

func printItem(w io.Writer, it *store.Item) {
	mark := " "
	if it.Status == lifecycle.StatusCompleted {
		mark = "x"
	}
	fmt.Fprintf(w, "[%s] item %s  %s (%s %s)\n", mark, it.ID, it.Name, it.OwnerKind, it.OwnerID)
}

func runItemAdd(cmd *cobra.Command, args []string) error {
	owner, err := parseRef(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		it, err := a.svc.AddItem(ctx, owner, args[1])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), it, func(w io.Writer) { printItem(w, it) })
	})
}

func runItemComplete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		it, err := a.svc.CompleteItem(ctx, args[0])
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), it, func(w io.Writer) { printItem(w, it) })
	})
}

func runItemProgress(cmd *cobra.Command, args []string) error {
	owner, err := parseRef(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, err := a.svc.Progress(ctx, owner)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), p, func(w io.Writer) {
			fmt.Fprintf(w, "%s: %d/%d items done\n", owner, p.Done, p.Total)
		})
	})
}
