package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(title))
	fmt.Fprintln(w, "─────────────────────")
}

// emit writes payload as JSON under --json, otherwise calls human.
func emit(w io.Writer, payload any, human func(w io.Writer)) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
	human(w)
	return nil
}

func statusStyle(s lifecycle.Status) string {
	switch s {
	case lifecycle.StatusCompleted:
		return color.GreenString(string(s))
	case lifecycle.StatusInProgress:
		return color.CyanString(string(s))
	case lifecycle.StatusPaused:
		return color.YellowString(string(s))
	case lifecycle.StatusCancelled:
		return color.HiBlackString(string(s))
	}
	return string(s)
}

func severityStyle(s string) string {
	switch s {
	case "error":
		return color.RedString(s)
	case "warning":
		return color.YellowString(s)
	}
	return s
}

func hintStyle(s string) string {
	return color.MagentaString(s)
}

// parseRef reads "kind:id".
func parseRef(s string) (lifecycle.Ref, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(id) == "" {
		return lifecycle.Ref{}, fault.Newf(fault.InvalidArgument, "reference %q must look like kind:id", s)
	}
	k, err := lifecycle.ParseKind(kind)
	if err != nil {
		return lifecycle.Ref{}, fault.Wrap(fault.InvalidArgument, err, "bad reference")
	}
	return lifecycle.Ref{Kind: k, ID: strings.TrimSpace(id)}, nil
}

// optionalRef reads a kind:id flag; empty means no reference.
func optionalRef(cmd *cobra.Command, flag string) (lifecycle.Ref, error) {
	raw, _ := cmd.Flags().GetString(flag)
	if strings.TrimSpace(raw) == "" {
		return lifecycle.Ref{}, nil
	}
	return parseRef(raw)
}

// ExitCode maps an error to the process exit status: 2 for bad input,
// 3 for a refused state change, 4 for a missing entity, 5 for a failed
// sync, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return 1
	}
	switch fe.Kind {
	case fault.InvalidArgument:
		return 2
	case fault.IllegalTransition, fault.ForbiddenDirectTransition, fault.MilestoneNotOpen,
		fault.ParentTaskClosed, fault.ActiveSubtasksBlocking, fault.ActiveTasksBlocking:
		return 3
	case fault.EntityNotFound:
		return 4
	case fault.SyncFailed:
		return 5
	}
	return 1
}
