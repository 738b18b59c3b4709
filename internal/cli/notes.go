package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

var (
	notesCmd = &cobra.Command{
		Use:   "notes",
		Short: "Read and write the audit log",
	}
	notesListCmd = &cobra.Command{
		Use:   "list",
		Short: "List notes, newest first",
		Args:  cobra.NoArgs,
		RunE:  runNotesList,
	}
	notesAddCmd = &cobra.Command{
		Use:   "add <content>",
		Short: "Append a note",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runNotesAdd,
	}
)

func init() {
	notesListCmd.Flags().String("ref", "", "Only notes about kind:id")
	notesListCmd.Flags().String("type", "", "Only notes of this type")
	notesListCmd.Flags().String("severity", "", "Minimum severity (info, warning, error)")
	notesListCmd.Flags().Int("limit", 50, "Maximum notes to show (0 = all)")
	notesAddCmd.Flags().String("ref", "", "Attach the note to kind:id")
	notesAddCmd.Flags().String("source", notes.SourceUser, "user or directive")

	notesCmd.AddCommand(notesListCmd, notesAddCmd)
	rootCmd.AddCommand(notesCmd)
}

func runNotesList(cmd *cobra.Command, args []string) error {
	f := notes.Filter{}
	f.Type, _ = cmd.Flags().GetString("type")
	f.Severity, _ = cmd.Flags().GetString("severity")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	r, err := optionalRef(cmd, "ref")
	if err != nil {
		return err
	}
	f.Ref = r
	return withApp(cmd, func(ctx context.Context, a *app) error {
		list, err := notes.List(ctx, a.store, f)
		if err != nil {
			return err
		}
		if list == nil {
			list = []store.Note{}
		}
		return emit(cmd.OutOrStdout(), list, func(w io.Writer) {
			if len(list) == 0 {
				fmt.Fprintln(w, "No notes.")
				return
			}
			for _, n := range list {
				printNote(w, n)
			}
		})
	})
}

func printNote(w io.Writer, n store.Note) {
	about := ""
	if n.RefID != "" {
		about = fmt.Sprintf(" [%s:%s]", n.RefKind, n.RefID)
	}
	fmt.Fprintf(w, "%s %-7s %-22s %s%s\n", n.CreatedAt.Format("2006-01-02 15:04:05"), severityStyle(n.Severity), n.NoteType, n.Content, about)
}

func runNotesAdd(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	content := strings.Join(args, " ")
	about, err := optionalRef(cmd, "ref")
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		n, err := a.svc.AddNote(ctx, about, source, content)
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), n, func(w io.Writer) { printNote(w, *n) })
	})
}
