// Package notes is the append-only audit log. Every state change and sync
// outcome the engine performs leaves a note; nothing ever edits one.
package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/store"
)

// Note types written by the engine.
const (
	TypeProjectCreated     = "project_created"
	TypeStageCreated       = "stage_created"
	TypeMilestoneCreated   = "milestone_created"
	TypeTaskCreated        = "task_created"
	TypeTaskStarted        = "task_started"
	TypeTaskCompleted      = "task_completed"
	TypeTaskCancelled      = "task_cancelled"
	TypeSubtaskCreated     = "subtask_created"
	TypeSubtaskStarted     = "subtask_started"
	TypeSubtaskClosed      = "subtask_closed"
	TypeParentPaused       = "parent_paused"
	TypeParentResumed      = "parent_resumed"
	TypeSubtasksRemaining  = "subtasks_remaining"
	TypeInvariantViolation = "invariant_violation"
	TypeSidequestCreated   = "sidequest_created"
	TypeSidequestStarted   = "sidequest_started"
	TypeSidequestCancelled = "sidequest_cancelled"
	TypeInterruption       = "interruption_recorded"
	TypeSidequestOutcome   = "sidequest_outcome"
	TypeResumeCandidate    = "resume_candidate"
	TypeItemAdded          = "item_added"
	TypeItemCompleted      = "item_completed"
	TypeMilestoneCompleted = "milestone_completed"
	TypeStageCompleted     = "stage_completed"
	TypeProjectCompleted   = "project_completed"
	TypeProjectReopened    = "project_reopened"
	TypeSyncApplied        = "sync_applied"
	TypeSyncFailed         = "sync_failed"
	TypeSyncWarning        = "sync_warning"
	TypeUser               = "user"
)

// Severity values.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Source values.
const (
	SourceUser      = "user"
	SourceAI        = "ai"
	SourceDirective = "directive"
)

// Entry is a note about to be written.
type Entry struct {
	Type     string
	Content  string
	Ref      lifecycle.Ref
	Source   string
	Severity string
}

// Info builds an info-severity entry from the engine.
func Info(typ string, ref lifecycle.Ref, format string, args ...any) Entry {
	return Entry{Type: typ, Ref: ref, Content: fmt.Sprintf(format, args...)}
}

// Warning builds a warning-severity entry from the engine.
func Warning(typ string, ref lifecycle.Ref, format string, args ...any) Entry {
	return Entry{Type: typ, Ref: ref, Severity: SeverityWarning, Content: fmt.Sprintf(format, args...)}
}

func validSeverity(s string) bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

func validSource(s string) bool {
	return s == SourceUser || s == SourceAI || s == SourceDirective
}

// Append writes e inside tx and returns the stored note.
func Append(tx *store.Tx, e Entry) (store.Note, error) {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Source == "" {
		e.Source = SourceAI
	}
	switch {
	case strings.TrimSpace(e.Content) == "":
		return store.Note{}, fault.New(fault.InvalidArgument, "note content is required")
	case strings.TrimSpace(e.Type) == "":
		return store.Note{}, fault.New(fault.InvalidArgument, "note type is required")
	case !validSeverity(e.Severity):
		return store.Note{}, fault.Newf(fault.InvalidArgument, "unknown note severity %q", e.Severity)
	case !validSource(e.Source):
		return store.Note{}, fault.Newf(fault.InvalidArgument, "unknown note source %q", e.Source)
	}
	n := store.Note{
		Content:  e.Content,
		NoteType: e.Type,
		RefKind:  e.Ref.Kind,
		RefID:    e.Ref.ID,
		Source:   e.Source,
		Severity: e.Severity,
	}
	if err := tx.AppendNote(&n); err != nil {
		return store.Note{}, err
	}
	return n, nil
}

// Filter narrows List. Zero values mean "any".
type Filter struct {
	Ref      lifecycle.Ref
	Type     string
	Severity string // minimum severity
	Limit    int
}

// severities at or above min, lowest first.
func atLeast(min string) []string {
	switch min {
	case SeverityWarning:
		return []string{SeverityWarning, SeverityError}
	case SeverityError:
		return []string{SeverityError}
	}
	return nil
}

// List returns notes newest first.
func List(ctx context.Context, s *store.Store, f Filter) ([]store.Note, error) {
	if f.Severity != "" && !validSeverity(f.Severity) {
		return nil, fault.Newf(fault.InvalidArgument, "unknown note severity %q", f.Severity)
	}
	var out []store.Note
	err := s.View(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListNotes(store.NoteFilter{
			RefKind:    f.Ref.Kind,
			RefID:      f.Ref.ID,
			NoteType:   f.Type,
			Severities: atLeast(f.Severity),
			Limit:      f.Limit,
		})
		return err
	})
	return out, err
}

// Signal turns a stored note into a bus signal for relays.
func Signal(n store.Note) *bus.Signal {
	return &bus.Signal{
		Kind:     bus.KindNote,
		RefKind:  string(n.RefKind),
		RefID:    n.RefID,
		Severity: n.Severity,
		Content:  n.Content,
		Metadata: map[string]any{
			"note_id":   n.ID,
			"note_type": n.NoteType,
			"source":    n.Source,
		},
		Timestamp: n.CreatedAt,
	}
}
