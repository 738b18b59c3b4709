// Package fault defines the error kinds returned by every public roadmap operation.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a class of failure. Callers branch on the kind, never on message text.
type Kind string

const (
	IllegalTransition          Kind = "illegal_transition"
	ForbiddenDirectTransition  Kind = "forbidden_direct_transition"
	MilestoneNotOpen           Kind = "milestone_not_open"
	ParentTaskClosed           Kind = "parent_task_closed"
	ActiveSubtasksBlocking     Kind = "active_subtasks_blocking"
	ActiveTasksBlocking        Kind = "active_tasks_blocking"
	EntityNotFound             Kind = "entity_not_found"
	SyncFailed                 Kind = "sync_failed"
	InvariantViolationDetected Kind = "invariant_violation_detected"
	InvalidArgument            Kind = "invalid_argument"
)

// Sentinels for errors.Is. Matching compares kinds only.
var (
	ErrIllegalTransition          = &Error{Kind: IllegalTransition}
	ErrForbiddenDirectTransition  = &Error{Kind: ForbiddenDirectTransition}
	ErrMilestoneNotOpen           = &Error{Kind: MilestoneNotOpen}
	ErrParentTaskClosed           = &Error{Kind: ParentTaskClosed}
	ErrActiveSubtasksBlocking     = &Error{Kind: ActiveSubtasksBlocking}
	ErrActiveTasksBlocking        = &Error{Kind: ActiveTasksBlocking}
	ErrEntityNotFound             = &Error{Kind: EntityNotFound}
	ErrSyncFailed                 = &Error{Kind: SyncFailed}
	ErrInvariantViolationDetected = &Error{Kind: InvariantViolationDetected}
	ErrInvalidArgument            = &Error{Kind: InvalidArgument}
)

// Error is a tagged failure carrying the ids of the entities involved.
type Error struct {
	Kind    Kind
	Message string
	IDs     []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.IDs, ", "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, msg string, ids ...string) *Error {
	return &Error{Kind: kind, Message: msg, IDs: ids}
}

// Newf builds an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, msg string, ids ...string) *Error {
	return &Error{Kind: kind, Message: msg, IDs: ids, Err: err}
}

// NotFound is shorthand for an EntityNotFound error on one entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: EntityNotFound, Message: entity + " not found", IDs: []string{id}}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IDsOf returns the entity ids attached to err, if any.
func IDsOf(err error) []string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.IDs
	}
	return nil
}
