// Package lifecycle holds the status vocabulary of work items and the pure
// transition rules between statuses. Nothing here touches storage.
package lifecycle

import (
	"fmt"
	"strings"
)

// Kind identifies an entity type.
type Kind string

const (
	KindProject   Kind = "project"
	KindStage     Kind = "stage"
	KindMilestone Kind = "milestone"
	KindTask      Kind = "task"
	KindSubtask   Kind = "subtask"
	KindSidequest Kind = "sidequest"
	KindItem      Kind = "item"
	KindFile      Kind = "file"
)

// ParseKind accepts the lower-case kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindProject, KindStage, KindMilestone, KindTask, KindSubtask, KindSidequest, KindItem, KindFile:
		return k, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// Status is the shared status enum; each kind uses a subset.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Open reports whether the status counts as open work for focus purposes.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusInProgress
}

// Priority orders tasks; higher is more urgent.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts a name or a number between 1 and 4.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "1":
		return PriorityLow, nil
	case "medium", "2":
		return PriorityMedium, nil
	case "high", "3":
		return PriorityHigh, nil
	case "critical", "4":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// PriorityForOrdinal maps a milestone's position within its stage to the
// default task priority: earlier milestone, higher priority.
func PriorityForOrdinal(ordinal int) Priority {
	switch {
	case ordinal <= 0:
		return PriorityHigh
	case ordinal == 1:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
