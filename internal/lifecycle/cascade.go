package lifecycle

import (
	"fmt"

	"github.com/KafClaw/roadmap/internal/fault"
)

// Step is what the parent task must do after a subtask change.
type Step string

const (
	StepNone   Step = "none"
	StepPause  Step = "pause"
	StepResume Step = "resume"
	// StepViolation means the parent was not paused while it still had a
	// subtask. The caller records it and leaves the parent untouched.
	StepViolation Step = "violation"
)

// OnSubtaskOpened decides the parent step when a subtask is created.
// A closed parent rejects the subtask; an already-paused parent is a no-op.
func OnSubtaskOpened(parent Entity) (Step, error) {
	switch {
	case parent.Status.Terminal():
		return StepNone, fault.New(fault.ParentTaskClosed,
			fmt.Sprintf("task is %s", parent.Status), parent.ID)
	case parent.Status == StatusPaused:
		return StepNone, nil
	}
	if _, err := Transition(parent, ActionPause, OriginCascade); err != nil {
		return StepNone, err
	}
	return StepPause, nil
}

// OnSubtaskClosed decides the parent step after a subtask reached a terminal
// state. openSiblings counts the parent's subtasks that are still open.
func OnSubtaskClosed(parent Entity, openSiblings int) Step {
	if parent.Status != StatusPaused {
		return StepViolation
	}
	if openSiblings > 0 {
		return StepNone
	}
	return StepResume
}

// InitialSubtaskStatus returns the status of a new subtask: in progress when
// it is the parent's only open subtask, queued otherwise.
func InitialSubtaskStatus(openSiblings int) Status {
	if openSiblings > 0 {
		return StatusPending
	}
	return StatusInProgress
}
