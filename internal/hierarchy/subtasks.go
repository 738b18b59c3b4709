package hierarchy

import (
	"context"

	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// CreateSubtask opens a subtask under a task and pauses the task. The new
// subtask starts in progress when it is the task's only open subtask and is
// queued as pending otherwise.
func (s *Service) CreateSubtask(ctx context.Context, taskID, name string) (*store.Subtask, error) {
	name, err := requireName("subtask", name)
	if err != nil {
		return nil, err
	}
	var st *store.Subtask
	var paused bool
	err = s.update(ctx, "create_subtask", func(o *outbox) error {
		paused = false
		task, err := o.tx.GetTask(taskID)
		if err != nil {
			return err
		}
		step, err := lifecycle.OnSubtaskOpened(taskEntity(task))
		if err != nil {
			return err
		}
		open, err := o.tx.CountOpenSubtasks(task.ID)
		if err != nil {
			return err
		}
		if _, err := o.tx.BumpVersion(); err != nil {
			return err
		}
		if st, err = o.tx.InsertSubtask(task.ID, name, lifecycle.InitialSubtaskStatus(open)); err != nil {
			return err
		}
		taskRef := ref(lifecycle.KindTask, task.ID)
		if err := o.note(notes.Info(notes.TypeSubtaskCreated, ref(lifecycle.KindSubtask, st.ID),
			"subtask %q created under task %q as %s", name, task.Name, st.Status)); err != nil {
			return err
		}
		if step == lifecycle.StepPause {
			if err := o.tx.SetStatus(lifecycle.KindTask, task.ID, lifecycle.StatusPaused); err != nil {
				return err
			}
			paused = true
			if err := o.note(notes.Info(notes.TypeParentPaused, taskRef,
				"task %q paused: subtask %q opened", task.Name, name)); err != nil {
				return err
			}
		}
		return activate(o.tx, task.MilestoneID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subtask created", "id", st.ID, "task", taskID, "status", string(st.Status), "parent_paused", paused)
	return st, nil
}

// StartSubtask promotes a queued subtask to in progress.
func (s *Service) StartSubtask(ctx context.Context, subtaskID string) (*store.Subtask, error) {
	var st *store.Subtask
	err := s.update(ctx, "start_subtask", func(o *outbox) error {
		var err error
		if st, err = o.tx.GetSubtask(subtaskID); err != nil {
			return err
		}
		res, err := lifecycle.Transition(subtaskEntity(st), lifecycle.ActionStart, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindSubtask, st.ID, res.Status); err != nil {
			return err
		}
		st.Status = res.Status
		return o.note(notes.Info(notes.TypeSubtaskStarted, ref(lifecycle.KindSubtask, st.ID), "subtask %q started", st.Name))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subtask started", "id", st.ID)
	return st, nil
}

// SubtaskOutcome is what closing a subtask changed on its parent.
type SubtaskOutcome struct {
	Subtask       *store.Subtask `json:"subtask"`
	Parent        *store.Task    `json:"parent"`
	Remaining     int            `json:"remaining"`
	ParentResumed bool           `json:"parentResumed"`
	// Violation is set when the parent was found not paused. The parent is
	// left as it was and a warning note records the finding.
	Violation bool `json:"violation"`
}

// CompleteSubtask closes an in-progress subtask and resumes its parent once
// no open subtasks remain. Queued siblings are not promoted.
func (s *Service) CompleteSubtask(ctx context.Context, subtaskID string) (*SubtaskOutcome, error) {
	return s.closeSubtask(ctx, subtaskID, lifecycle.ActionComplete)
}

// CancelSubtask abandons a subtask with the same parent cascade as completion.
func (s *Service) CancelSubtask(ctx context.Context, subtaskID string) (*SubtaskOutcome, error) {
	return s.closeSubtask(ctx, subtaskID, lifecycle.ActionCancel)
}

func (s *Service) closeSubtask(ctx context.Context, subtaskID string, action lifecycle.Action) (*SubtaskOutcome, error) {
	var out *SubtaskOutcome
	err := s.update(ctx, "close_subtask", func(o *outbox) error {
		out = &SubtaskOutcome{}
		st, err := o.tx.GetSubtask(subtaskID)
		if err != nil {
			return err
		}
		out.Subtask = st
		res, err := lifecycle.Transition(subtaskEntity(st), action, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindSubtask, st.ID, res.Status); err != nil {
			return err
		}
		st.Status = res.Status
		if err := o.note(notes.Info(notes.TypeSubtaskClosed, ref(lifecycle.KindSubtask, st.ID), "subtask %q %s", st.Name, res.Status)); err != nil {
			return err
		}

		for _, ob := range res.Obligations {
			if ob.Type == lifecycle.ObligationResumeParentIfClear {
				if err := s.settleParent(o, ob.Target.ID, out); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Violation {
		s.log.Warn("subtask closed under a parent that was not paused", "subtask", out.Subtask.ID, "task", out.Parent.ID, "parent_status", string(out.Parent.Status))
	}
	s.log.Info("subtask closed", "id", out.Subtask.ID, "status", string(out.Subtask.Status),
		"remaining", out.Remaining, "parent_resumed", out.ParentResumed)
	return out, nil
}

// settleParent applies the resume half of the cascade inside the same
// transaction that closed the subtask.
func (s *Service) settleParent(o *outbox, taskID string, out *SubtaskOutcome) error {
	parent, err := o.tx.GetTask(taskID)
	if err != nil {
		return err
	}
	out.Parent = parent
	remaining, err := o.tx.CountOpenSubtasks(parent.ID)
	if err != nil {
		return err
	}
	out.Remaining = remaining
	taskRef := ref(lifecycle.KindTask, parent.ID)

	switch lifecycle.OnSubtaskClosed(taskEntity(parent), remaining) {
	case lifecycle.StepViolation:
		out.Violation = true
		return o.note(notes.Warning(notes.TypeInvariantViolation, taskRef,
			"task %q was %s, expected paused, while subtask %q closed; %d subtasks remaining",
			parent.Name, parent.Status, out.Subtask.Name, remaining))
	case lifecycle.StepResume:
		res, err := lifecycle.Transition(taskEntity(parent), lifecycle.ActionResume, lifecycle.OriginCascade)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindTask, parent.ID, res.Status); err != nil {
			return err
		}
		parent.Status = res.Status
		out.ParentResumed = true
		return o.note(notes.Info(notes.TypeParentResumed, taskRef, "task %q resumed: no open subtasks remain", parent.Name))
	default:
		return o.note(notes.Info(notes.TypeSubtasksRemaining, taskRef, "%d subtasks remaining on task %q", remaining, parent.Name))
	}
}
