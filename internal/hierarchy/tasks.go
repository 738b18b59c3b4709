package hierarchy

import (
	"context"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// TaskInput describes a new task. A zero Priority is inferred from the
// milestone's position in its stage.
type TaskInput struct {
	MilestoneID string
	Name        string
	Priority    lifecycle.Priority
}

// CreateTask inserts a pending task under an open milestone.
func (s *Service) CreateTask(ctx context.Context, in TaskInput) (*store.Task, error) {
	name, err := requireName("task", in.Name)
	if err != nil {
		return nil, err
	}
	if in.Priority != 0 && (in.Priority < lifecycle.PriorityLow || in.Priority > lifecycle.PriorityCritical) {
		return nil, fault.Newf(fault.InvalidArgument, "priority %d out of range", int(in.Priority))
	}
	var task *store.Task
	err = s.update(ctx, "create_task", func(o *outbox) error {
		m, err := o.tx.GetMilestone(in.MilestoneID)
		if err != nil {
			return err
		}
		if m.Status == lifecycle.StatusCompleted {
			return fault.New(fault.MilestoneNotOpen, "milestone "+m.Name+" is completed", m.ID)
		}
		prio := in.Priority
		inferred := prio == 0
		if inferred {
			prio = lifecycle.PriorityForOrdinal(m.OrderIndex)
		}
		if err := grow(o); err != nil {
			return err
		}
		if task, err = o.tx.InsertTask(m.ID, name, prio); err != nil {
			return err
		}
		how := "given"
		if inferred {
			how = "inferred from milestone position"
		}
		return o.note(notes.Info(notes.TypeTaskCreated, ref(lifecycle.KindTask, task.ID),
			"task %q created in milestone %q with %s priority (%s)", name, m.Name, prio, how))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task created", "id", task.ID, "milestone", task.MilestoneID, "priority", task.Priority.String())
	return task, nil
}

// StartTask moves a pending task to in progress. Paused tasks resume only
// through the subtask cascade.
func (s *Service) StartTask(ctx context.Context, taskID string) (*store.Task, error) {
	var task *store.Task
	err := s.update(ctx, "start_task", func(o *outbox) error {
		var err error
		if task, err = o.tx.GetTask(taskID); err != nil {
			return err
		}
		res, err := lifecycle.Transition(taskEntity(task), lifecycle.ActionStart, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindTask, task.ID, res.Status); err != nil {
			return err
		}
		task.Status = res.Status
		if err := activate(o.tx, task.MilestoneID); err != nil {
			return err
		}
		return o.note(notes.Info(notes.TypeTaskStarted, ref(lifecycle.KindTask, task.ID), "task %q started", task.Name))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task started", "id", task.ID)
	return task, nil
}

// TaskOutcome is what closing a task changed.
type TaskOutcome struct {
	Task               *store.Task `json:"task"`
	ItemsCompleted     int         `json:"itemsCompleted"`
	MilestoneCompleted bool        `json:"milestoneCompleted"`
	StageCompleted     bool        `json:"stageCompleted"`
	ProjectCompleted   bool        `json:"projectCompleted"`
	// Next is the next pending task in the same milestone. It is only a
	// suggestion and is never started automatically.
	Next *store.Task `json:"next,omitempty"`
}

// CompleteTask closes an in-progress task with no open subtasks, completes
// its items, rolls completion up to milestone and stage, and signals the
// next pending task in the milestone.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (*TaskOutcome, error) {
	return s.closeTask(ctx, taskID, lifecycle.ActionComplete)
}

// CancelTask abandons a pending or in-progress task with no open subtasks.
func (s *Service) CancelTask(ctx context.Context, taskID string) (*TaskOutcome, error) {
	return s.closeTask(ctx, taskID, lifecycle.ActionCancel)
}

func (s *Service) closeTask(ctx context.Context, taskID string, action lifecycle.Action) (*TaskOutcome, error) {
	var out *TaskOutcome
	err := s.update(ctx, "close_task", func(o *outbox) error {
		out = &TaskOutcome{}
		task, err := o.tx.GetTask(taskID)
		if err != nil {
			return err
		}
		out.Task = task

		open, err := o.tx.ListSubtasks(task.ID, lifecycle.StatusPending, lifecycle.StatusInProgress)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			ids := []string{task.ID}
			for _, st := range open {
				ids = append(ids, st.ID)
			}
			return fault.New(fault.ActiveSubtasksBlocking, "task has open subtasks", ids...)
		}

		res, err := lifecycle.Transition(taskEntity(task), action, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		owner := ref(lifecycle.KindTask, task.ID)
		if res.Status == lifecycle.StatusCompleted {
			if out.ItemsCompleted, err = o.tx.CompleteOpenItems(owner); err != nil {
				return err
			}
		}
		if err := o.tx.SetStatus(lifecycle.KindTask, task.ID, res.Status); err != nil {
			return err
		}
		task.Status = res.Status

		typ := notes.TypeTaskCompleted
		if res.Status == lifecycle.StatusCancelled {
			typ = notes.TypeTaskCancelled
		}
		if err := o.note(notes.Info(typ, owner, "task %q %s", task.Name, res.Status)); err != nil {
			return err
		}

		for _, ob := range res.Obligations {
			if ob.Type != lifecycle.ObligationRecomputeMilestone {
				continue
			}
			r, err := recomputeMilestone(o, ob.Target.ID)
			if err != nil {
				return err
			}
			out.MilestoneCompleted, out.StageCompleted, out.ProjectCompleted = r.milestone, r.stage, r.project
		}

		next, err := o.tx.ListTasks(store.TaskFilter{MilestoneID: task.MilestoneID, Statuses: []lifecycle.Status{lifecycle.StatusPending}})
		if err != nil {
			return err
		}
		if len(next) > 0 {
			out.Next = &next[0]
			o.signal(&bus.Signal{
				Kind:    bus.KindNextStep,
				RefKind: string(lifecycle.KindTask),
				RefID:   next[0].ID,
				Content: "next pending task: " + next[0].Name,
				Metadata: map[string]any{
					"after_task": task.ID,
					"priority":   next[0].Priority.String(),
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task closed", "id", out.Task.ID, "status", string(out.Task.Status),
		"items_completed", out.ItemsCompleted, "milestone_completed", out.MilestoneCompleted)
	return out, nil
}

// CompleteMilestone closes a milestone explicitly. Every task in it must
// already be terminal.
func (s *Service) CompleteMilestone(ctx context.Context, milestoneID string) (*store.Milestone, error) {
	var m *store.Milestone
	err := s.update(ctx, "complete_milestone", func(o *outbox) error {
		var err error
		if m, err = o.tx.GetMilestone(milestoneID); err != nil {
			return err
		}
		if m.Status == lifecycle.StatusCompleted {
			return fault.New(fault.IllegalTransition, "milestone is already completed", m.ID)
		}
		tasks, err := o.tx.ListTasks(store.TaskFilter{MilestoneID: m.ID})
		if err != nil {
			return err
		}
		var blocking []string
		for _, t := range tasks {
			if !t.Status.Terminal() {
				blocking = append(blocking, t.ID)
			}
		}
		if len(blocking) > 0 {
			return fault.New(fault.ActiveTasksBlocking, "milestone has open tasks", append([]string{m.ID}, blocking...)...)
		}
		if err := o.tx.SetStatus(lifecycle.KindMilestone, m.ID, lifecycle.StatusCompleted); err != nil {
			return err
		}
		m.Status = lifecycle.StatusCompleted
		if err := o.note(notes.Info(notes.TypeMilestoneCompleted, ref(lifecycle.KindMilestone, m.ID), "milestone %q completed", m.Name)); err != nil {
			return err
		}
		_, _, err = recomputeStage(o, m.StageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("milestone completed", "id", m.ID)
	return m, nil
}
