package hierarchy

import (
	"context"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/focus"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/store"
)

var openStatuses = []lifecycle.Status{lifecycle.StatusPending, lifecycle.StatusInProgress}

// Ancestor is one level of context above the focus item.
type Ancestor struct {
	Kind   lifecycle.Kind   `json:"kind"`
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Status lifecycle.Status `json:"status"`
}

// FocusView is the focus item plus what a caller needs to act on it.
type FocusView struct {
	Focus    focus.Item            `json:"focus"`
	Context  []Ancestor            `json:"context,omitempty"`
	Progress *Progress             `json:"progress,omitempty"`
	History  []store.TerminalEntry `json:"history"`
	Version  int64                 `json:"version"`
}

// GetFocus resolves the current focus from one consistent snapshot.
func (s *Service) GetFocus(ctx context.Context) (*FocusView, error) {
	view := &FocusView{}
	err := s.view(ctx, func(tx *store.Tx) error {
		p, err := tx.GetProject()
		if err != nil {
			return err
		}
		view.Version = p.Version

		quests, err := tx.ListSidequests(openStatuses...)
		if err != nil {
			return err
		}
		subs, err := tx.ListSubtasks("", openStatuses...)
		if err != nil {
			return err
		}
		tasks, err := tx.ListTasks(store.TaskFilter{Statuses: openStatuses})
		if err != nil {
			return err
		}

		qc := make([]focus.Candidate, 0, len(quests))
		for _, q := range quests {
			qc = append(qc, candidate(lifecycle.KindSidequest, q.Meta, q.Name))
		}
		sc := make([]focus.Candidate, 0, len(subs))
		for _, st := range subs {
			sc = append(sc, candidate(lifecycle.KindSubtask, st.Meta, st.Name))
		}
		tc := make([]focus.Candidate, 0, len(tasks))
		for _, t := range tasks {
			tc = append(tc, candidate(lifecycle.KindTask, t.Meta, t.Name))
		}
		view.Focus = focus.Resolve(qc, sc, tc)

		if err := fillContext(tx, view); err != nil {
			return err
		}
		view.History, err = tx.RecentTerminal(s.historyLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func candidate(kind lifecycle.Kind, m store.Meta, name string) focus.Candidate {
	return focus.Candidate{
		Kind:      kind,
		ID:        m.ID,
		Name:      name,
		Status:    m.Status,
		Priority:  m.Priority,
		CreatedAt: m.CreatedAt,
	}
}

func progressOf(tx *store.Tx, owner lifecycle.Ref) (*Progress, error) {
	done, total, err := tx.ItemProgress(owner)
	if err != nil {
		return nil, err
	}
	return &Progress{Done: done, Total: total}, nil
}

// fillContext adds ancestors nearest first: a subtask's task, a sidequest's
// owner, or a task's milestone and stage.
func fillContext(tx *store.Tx, view *FocusView) error {
	item := view.Focus
	switch item.Kind {
	case lifecycle.KindSubtask:
		st, err := tx.GetSubtask(item.ID)
		if err != nil {
			return err
		}
		return addTaskChain(tx, view, st.TaskID)
	case lifecycle.KindSidequest:
		q, err := tx.GetSidequest(item.ID)
		if err != nil {
			return err
		}
		if view.Progress, err = progressOf(tx, item.Candidate.Ref()); err != nil {
			return err
		}
		switch q.OwnerKind {
		case lifecycle.KindTask:
			return ignoreMissing(addTaskChain(tx, view, q.OwnerID))
		case lifecycle.KindSubtask:
			st, err := tx.GetSubtask(q.OwnerID)
			if err != nil {
				return ignoreMissing(err)
			}
			view.Context = append(view.Context, Ancestor{Kind: lifecycle.KindSubtask, ID: st.ID, Name: st.Name, Status: st.Status})
			return ignoreMissing(addTaskChain(tx, view, st.TaskID))
		}
		return nil
	case lifecycle.KindTask:
		t, err := tx.GetTask(item.ID)
		if err != nil {
			return err
		}
		if view.Progress, err = progressOf(tx, item.Candidate.Ref()); err != nil {
			return err
		}
		return addMilestoneChain(tx, view, t.MilestoneID)
	}
	return nil
}

// ignoreMissing drops not-found errors from weak references.
func ignoreMissing(err error) error {
	if fault.KindOf(err) == fault.EntityNotFound {
		return nil
	}
	return err
}

func addTaskChain(tx *store.Tx, view *FocusView, taskID string) error {
	t, err := tx.GetTask(taskID)
	if err != nil {
		return err
	}
	view.Context = append(view.Context, Ancestor{Kind: lifecycle.KindTask, ID: t.ID, Name: t.Name, Status: t.Status})
	return addMilestoneChain(tx, view, t.MilestoneID)
}

func addMilestoneChain(tx *store.Tx, view *FocusView, milestoneID string) error {
	m, err := tx.GetMilestone(milestoneID)
	if err != nil {
		return err
	}
	view.Context = append(view.Context, Ancestor{Kind: lifecycle.KindMilestone, ID: m.ID, Name: m.Name, Status: m.Status})
	st, err := tx.GetStage(m.StageID)
	if err != nil {
		return err
	}
	view.Context = append(view.Context, Ancestor{Kind: lifecycle.KindStage, ID: st.ID, Name: st.Name, Status: st.Status})
	return nil
}

// MilestoneStatus summarises one milestone for the status report.
type MilestoneStatus struct {
	store.Milestone
	Tasks     int `json:"tasks"`
	TasksDone int `json:"tasksDone"`
	TasksOpen int `json:"tasksOpen"`
}

// StageStatus summarises one stage for the status report.
type StageStatus struct {
	store.Stage
	Milestones []MilestoneStatus `json:"milestones"`
}

// Report is the project-wide status summary.
type Report struct {
	Project        *store.Project `json:"project"`
	Stages         []StageStatus  `json:"stages"`
	OpenTasks      int            `json:"openTasks"`
	PausedTasks    int            `json:"pausedTasks"`
	OpenSubtasks   int            `json:"openSubtasks"`
	OpenSidequests int            `json:"openSidequests"`
}

// Status builds the project report from one snapshot.
func (s *Service) Status(ctx context.Context) (*Report, error) {
	r := &Report{}
	err := s.view(ctx, func(tx *store.Tx) error {
		var err error
		if r.Project, err = tx.GetProject(); err != nil {
			return err
		}
		tasks, err := tx.ListTasks(store.TaskFilter{})
		if err != nil {
			return err
		}
		byMilestone := map[string][]store.Task{}
		for _, t := range tasks {
			byMilestone[t.MilestoneID] = append(byMilestone[t.MilestoneID], t)
			switch {
			case t.Status == lifecycle.StatusPaused:
				r.PausedTasks++
			case t.Status.Open():
				r.OpenTasks++
			}
		}
		stages, err := tx.ListStages()
		if err != nil {
			return err
		}
		for _, st := range stages {
			ss := StageStatus{Stage: st}
			ms, err := tx.ListMilestones(st.ID)
			if err != nil {
				return err
			}
			for _, m := range ms {
				mst := MilestoneStatus{Milestone: m}
				for _, t := range byMilestone[m.ID] {
					mst.Tasks++
					if t.Status.Terminal() {
						mst.TasksDone++
					} else {
						mst.TasksOpen++
					}
				}
				ss.Milestones = append(ss.Milestones, mst)
			}
			r.Stages = append(r.Stages, ss)
		}
		subs, err := tx.ListSubtasks("", openStatuses...)
		if err != nil {
			return err
		}
		r.OpenSubtasks = len(subs)
		quests, err := tx.ListSidequests(openStatuses...)
		if err != nil {
			return err
		}
		r.OpenSidequests = len(quests)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListTasks returns tasks ordered by priority, then age.
func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	var out []store.Task
	err := s.view(ctx, func(tx *store.Tx) error {
		if f.MilestoneID != "" {
			if _, err := tx.GetMilestone(f.MilestoneID); err != nil {
				return err
			}
		}
		var err error
		out, err = tx.ListTasks(f)
		return err
	})
	return out, err
}

// ListSubtasks returns the subtasks of one task, oldest first.
func (s *Service) ListSubtasks(ctx context.Context, taskID string) ([]store.Subtask, error) {
	var out []store.Subtask
	err := s.view(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetTask(taskID); err != nil {
			return err
		}
		var err error
		out, err = tx.ListSubtasks(taskID)
		return err
	})
	return out, err
}
