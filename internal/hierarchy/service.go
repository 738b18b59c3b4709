// Package hierarchy applies work-item commands: it validates each one with
// the lifecycle rules, writes the result and its cascade in one store
// transaction, records notes, and publishes signals once the write commits.
package hierarchy

import (
	"context"
	"log/slog"
	"strings"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// DefaultHistoryLimit bounds the recent-terminal list returned with focus.
const DefaultHistoryLimit = 10

// Options configures a Service. Zero values are usable.
type Options struct {
	Publisher    bus.Publisher
	Logger       *slog.Logger
	HistoryLimit int
}

// Service is the command surface the CLI (or any other router) drives.
type Service struct {
	store        *store.Store
	pub          bus.Publisher
	log          *slog.Logger
	historyLimit int
}

// New builds a Service on an open store.
func New(s *store.Store, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = bus.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Service{
		store:        s,
		pub:          opts.Publisher,
		log:          opts.Logger,
		historyLimit: opts.HistoryLimit,
	}
}

// outbox collects what a transaction wants to announce. It is published
// only after commit and rebuilt on every retry.
type outbox struct {
	tx      *store.Tx
	notes   []store.Note
	signals []*bus.Signal
}

func (o *outbox) note(e notes.Entry) error {
	n, err := notes.Append(o.tx, e)
	if err != nil {
		return err
	}
	o.notes = append(o.notes, n)
	return nil
}

func (o *outbox) signal(sig *bus.Signal) {
	o.signals = append(o.signals, sig)
}

// update runs fn in one write transaction and publishes its outbox on success.
func (s *Service) update(ctx context.Context, op string, fn func(o *outbox) error) error {
	var box *outbox
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		box = &outbox{tx: tx}
		return fn(box)
	})
	if err != nil {
		s.log.Debug("hierarchy op rejected", "op", op, "kind", fault.KindOf(err), "error", err)
		return err
	}
	for _, n := range box.notes {
		s.pub.Publish(notes.Signal(n))
	}
	for _, sig := range box.signals {
		s.pub.Publish(sig)
	}
	return nil
}

func (s *Service) view(ctx context.Context, fn func(tx *store.Tx) error) error {
	return s.store.View(ctx, fn)
}

func requireName(what, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fault.Newf(fault.InvalidArgument, "%s name is required", what)
	}
	return name, nil
}

func ref(kind lifecycle.Kind, id string) lifecycle.Ref {
	return lifecycle.Ref{Kind: kind, ID: id}
}

func taskEntity(t *store.Task) lifecycle.Entity {
	return lifecycle.Entity{
		Kind:   lifecycle.KindTask,
		ID:     t.ID,
		Status: t.Status,
		Parent: ref(lifecycle.KindMilestone, t.MilestoneID),
	}
}

func subtaskEntity(st *store.Subtask) lifecycle.Entity {
	return lifecycle.Entity{
		Kind:   lifecycle.KindSubtask,
		ID:     st.ID,
		Status: st.Status,
		Parent: ref(lifecycle.KindTask, st.TaskID),
	}
}

func sidequestEntity(q *store.Sidequest) lifecycle.Entity {
	return lifecycle.Entity{
		Kind:   lifecycle.KindSidequest,
		ID:     q.ID,
		Status: q.Status,
		Owner:  q.Owner(),
	}
}

// InitProject creates the singleton project. Calling it again is a no-op
// that returns the existing project.
func (s *Service) InitProject(ctx context.Context, name string) (*store.Project, error) {
	name, err := requireName("project", name)
	if err != nil {
		return nil, err
	}
	var p *store.Project
	err = s.update(ctx, "init_project", func(o *outbox) error {
		var created bool
		p, created, err = o.tx.EnsureProject(name)
		if err != nil || !created {
			return err
		}
		return o.note(notes.Info(notes.TypeProjectCreated, ref(lifecycle.KindProject, p.ID), "project %q initialised", name))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("project ready", "name", p.Name, "version", p.Version)
	return p, nil
}

// AddStage appends a stage to the completion path.
func (s *Service) AddStage(ctx context.Context, name string) (*store.Stage, error) {
	name, err := requireName("stage", name)
	if err != nil {
		return nil, err
	}
	var st *store.Stage
	err = s.update(ctx, "add_stage", func(o *outbox) error {
		if err := grow(o); err != nil {
			return err
		}
		if st, err = o.tx.InsertStage(name); err != nil {
			return err
		}
		return o.note(notes.Info(notes.TypeStageCreated, ref(lifecycle.KindStage, st.ID), "stage %q added at position %d", name, st.OrderIndex))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("stage added", "id", st.ID, "name", name)
	return st, nil
}

// AddMilestone appends a milestone to an open stage.
func (s *Service) AddMilestone(ctx context.Context, stageID, name string) (*store.Milestone, error) {
	name, err := requireName("milestone", name)
	if err != nil {
		return nil, err
	}
	var m *store.Milestone
	err = s.update(ctx, "add_milestone", func(o *outbox) error {
		stage, err := o.tx.GetStage(stageID)
		if err != nil {
			return err
		}
		if stage.Status == lifecycle.StatusCompleted {
			return fault.New(fault.IllegalTransition, "cannot add a milestone to a completed stage", stage.ID)
		}
		if err := grow(o); err != nil {
			return err
		}
		if m, err = o.tx.InsertMilestone(stage.ID, name); err != nil {
			return err
		}
		return o.note(notes.Info(notes.TypeMilestoneCreated, ref(lifecycle.KindMilestone, m.ID),
			"milestone %q added to stage %q (default task priority %s)", name, stage.Name, m.Priority))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("milestone added", "id", m.ID, "stage", stageID, "name", name)
	return m, nil
}

// grow bumps the project version for a structural create. New work under a
// completed project reopens it.
func grow(o *outbox) error {
	if _, err := o.tx.BumpVersion(); err != nil {
		return err
	}
	p, err := o.tx.GetProject()
	if err != nil || p.Status != store.ProjectCompleted {
		return err
	}
	if err := o.tx.SetProjectStatus(store.ProjectActive); err != nil {
		return err
	}
	return o.note(notes.Info(notes.TypeProjectReopened, ref(lifecycle.KindProject, p.ID), "project reopened by new work"))
}

// activate moves a milestone and its stage from pending to in progress once
// work starts beneath them.
func activate(tx *store.Tx, milestoneID string) error {
	m, err := tx.GetMilestone(milestoneID)
	if err != nil {
		return err
	}
	if m.Status == lifecycle.StatusPending {
		if err := tx.SetStatus(lifecycle.KindMilestone, m.ID, lifecycle.StatusInProgress); err != nil {
			return err
		}
	}
	st, err := tx.GetStage(m.StageID)
	if err != nil {
		return err
	}
	if st.Status == lifecycle.StatusPending {
		return tx.SetStatus(lifecycle.KindStage, st.ID, lifecycle.StatusInProgress)
	}
	return nil
}

// rollup reports which containers a task closure completed.
type rollup struct {
	milestone bool
	stage     bool
	project   bool
}

// recomputeMilestone completes the milestone once all its tasks are terminal,
// then the stage once all its milestones are, then the project.
func recomputeMilestone(o *outbox, milestoneID string) (rollup, error) {
	var r rollup
	tx := o.tx
	m, err := tx.GetMilestone(milestoneID)
	if err != nil {
		return r, err
	}
	if m.Status == lifecycle.StatusCompleted {
		return r, nil
	}
	tasks, err := tx.ListTasks(store.TaskFilter{MilestoneID: m.ID})
	if err != nil {
		return r, err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return r, nil
		}
	}
	if err := tx.SetStatus(lifecycle.KindMilestone, m.ID, lifecycle.StatusCompleted); err != nil {
		return r, err
	}
	r.milestone = true
	if err := o.note(notes.Info(notes.TypeMilestoneCompleted, ref(lifecycle.KindMilestone, m.ID), "milestone %q completed", m.Name)); err != nil {
		return r, err
	}
	r.stage, r.project, err = recomputeStage(o, m.StageID)
	return r, err
}

func recomputeStage(o *outbox, stageID string) (stageDone, projectDone bool, err error) {
	tx := o.tx
	st, err := tx.GetStage(stageID)
	if err != nil || st.Status == lifecycle.StatusCompleted {
		return false, false, err
	}
	ms, err := tx.ListMilestones(st.ID)
	if err != nil {
		return false, false, err
	}
	for _, m := range ms {
		if m.Status != lifecycle.StatusCompleted {
			return false, false, nil
		}
	}
	if err := tx.SetStatus(lifecycle.KindStage, st.ID, lifecycle.StatusCompleted); err != nil {
		return false, false, err
	}
	if err := o.note(notes.Info(notes.TypeStageCompleted, ref(lifecycle.KindStage, st.ID), "stage %q completed", st.Name)); err != nil {
		return true, false, err
	}

	stages, err := tx.ListStages()
	if err != nil {
		return true, false, err
	}
	for _, other := range stages {
		if other.ID != st.ID && other.Status != lifecycle.StatusCompleted {
			return true, false, nil
		}
	}
	if err := tx.SetProjectStatus(store.ProjectCompleted); err != nil {
		return true, false, err
	}
	return true, true, o.note(notes.Info(notes.TypeProjectCompleted, ref(lifecycle.KindProject, store.ProjectID), "every stage is complete"))
}
