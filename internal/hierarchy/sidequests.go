package hierarchy

import (
	"context"
	"strings"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// SidequestInput describes a new sidequest. Owner is the task or subtask it
// interrupts, if any. Defect raises the priority from low to medium.
type SidequestInput struct {
	Name   string
	Owner  lifecycle.Ref
	Defect bool
}

// ownerLabel loads the weakly referenced owner and returns its name.
func ownerLabel(tx *store.Tx, owner lifecycle.Ref) (string, lifecycle.Status, error) {
	switch owner.Kind {
	case lifecycle.KindTask:
		t, err := tx.GetTask(owner.ID)
		if err != nil {
			return "", "", err
		}
		return t.Name, t.Status, nil
	case lifecycle.KindSubtask:
		st, err := tx.GetSubtask(owner.ID)
		if err != nil {
			return "", "", err
		}
		return st.Name, st.Status, nil
	}
	return "", "", fault.Newf(fault.InvalidArgument, "sidequest owner must be a task or subtask, got %q", owner.Kind)
}

// CreateSidequest opens a sidequest. Its owner, if any, is recorded but never
// paused; only an interruption note is written against it.
func (s *Service) CreateSidequest(ctx context.Context, in SidequestInput) (*store.Sidequest, error) {
	name, err := requireName("sidequest", in.Name)
	if err != nil {
		return nil, err
	}
	if in.Owner.ID == "" && in.Owner.Kind != "" {
		return nil, fault.New(fault.InvalidArgument, "sidequest owner id is required when a kind is given")
	}
	var q *store.Sidequest
	err = s.update(ctx, "create_sidequest", func(o *outbox) error {
		var ownerName string
		if !in.Owner.IsZero() {
			var err error
			if ownerName, _, err = ownerLabel(o.tx, in.Owner); err != nil {
				return err
			}
		}
		open, err := o.tx.ListSidequests(lifecycle.StatusPending, lifecycle.StatusInProgress)
		if err != nil {
			return err
		}
		q = &store.Sidequest{Name: name, Defect: in.Defect, OwnerKind: in.Owner.Kind, OwnerID: in.Owner.ID}
		q.Priority = lifecycle.PriorityLow
		if in.Defect {
			q.Priority = lifecycle.PriorityMedium
		}
		q.Status = lifecycle.StatusInProgress
		if len(open) > 0 {
			q.Status = lifecycle.StatusPending
		}
		if _, err := o.tx.BumpVersion(); err != nil {
			return err
		}
		if err := o.tx.InsertSidequest(q); err != nil {
			return err
		}
		if err := o.note(notes.Info(notes.TypeSidequestCreated, ref(lifecycle.KindSidequest, q.ID),
			"sidequest %q created as %s with %s priority", name, q.Status, q.Priority)); err != nil {
			return err
		}
		if in.Owner.IsZero() {
			return nil
		}
		return o.note(notes.Info(notes.TypeInterruption, in.Owner,
			"%s %q interrupted by sidequest %q; its status is unchanged", in.Owner.Kind, ownerName, name))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sidequest created", "id", q.ID, "owner", q.Owner().String(), "defect", q.Defect)
	return q, nil
}

// StartSidequest promotes a pending sidequest.
func (s *Service) StartSidequest(ctx context.Context, id string) (*store.Sidequest, error) {
	return s.moveSidequest(ctx, id, lifecycle.ActionStart)
}

// CancelSidequest abandons a sidequest without an outcome.
func (s *Service) CancelSidequest(ctx context.Context, id string) (*store.Sidequest, error) {
	return s.moveSidequest(ctx, id, lifecycle.ActionCancel)
}

func (s *Service) moveSidequest(ctx context.Context, id string, action lifecycle.Action) (*store.Sidequest, error) {
	var q *store.Sidequest
	err := s.update(ctx, "move_sidequest", func(o *outbox) error {
		var err error
		if q, err = o.tx.GetSidequest(id); err != nil {
			return err
		}
		res, err := lifecycle.Transition(sidequestEntity(q), action, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindSidequest, q.ID, res.Status); err != nil {
			return err
		}
		q.Status = res.Status
		typ := notes.TypeSidequestStarted
		if res.Status == lifecycle.StatusCancelled {
			typ = notes.TypeSidequestCancelled
		}
		return o.note(notes.Info(typ, ref(lifecycle.KindSidequest, q.ID), "sidequest %q %s", q.Name, res.Status))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sidequest moved", "id", q.ID, "status", string(q.Status))
	return q, nil
}

// SidequestOutcome reports a completed sidequest and the owner it suggests
// resuming, if that owner still has open work.
type SidequestOutcome struct {
	Sidequest       *store.Sidequest `json:"sidequest"`
	ResumeCandidate *lifecycle.Ref   `json:"resumeCandidate,omitempty"`
	ItemsCompleted  int              `json:"itemsCompleted"`
}

// CompleteSidequest closes an in-progress sidequest. The outcome is required
// and stored as a note; open items are completed with it. A referenced owner
// is offered as a resume candidate through a signal; its status is never
// changed here.
func (s *Service) CompleteSidequest(ctx context.Context, id, outcome string) (*SidequestOutcome, error) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return nil, fault.New(fault.InvalidArgument, "sidequest outcome is required", id)
	}
	var out *SidequestOutcome
	err := s.update(ctx, "complete_sidequest", func(o *outbox) error {
		q, err := o.tx.GetSidequest(id)
		if err != nil {
			return err
		}
		out = &SidequestOutcome{Sidequest: q}
		res, err := lifecycle.Transition(sidequestEntity(q), lifecycle.ActionComplete, lifecycle.OriginUser)
		if err != nil {
			return err
		}
		if err := o.tx.SetStatus(lifecycle.KindSidequest, q.ID, res.Status); err != nil {
			return err
		}
		if err := o.tx.SetSidequestOutcome(q.ID, outcome); err != nil {
			return err
		}
		q.Status, q.Outcome = res.Status, outcome
		qRef := ref(lifecycle.KindSidequest, q.ID)
		if out.ItemsCompleted, err = o.tx.CompleteOpenItems(qRef); err != nil {
			return err
		}
		if err := o.note(notes.Info(notes.TypeSidequestOutcome, qRef, "%s", outcome)); err != nil {
			return err
		}

		for _, ob := range res.Obligations {
			if ob.Type != lifecycle.ObligationSignalResumeCandidate {
				continue
			}
			name, status, err := ownerLabel(o.tx, ob.Target)
			if fault.KindOf(err) == fault.EntityNotFound {
				// Weak reference: the owner may be gone.
				continue
			}
			if err != nil {
				return err
			}
			if status.Terminal() {
				continue
			}
			target := ob.Target
			out.ResumeCandidate = &target
			if err := o.note(notes.Info(notes.TypeResumeCandidate, target,
				"sidequest %q finished; %s %q can be resumed", q.Name, target.Kind, name)); err != nil {
				return err
			}
			o.signal(&bus.Signal{
				Kind:    bus.KindResumeCandidate,
				RefKind: string(target.Kind),
				RefID:   target.ID,
				Content: "resume " + string(target.Kind) + " " + name,
				Metadata: map[string]any{
					"sidequest_id": q.ID,
					"owner_status": string(status),
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("sidequest completed", "id", out.Sidequest.ID, "resume_candidate", out.ResumeCandidate != nil)
	return out, nil
}
