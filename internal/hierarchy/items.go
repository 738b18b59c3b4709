package hierarchy

import (
	"context"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// Progress is a completed/total item count.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// ownerStatus resolves an item owner, which must be a task or sidequest.
func ownerStatus(tx *store.Tx, owner lifecycle.Ref) (string, lifecycle.Status, error) {
	switch owner.Kind {
	case lifecycle.KindTask:
		t, err := tx.GetTask(owner.ID)
		if err != nil {
			return "", "", err
		}
		return t.Name, t.Status, nil
	case lifecycle.KindSidequest:
		q, err := tx.GetSidequest(owner.ID)
		if err != nil {
			return "", "", err
		}
		return q.Name, q.Status, nil
	}
	return "", "", fault.Newf(fault.InvalidArgument, "item owner must be a task or sidequest, got %q", owner.Kind)
}

// AddItem attaches a checklist item to a task or sidequest.
func (s *Service) AddItem(ctx context.Context, owner lifecycle.Ref, name string) (*store.Item, error) {
	name, err := requireName("item", name)
	if err != nil {
		return nil, err
	}
	var it *store.Item
	err = s.update(ctx, "add_item", func(o *outbox) error {
		ownerName, status, err := ownerStatus(o.tx, owner)
		if err != nil {
			return err
		}
		if status.Terminal() {
			return fault.New(fault.IllegalTransition, string(owner.Kind)+" is "+string(status), owner.ID)
		}
		if _, err := o.tx.BumpVersion(); err != nil {
			return err
		}
		if it, err = o.tx.InsertItem(owner, name); err != nil {
			return err
		}
		return o.note(notes.Info(notes.TypeItemAdded, owner, "item %q added to %s %q", name, owner.Kind, ownerName))
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("item added", "id", it.ID, "owner", owner.String())
	return it, nil
}

// CompleteItem marks one item done. Items of a closed owner are frozen.
func (s *Service) CompleteItem(ctx context.Context, itemID string) (*store.Item, error) {
	var it *store.Item
	err := s.update(ctx, "complete_item", func(o *outbox) error {
		var err error
		if it, err = o.tx.GetItem(itemID); err != nil {
			return err
		}
		if it.Status == lifecycle.StatusCompleted {
			return fault.New(fault.IllegalTransition, "item is already completed", it.ID)
		}
		owner := lifecycle.Ref{Kind: it.OwnerKind, ID: it.OwnerID}
		_, status, err := ownerStatus(o.tx, owner)
		if err != nil {
			return err
		}
		if status.Terminal() {
			return fault.New(fault.IllegalTransition, "item owner "+owner.String()+" is "+string(status), it.ID)
		}
		if err := o.tx.SetStatus(lifecycle.KindItem, it.ID, lifecycle.StatusCompleted); err != nil {
			return err
		}
		it.Status = lifecycle.StatusCompleted
		return o.note(notes.Info(notes.TypeItemCompleted, ref(lifecycle.KindItem, it.ID), "item %q completed", it.Name))
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Progress counts the items of a task or sidequest.
func (s *Service) Progress(ctx context.Context, owner lifecycle.Ref) (Progress, error) {
	var p Progress
	err := s.view(ctx, func(tx *store.Tx) error {
		if _, _, err := ownerStatus(tx, owner); err != nil {
			return err
		}
		var err error
		p.Done, p.Total, err = tx.ItemProgress(owner)
		return err
	})
	return p, err
}
