package hierarchy

import (
	"context"
	"strings"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// AddNote records a free-form note from a user or a directive, optionally
// attached to an existing entity.
func (s *Service) AddNote(ctx context.Context, about lifecycle.Ref, source, content string) (*store.Note, error) {
	if strings.TrimSpace(source) == "" {
		source = notes.SourceUser
	}
	if source == notes.SourceAI {
		return nil, fault.New(fault.InvalidArgument, "ai notes are written by the engine")
	}
	var out store.Note
	err := s.update(ctx, "add_note", func(o *outbox) error {
		if !about.IsZero() {
			if err := exists(o.tx, about); err != nil {
				return err
			}
		}
		if err := o.note(notes.Entry{Type: notes.TypeUser, Content: content, Ref: about, Source: source}); err != nil {
			return err
		}
		out = o.notes[len(o.notes)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func exists(tx *store.Tx, r lifecycle.Ref) error {
	var err error
	switch r.Kind {
	case lifecycle.KindProject:
		if r.ID != store.ProjectID {
			return fault.NotFound("project", r.ID)
		}
		_, err = tx.GetProject()
	case lifecycle.KindStage:
		_, err = tx.GetStage(r.ID)
	case lifecycle.KindMilestone:
		_, err = tx.GetMilestone(r.ID)
	case lifecycle.KindTask:
		_, err = tx.GetTask(r.ID)
	case lifecycle.KindSubtask:
		_, err = tx.GetSubtask(r.ID)
	case lifecycle.KindSidequest:
		_, err = tx.GetSidequest(r.ID)
	case lifecycle.KindItem:
		_, err = tx.GetItem(r.ID)
	default:
		err = fault.Newf(fault.InvalidArgument, "notes cannot reference %q", r.Kind)
	}
	return err
}
