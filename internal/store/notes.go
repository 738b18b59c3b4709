package store

import (
	"fmt"

	"github.com/KafClaw/roadmap/internal/lifecycle"
)

// AppendNote inserts a note. Notes are never updated or deleted, so this
// is the only write the notes table ever sees.
func (t *Tx) AppendNote(n *Note) error {
	now := t.Now()
	res, err := t.exec(`INSERT INTO notes (content, note_type, ref_kind, ref_id, source, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.Content, n.NoteType, string(n.RefKind), n.RefID, n.Source, n.Severity, formatTime(now))
	if err != nil {
		return fmt.Errorf("append note: %w", err)
	}
	id, _ := res.LastInsertId()
	n.ID = id
	n.CreatedAt = now
	return nil
}

// NoteFilter narrows ListNotes. Zero values mean "any".
type NoteFilter struct {
	RefKind    lifecycle.Kind
	RefID      string
	NoteType   string
	Severities []string
	Limit      int
}

// ListNotes returns notes newest first.
func (t *Tx) ListNotes(f NoteFilter) ([]Note, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id, content, note_type, ref_kind, ref_id, source, severity, created_at FROM notes WHERE 1=1`
	var args []any
	if f.RefKind != "" {
		query += " AND ref_kind = ?"
		args = append(args, string(f.RefKind))
	}
	if f.RefID != "" {
		query += " AND ref_id = ?"
		args = append(args, f.RefID)
	}
	if f.NoteType != "" {
		query += " AND note_type = ?"
		args = append(args, f.NoteType)
	}
	if len(f.Severities) > 0 {
		query += " AND severity IN ("
		for i, s := range f.Severities {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, s)
		}
		query += ")"
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		var created string
		if err := rows.Scan(&n.ID, &n.Content, &n.NoteType, &n.RefKind, &n.RefID, &n.Source, &n.Severity, &created); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
