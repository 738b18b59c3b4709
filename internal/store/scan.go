package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/roadmap/internal/lifecycle"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// row is satisfied by *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

const metaCols = "id, status, priority, created_at, updated_at, completed_at"

type metaScan struct {
	created   string
	updated   string
	completed sql.NullString
}

func (ms *metaScan) targets(m *Meta) []any {
	return []any{&m.ID, &m.Status, &m.Priority, &ms.created, &ms.updated, &ms.completed}
}

func (ms *metaScan) finish(m *Meta) error {
	var err error
	if m.CreatedAt, err = parseTime(ms.created); err != nil {
		return err
	}
	if m.UpdatedAt, err = parseTime(ms.updated); err != nil {
		return err
	}
	m.CompletedAt, err = parseNullTime(ms.completed)
	return err
}

func scanWith(r row, m *Meta, extra ...any) error {
	var ms metaScan
	if err := r.Scan(append(ms.targets(m), extra...)...); err != nil {
		return err
	}
	return ms.finish(m)
}

// statusIn renders "status IN (?,?)" and its args; empty means no filter.
func statusIn(col string, statuses []lifecycle.Status) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		marks[i] = "?"
		args[i] = string(s)
	}
	return col + " IN (" + strings.Join(marks, ",") + ")", args
}
