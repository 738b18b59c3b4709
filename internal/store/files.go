package store

import (
	"database/sql"
	"fmt"
)

// Soft-deleted rows keep their metadata and carry deleted_at. Listing
// functions skip them unless includeDeleted is set.

func deletedClause(includeDeleted bool) string {
	if includeDeleted {
		return ""
	}
	return " WHERE deleted_at IS NULL"
}

// ListFiles returns tracked files ordered by path.
func (t *Tx) ListFiles(includeDeleted bool) ([]FileRecord, error) {
	rows, err := t.query(`SELECT path, checksum, created_at, updated_at, deleted_at FROM files` +
		deletedClause(includeDeleted) + ` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		var created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&f.Path, &f.Checksum, &created, &updated, &deleted); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if f.DeletedAt, err = parseNullTime(deleted); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListFunctions returns tracked functions ordered by path and name.
func (t *Tx) ListFunctions(includeDeleted bool) ([]FunctionRecord, error) {
	rows, err := t.query(`SELECT path, name, signature_hash, created_at, updated_at, deleted_at FROM functions` +
		deletedClause(includeDeleted) + ` ORDER BY path, name`)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defer rows.Close()
	var out []FunctionRecord
	for rows.Next() {
		var f FunctionRecord
		var created, updated string
		var deleted sql.NullString
		if err := rows.Scan(&f.Path, &f.Name, &f.SignatureHash, &created, &updated, &deleted); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if f.DeletedAt, err = parseNullTime(deleted); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListEdges returns tracked dependency edges ordered by path, caller, callee.
func (t *Tx) ListEdges(includeDeleted bool) ([]EdgeRecord, error) {
	rows, err := t.query(`SELECT path, caller, callee, created_at, deleted_at FROM dependency_edges` +
		deletedClause(includeDeleted) + ` ORDER BY path, caller, callee`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()
	var out []EdgeRecord
	for rows.Next() {
		var e EdgeRecord
		var created string
		var deleted sql.NullString
		if err := rows.Scan(&e.Path, &e.Caller, &e.Callee, &created, &deleted); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if e.DeletedAt, err = parseNullTime(deleted); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertFile records a file's checksum, reviving it if it was tombstoned.
func (t *Tx) UpsertFile(path, checksum string) error {
	now := formatTime(t.Now())
	_, err := t.exec(`INSERT INTO files (path, checksum, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET checksum = excluded.checksum, updated_at = excluded.updated_at, deleted_at = NULL`,
		path, checksum, now, now)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", path, err)
	}
	return nil
}

// TombstoneFile soft-deletes a file and its live functions and edges.
func (t *Tx) TombstoneFile(path string) error {
	now := formatTime(t.Now())
	for _, q := range []string{
		`UPDATE files SET deleted_at = ?, updated_at = ? WHERE path = ? AND deleted_at IS NULL`,
		`UPDATE functions SET deleted_at = ?, updated_at = ? WHERE path = ? AND deleted_at IS NULL`,
	} {
		if _, err := t.exec(q, now, now, path); err != nil {
			return fmt.Errorf("tombstone file %s: %w", path, err)
		}
	}
	if _, err := t.exec(`UPDATE dependency_edges SET deleted_at = ? WHERE path = ? AND deleted_at IS NULL`, now, path); err != nil {
		return fmt.Errorf("tombstone file %s edges: %w", path, err)
	}
	return nil
}

// DeleteFile removes a file and every function and edge recorded under it.
func (t *Tx) DeleteFile(path string) error {
	for _, q := range []string{
		`DELETE FROM dependency_edges WHERE path = ?`,
		`DELETE FROM functions WHERE path = ?`,
		`DELETE FROM files WHERE path = ?`,
	} {
		if _, err := t.exec(q, path); err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
	}
	return nil
}

// UpsertFunction records a function's signature hash, reviving it if tombstoned.
func (t *Tx) UpsertFunction(path, name, signatureHash string) error {
	now := formatTime(t.Now())
	_, err := t.exec(`INSERT INTO functions (path, name, signature_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path, name) DO UPDATE SET signature_hash = excluded.signature_hash, updated_at = excluded.updated_at, deleted_at = NULL`,
		path, name, signatureHash, now, now)
	if err != nil {
		return fmt.Errorf("upsert function %s:%s: %w", path, name, err)
	}
	return nil
}

func (t *Tx) TombstoneFunction(path, name string) error {
	now := formatTime(t.Now())
	_, err := t.exec(`UPDATE functions SET deleted_at = ?, updated_at = ? WHERE path = ? AND name = ? AND deleted_at IS NULL`,
		now, now, path, name)
	if err != nil {
		return fmt.Errorf("tombstone function %s:%s: %w", path, name, err)
	}
	return nil
}

func (t *Tx) DeleteFunction(path, name string) error {
	if _, err := t.exec(`DELETE FROM functions WHERE path = ? AND name = ?`, path, name); err != nil {
		return fmt.Errorf("delete function %s:%s: %w", path, name, err)
	}
	return nil
}

// UpsertEdge records a dependency edge, reviving it if tombstoned.
func (t *Tx) UpsertEdge(path, caller, callee string) error {
	_, err := t.exec(`INSERT INTO dependency_edges (path, caller, callee, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path, caller, callee) DO UPDATE SET deleted_at = NULL`,
		path, caller, callee, formatTime(t.Now()))
	if err != nil {
		return fmt.Errorf("upsert edge %s:%s->%s: %w", path, caller, callee, err)
	}
	return nil
}

func (t *Tx) TombstoneEdge(path, caller, callee string) error {
	_, err := t.exec(`UPDATE dependency_edges SET deleted_at = ? WHERE path = ? AND caller = ? AND callee = ? AND deleted_at IS NULL`,
		formatTime(t.Now()), path, caller, callee)
	if err != nil {
		return fmt.Errorf("tombstone edge %s:%s->%s: %w", path, caller, callee, err)
	}
	return nil
}

func (t *Tx) DeleteEdge(path, caller, callee string) error {
	if _, err := t.exec(`DELETE FROM dependency_edges WHERE path = ? AND caller = ? AND callee = ?`, path, caller, callee); err != nil {
		return fmt.Errorf("delete edge %s:%s->%s: %w", path, caller, callee, err)
	}
	return nil
}
