package store

import (
	"time"

	"github.com/KafClaw/roadmap/internal/lifecycle"
)

// ProjectID is the fixed id of the singleton project row.
const ProjectID = "project"

// Project status values.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
)

// Meta holds the columns every work entity carries.
type Meta struct {
	ID          string             `json:"id"`
	Status      lifecycle.Status   `json:"status"`
	Priority    lifecycle.Priority `json:"priority"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// Project is the aggregate root. Version increments on every structural change.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     int64      `json:"version"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Stage is an ordered phase of the completion path.
type Stage struct {
	Meta
	Name       string `json:"name"`
	OrderIndex int    `json:"orderIndex"`
}

// Milestone belongs to one stage and is ordered within it.
type Milestone struct {
	Meta
	StageID    string `json:"stageId"`
	Name       string `json:"name"`
	OrderIndex int    `json:"orderIndex"`
}

// Task belongs to one milestone.
type Task struct {
	Meta
	MilestoneID string `json:"milestoneId"`
	Name        string `json:"name"`
}

// Subtask belongs to one task; its priority is always high.
type Subtask struct {
	Meta
	TaskID string `json:"taskId"`
	Name   string `json:"name"`
}

// Sidequest belongs to the project and may weakly reference the task or
// subtask it interrupted.
type Sidequest struct {
	Meta
	Name      string         `json:"name"`
	OwnerKind lifecycle.Kind `json:"ownerKind,omitempty"`
	OwnerID   string         `json:"ownerId,omitempty"`
	Defect    bool           `json:"defect"`
	Outcome   string         `json:"outcome,omitempty"`
}

// Owner returns the weak back-reference, zero when standalone.
func (q *Sidequest) Owner() lifecycle.Ref {
	if q.OwnerID == "" {
		return lifecycle.Ref{}
	}
	return lifecycle.Ref{Kind: q.OwnerKind, ID: q.OwnerID}
}

// Item is the smallest unit of work, owned by a task or sidequest through a
// tagged reference.
type Item struct {
	Meta
	OwnerKind lifecycle.Kind `json:"ownerKind"`
	OwnerID   string         `json:"ownerId"`
	Name      string         `json:"name"`
}

// Note is an immutable audit record.
type Note struct {
	ID        int64          `json:"id"`
	Content   string         `json:"content"`
	NoteType  string         `json:"noteType"`
	RefKind   lifecycle.Kind `json:"refKind,omitempty"`
	RefID     string         `json:"refId,omitempty"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	CreatedAt time.Time      `json:"createdAt"`
}

// FileRecord mirrors one tracked artifact.
type FileRecord struct {
	Path      string     `json:"path"`
	Checksum  string     `json:"checksum"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// FunctionRecord mirrors one function declared in a tracked file.
type FunctionRecord struct {
	Path          string     `json:"path"`
	Name          string     `json:"name"`
	SignatureHash string     `json:"signatureHash"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

// EdgeRecord mirrors one caller→callee dependency declared in a tracked file.
type EdgeRecord struct {
	Path      string     `json:"path"`
	Caller    string     `json:"caller"`
	Callee    string     `json:"callee"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Timestamps are fixed-width UTC text so ordering is lexical and identical
// under both drivers.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Schema creates every table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS stages (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 2,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS milestones (
	id TEXT PRIMARY KEY,
	stage_id TEXT NOT NULL REFERENCES stages(id),
	name TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 2,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_milestones_stage ON milestones(stage_id, order_index);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	milestone_id TEXT NOT NULL REFERENCES milestones(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 2,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_milestone ON tasks(milestone_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 3,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id, status);

CREATE TABLE IF NOT EXISTS sidequests (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_kind TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL DEFAULT '',
	defect INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_sidequests_status ON sidequests(status);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	owner_kind TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	priority INTEGER NOT NULL DEFAULT 2,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_items_owner ON items(owner_kind, owner_id);

CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	note_type TEXT NOT NULL,
	ref_kind TEXT NOT NULL DEFAULT '',
	ref_id TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT 'ai',
	severity TEXT NOT NULL DEFAULT 'info',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_ref ON notes(ref_kind, ref_id);
CREATE INDEX IF NOT EXISTS idx_notes_type ON notes(note_type);

CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	checksum TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);

CREATE TABLE IF NOT EXISTS functions (
	path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	name TEXT NOT NULL,
	signature_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT,
	PRIMARY KEY (path, name)
);

CREATE TABLE IF NOT EXISTS dependency_edges (
	path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	caller TEXT NOT NULL,
	callee TEXT NOT NULL,
	created_at TEXT NOT NULL,
	deleted_at TEXT,
	PRIMARY KEY (path, caller, callee)
);
`
