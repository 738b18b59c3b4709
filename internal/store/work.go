package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
)

var statusTables = map[lifecycle.Kind]string{
	lifecycle.KindStage:     "stages",
	lifecycle.KindMilestone: "milestones",
	lifecycle.KindTask:      "tasks",
	lifecycle.KindSubtask:   "subtasks",
	lifecycle.KindSidequest: "sidequests",
	lifecycle.KindItem:      "items",
}

// ---------------------------------------------------------------------------
// Project
// ---------------------------------------------------------------------------

// EnsureProject creates the singleton project if it does not exist yet.
// It reports whether a row was created.
func (t *Tx) EnsureProject(name string) (*Project, bool, error) {
	p, err := t.GetProject()
	if err == nil {
		return p, false, nil
	}
	if !errors.Is(err, fault.ErrEntityNotFound) {
		return nil, false, err
	}
	now := formatTime(t.Now())
	if _, err := t.exec(`INSERT INTO projects (id, name, version, status, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)`, ProjectID, name, ProjectActive, now, now); err != nil {
		return nil, false, fmt.Errorf("create project: %w", err)
	}
	p, err = t.GetProject()
	return p, err == nil, err
}

// GetProject returns the singleton project.
func (t *Tx) GetProject() (*Project, error) {
	var p Project
	var created, updated string
	var completed sql.NullString
	err := t.queryRow(`SELECT id, name, version, status, created_at, updated_at, completed_at
		FROM projects WHERE id = ?`, ProjectID).Scan(
		&p.ID, &p.Name, &p.Version, &p.Status, &created, &updated, &completed)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("project", ProjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if p.CompletedAt, err = parseNullTime(completed); err != nil {
		return nil, err
	}
	return &p, nil
}

// BumpVersion increments the project version and returns the new value.
func (t *Tx) BumpVersion() (int64, error) {
	res, err := t.exec(`UPDATE projects SET version = version + 1, updated_at = ? WHERE id = ?`,
		formatTime(t.Now()), ProjectID)
	if err != nil {
		return 0, fmt.Errorf("bump project version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fault.NotFound("project", ProjectID)
	}
	var v int64
	if err := t.queryRow(`SELECT version FROM projects WHERE id = ?`, ProjectID).Scan(&v); err != nil {
		return 0, fmt.Errorf("read project version: %w", err)
	}
	return v, nil
}

// SetProjectStatus records the project status.
func (t *Tx) SetProjectStatus(status string) error {
	now := formatTime(t.Now())
	var completed any
	if status == ProjectCompleted {
		completed = now
	}
	_, err := t.exec(`UPDATE projects SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		status, now, completed, ProjectID)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// SetStatus writes a new status for any work entity. completed_at follows
// the status: set when terminal, cleared otherwise.
func (t *Tx) SetStatus(kind lifecycle.Kind, id string, status lifecycle.Status) error {
	table, ok := statusTables[kind]
	if !ok {
		return fmt.Errorf("set status: unsupported kind %q", kind)
	}
	now := formatTime(t.Now())
	var completed any
	if status.Terminal() {
		completed = now
	}
	res, err := t.exec(`UPDATE `+table+` SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(status), now, completed, id)
	if err != nil {
		return fmt.Errorf("set %s status: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.NotFound(string(kind), id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stages & milestones
// ---------------------------------------------------------------------------

// InsertStage appends a stage after the existing ones.
func (t *Tx) InsertStage(name string) (*Stage, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM stages`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count stages: %w", err)
	}
	now := t.Now()
	s := &Stage{
		Meta:       newMeta(now, lifecycle.PriorityMedium),
		Name:       name,
		OrderIndex: n,
	}
	_, err := t.exec(`INSERT INTO stages (id, name, order_index, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.OrderIndex, string(s.Status), int(s.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert stage: %w", err)
	}
	return s, nil
}

const stageCols = metaCols + ", name, order_index"

func (t *Tx) GetStage(id string) (*Stage, error) {
	var s Stage
	err := scanWith(t.queryRow(`SELECT `+stageCols+` FROM stages WHERE id = ?`, id), &s.Meta, &s.Name, &s.OrderIndex)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("stage", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return &s, nil
}

// ListStages returns stages in roadmap order.
func (t *Tx) ListStages() ([]Stage, error) {
	rows, err := t.query(`SELECT ` + stageCols + ` FROM stages ORDER BY order_index, id`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()
	var out []Stage
	for rows.Next() {
		var s Stage
		if err := scanWith(rows, &s.Meta, &s.Name, &s.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertMilestone appends a milestone at the end of its stage.
func (t *Tx) InsertMilestone(stageID, name string) (*Milestone, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM milestones WHERE stage_id = ?`, stageID).Scan(&n); err != nil {
		return nil, fmt.Errorf("count milestones: %w", err)
	}
	now := t.Now()
	m := &Milestone{
		Meta:       newMeta(now, lifecycle.PriorityForOrdinal(n)),
		StageID:    stageID,
		Name:       name,
		OrderIndex: n,
	}
	_, err := t.exec(`INSERT INTO milestones (id, stage_id, name, order_index, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.StageID, m.Name, m.OrderIndex, string(m.Status), int(m.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert milestone: %w", err)
	}
	return m, nil
}

const milestoneCols = metaCols + ", stage_id, name, order_index"

func (t *Tx) GetMilestone(id string) (*Milestone, error) {
	var m Milestone
	err := scanWith(t.queryRow(`SELECT `+milestoneCols+` FROM milestones WHERE id = ?`, id),
		&m.Meta, &m.StageID, &m.Name, &m.OrderIndex)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("milestone", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get milestone: %w", err)
	}
	return &m, nil
}

// ListMilestones returns the milestones of one stage in order.
func (t *Tx) ListMilestones(stageID string) ([]Milestone, error) {
	rows, err := t.query(`SELECT `+milestoneCols+` FROM milestones WHERE stage_id = ? ORDER BY order_index, id`, stageID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()
	var out []Milestone
	for rows.Next() {
		var m Milestone
		if err := scanWith(rows, &m.Meta, &m.StageID, &m.Name, &m.OrderIndex); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (t *Tx) InsertTask(milestoneID, name string, prio lifecycle.Priority) (*Task, error) {
	now := t.Now()
	task := &Task{Meta: newMeta(now, prio), MilestoneID: milestoneID, Name: name}
	_, err := t.exec(`INSERT INTO tasks (id, milestone_id, name, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.MilestoneID, task.Name, string(task.Status), int(task.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

const taskCols = metaCols + ", milestone_id, name"

func (t *Tx) GetTask(id string) (*Task, error) {
	var task Task
	err := scanWith(t.queryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id), &task.Meta, &task.MilestoneID, &task.Name)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("task", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &task, nil
}

// TaskFilter narrows ListTasks. Zero values mean "any".
type TaskFilter struct {
	MilestoneID string
	Statuses    []lifecycle.Status
}

// ListTasks returns tasks ordered by priority (highest first), then age.
func (t *Tx) ListTasks(f TaskFilter) ([]Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []any
	if f.MilestoneID != "" {
		query += " AND milestone_id = ?"
		args = append(args, f.MilestoneID)
	}
	if clause, sargs := statusIn("status", f.Statuses); clause != "" {
		query += " AND " + clause
		args = append(args, sargs...)
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var task Task
		if err := scanWith(rows, &task.Meta, &task.MilestoneID, &task.Name); err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Subtasks
// ---------------------------------------------------------------------------

func (t *Tx) InsertSubtask(taskID, name string, status lifecycle.Status) (*Subtask, error) {
	now := t.Now()
	st := &Subtask{Meta: newMeta(now, lifecycle.PriorityHigh), TaskID: taskID, Name: name}
	st.Status = status
	_, err := t.exec(`INSERT INTO subtasks (id, task_id, name, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TaskID, st.Name, string(st.Status), int(st.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert subtask: %w", err)
	}
	return st, nil
}

const subtaskCols = metaCols + ", task_id, name"

func (t *Tx) GetSubtask(id string) (*Subtask, error) {
	var st Subtask
	err := scanWith(t.queryRow(`SELECT `+subtaskCols+` FROM subtasks WHERE id = ?`, id), &st.Meta, &st.TaskID, &st.Name)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("subtask", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	return &st, nil
}

// ListSubtasks returns subtasks, oldest first. An empty taskID lists all;
// statuses narrows by status.
func (t *Tx) ListSubtasks(taskID string, statuses ...lifecycle.Status) ([]Subtask, error) {
	query := `SELECT ` + subtaskCols + ` FROM subtasks WHERE 1=1`
	var args []any
	if taskID != "" {
		query += " AND task_id = ?"
		args = append(args, taskID)
	}
	if clause, sargs := statusIn("status", statuses); clause != "" {
		query += " AND " + clause
		args = append(args, sargs...)
	}
	query += " ORDER BY created_at ASC, id ASC"
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()
	var out []Subtask
	for rows.Next() {
		var st Subtask
		if err := scanWith(rows, &st.Meta, &st.TaskID, &st.Name); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountOpenSubtasks counts the task's subtasks that are not terminal.
func (t *Tx) CountOpenSubtasks(taskID string) (int, error) {
	var n int
	err := t.queryRow(`SELECT COUNT(*) FROM subtasks WHERE task_id = ? AND status NOT IN ('completed', 'cancelled')`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open subtasks: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Sidequests
// ---------------------------------------------------------------------------

func (t *Tx) InsertSidequest(q *Sidequest) error {
	now := t.Now()
	status := q.Status
	q.Meta = newMeta(now, q.Priority)
	if status != "" {
		q.Status = status
	}
	_, err := t.exec(`INSERT INTO sidequests (id, name, owner_kind, owner_id, defect, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Name, string(q.OwnerKind), q.OwnerID, q.Defect, string(q.Status), int(q.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert sidequest: %w", err)
	}
	return nil
}

const sidequestCols = metaCols + ", name, owner_kind, owner_id, defect, outcome"

func scanSidequest(r row, q *Sidequest) error {
	return scanWith(r, &q.Meta, &q.Name, &q.OwnerKind, &q.OwnerID, &q.Defect, &q.Outcome)
}

func (t *Tx) GetSidequest(id string) (*Sidequest, error) {
	var q Sidequest
	err := scanSidequest(t.queryRow(`SELECT `+sidequestCols+` FROM sidequests WHERE id = ?`, id), &q)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("sidequest", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sidequest: %w", err)
	}
	return &q, nil
}

// ListSidequests returns sidequests oldest first, optionally by status.
func (t *Tx) ListSidequests(statuses ...lifecycle.Status) ([]Sidequest, error) {
	query := `SELECT ` + sidequestCols + ` FROM sidequests`
	var args []any
	if clause, sargs := statusIn("status", statuses); clause != "" {
		query += " WHERE " + clause
		args = sargs
	}
	query += " ORDER BY created_at ASC, id ASC"
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sidequests: %w", err)
	}
	defer rows.Close()
	var out []Sidequest
	for rows.Next() {
		var q Sidequest
		if err := scanSidequest(rows, &q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SetSidequestOutcome stores the lessons-learned text on the sidequest row.
func (t *Tx) SetSidequestOutcome(id, outcome string) error {
	_, err := t.exec(`UPDATE sidequests SET outcome = ?, updated_at = ? WHERE id = ?`, outcome, formatTime(t.Now()), id)
	if err != nil {
		return fmt.Errorf("set sidequest outcome: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

func (t *Tx) InsertItem(owner lifecycle.Ref, name string) (*Item, error) {
	now := t.Now()
	it := &Item{Meta: newMeta(now, lifecycle.PriorityMedium), OwnerKind: owner.Kind, OwnerID: owner.ID, Name: name}
	_, err := t.exec(`INSERT INTO items (id, owner_kind, owner_id, name, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, string(it.OwnerKind), it.OwnerID, it.Name, string(it.Status), int(it.Priority), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

const itemCols = metaCols + ", owner_kind, owner_id, name"

func (t *Tx) GetItem(id string) (*Item, error) {
	var it Item
	err := scanWith(t.queryRow(`SELECT `+itemCols+` FROM items WHERE id = ?`, id), &it.Meta, &it.OwnerKind, &it.OwnerID, &it.Name)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

// ListItems returns the items of one owner, oldest first.
func (t *Tx) ListItems(owner lifecycle.Ref) ([]Item, error) {
	rows, err := t.query(`SELECT `+itemCols+` FROM items WHERE owner_kind = ? AND owner_id = ? ORDER BY created_at, id`,
		string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := scanWith(rows, &it.Meta, &it.OwnerKind, &it.OwnerID, &it.Name); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CompleteOpenItems marks every pending item of owner completed and returns how many changed.
func (t *Tx) CompleteOpenItems(owner lifecycle.Ref) (int, error) {
	now := formatTime(t.Now())
	res, err := t.exec(`UPDATE items SET status = 'completed', updated_at = ?, completed_at = ?
		WHERE owner_kind = ? AND owner_id = ? AND status != 'completed'`,
		now, now, string(owner.Kind), owner.ID)
	if err != nil {
		return 0, fmt.Errorf("complete items: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ItemProgress returns completed and total item counts for owner.
func (t *Tx) ItemProgress(owner lifecycle.Ref) (done, total int, err error) {
	err = t.queryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
		FROM items WHERE owner_kind = ? AND owner_id = ?`, string(owner.Kind), owner.ID).Scan(&total, &done)
	if err != nil {
		return 0, 0, fmt.Errorf("item progress: %w", err)
	}
	return done, total, nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// TerminalEntry is a closed work item for historical context.
type TerminalEntry struct {
	Kind        lifecycle.Kind   `json:"kind"`
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Status      lifecycle.Status `json:"status"`
	CompletedAt time.Time        `json:"completedAt"`
}

// RecentTerminal returns the most recently closed tasks, subtasks and
// sidequests, newest first.
func (t *Tx) RecentTerminal(limit int) ([]TerminalEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := t.query(`
		SELECT 'task', id, name, status, completed_at FROM tasks WHERE completed_at IS NOT NULL
		UNION ALL
		SELECT 'subtask', id, name, status, completed_at FROM subtasks WHERE completed_at IS NOT NULL
		UNION ALL
		SELECT 'sidequest', id, name, status, completed_at FROM sidequests WHERE completed_at IS NOT NULL
		ORDER BY 5 DESC, 2 ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent terminal: %w", err)
	}
	defer rows.Close()
	var out []TerminalEntry
	for rows.Next() {
		var e TerminalEntry
		var completed string
		if err := rows.Scan(&e.Kind, &e.ID, &e.Name, &e.Status, &completed); err != nil {
			return nil, err
		}
		if e.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func newMeta(now time.Time, prio lifecycle.Priority) Meta {
	return Meta{
		ID:        newID(),
		Status:    lifecycle.StatusPending,
		Priority:  prio,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
