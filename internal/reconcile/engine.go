package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/roadmap/internal/bus"
	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
	"github.com/KafClaw/roadmap/internal/notes"
	"github.com/KafClaw/roadmap/internal/store"
)

// OrphanPolicy decides what happens to records whose artifact disappeared.
type OrphanPolicy string

const (
	// OrphanSoft tombstones the record and keeps its metadata. Default.
	OrphanSoft OrphanPolicy = "soft"
	// OrphanHard removes the record and every function and edge under it.
	OrphanHard OrphanPolicy = "hard"
)

// ParseOrphanPolicy accepts "soft", "hard" or empty (soft).
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrphanSoft:
		return OrphanSoft, nil
	case OrphanHard:
		return OrphanHard, nil
	}
	return "", fault.Newf(fault.InvalidArgument, "unknown orphan policy %q (want soft or hard)", s)
}

// ApplyOptions tunes Apply. The zero value soft-deletes orphans.
type ApplyOptions struct {
	Orphans OrphanPolicy
}

// Report summarises an applied (or previewed) diff.
type Report struct {
	Inserted          int      `json:"inserted"`
	Updated           int      `json:"updated"`
	OrphanedSoft      int      `json:"orphanedSoft"`
	OrphanedHard      int      `json:"orphanedHard"`
	FunctionsInserted int      `json:"functionsInserted"`
	FunctionsUpdated  int      `json:"functionsUpdated"`
	FunctionsDeleted  int      `json:"functionsDeleted"`
	EdgesInserted     int      `json:"edgesInserted"`
	EdgesDeleted      int      `json:"edgesDeleted"`
	Warnings          []string `json:"warnings,omitempty"`
	DryRun            bool     `json:"dryRun,omitempty"`
}

// Summary renders the report on one line.
func (r *Report) Summary() string {
	return fmt.Sprintf("inserted=%d updated=%d orphaned_soft=%d orphaned_hard=%d functions=+%d~%d-%d edges=+%d-%d warnings=%d",
		r.Inserted, r.Updated, r.OrphanedSoft, r.OrphanedHard,
		r.FunctionsInserted, r.FunctionsUpdated, r.FunctionsDeleted,
		r.EdgesInserted, r.EdgesDeleted, len(r.Warnings))
}

// Engine runs sync cycles against a store.
type Engine struct {
	store *store.Store
	pub   bus.Publisher
	log   *slog.Logger

	// failAfter, when positive, makes the nth write of an Apply fail.
	failAfter int
}

// New builds an Engine. pub and logger may be nil.
func New(s *store.Store, pub bus.Publisher, logger *slog.Logger) *Engine {
	if pub == nil {
		pub = bus.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, pub: pub, log: logger}
}

// Snapshot reads the live file-tracking state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		snap, err = loadSnapshot(tx)
		return err
	})
	return snap, err
}

func loadSnapshot(tx *store.Tx) (Snapshot, error) {
	files, err := tx.ListFiles(false)
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(files))
	for _, f := range files {
		snap[f.Path] = &FileState{Checksum: f.Checksum, Functions: map[string]string{}, Edges: map[Edge]bool{}}
	}
	fns, err := tx.ListFunctions(false)
	if err != nil {
		return nil, err
	}
	for _, fn := range fns {
		if st, ok := snap[fn.Path]; ok {
			st.Functions[fn.Name] = fn.SignatureHash
		}
	}
	edges, err := tx.ListEdges(false)
	if err != nil {
		return nil, err
	}
	for _, ed := range edges {
		if st, ok := snap[ed.Path]; ok {
			st.Edges[Edge{Caller: ed.Caller, Callee: ed.Callee}] = true
		}
	}
	return snap, nil
}

// Sync computes the diff between artifacts and the current store state.
func (e *Engine) Sync(ctx context.Context, artifacts []Artifact) (Diff, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return Diff{}, err
	}
	return Compute(artifacts, snap), nil
}

// Apply writes diff in a single transaction. On any write error nothing is
// kept, a sync_failed note is recorded and a SyncFailed error returned.
// Re-running Sync afterwards recomputes the diff from scratch.
func (e *Engine) Apply(ctx context.Context, diff Diff, opts ApplyOptions) (*Report, error) {
	if opts.Orphans == "" {
		opts.Orphans = OrphanSoft
	}
	var rep *Report
	var applied store.Note
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		if rep, err = e.apply(tx, diff, opts); err != nil {
			return err
		}
		applied, err = notes.Append(tx, notes.Entry{
			Type:    notes.TypeSyncApplied,
			Ref:     lifecycle.Ref{Kind: lifecycle.KindProject, ID: store.ProjectID},
			Content: "sync applied: " + rep.Summary(),
		})
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	e.announce(rep, applied)
	return rep, nil
}

// RunOptions controls Run.
type RunOptions struct {
	Orphans OrphanPolicy
	DryRun  bool
	// OrphansFromConfig marks a policy that came from configuration rather
	// than from the caller of this run. Hard deletes under it are flagged.
	OrphansFromConfig bool
}

// configuredHardWarning flags hard deletes nobody asked for in this run.
func configuredHardWarning(rep *Report, opts RunOptions) (string, bool) {
	if !opts.OrphansFromConfig || opts.Orphans != OrphanHard || rep.OrphanedHard == 0 {
		return "", false
	}
	msg := fmt.Sprintf("%d orphaned files hard-deleted by the configured orphan policy", rep.OrphanedHard)
	if rep.DryRun {
		msg = fmt.Sprintf("%d orphaned files would be hard-deleted by the configured orphan policy", rep.OrphanedHard)
	}
	rep.Warnings = append(append([]string(nil), rep.Warnings...), msg)
	return msg, true
}

// Run computes and applies the diff inside one write transaction so the
// snapshot cannot go stale between the two. With DryRun the diff is
// returned and nothing is written.
func (e *Engine) Run(ctx context.Context, artifacts []Artifact, opts RunOptions) (Diff, *Report, error) {
	if opts.DryRun {
		d, err := e.Sync(ctx, artifacts)
		if err != nil {
			return Diff{}, nil, err
		}
		rep := preview(d, opts.Orphans)
		configuredHardWarning(rep, opts)
		return d, rep, nil
	}
	if opts.Orphans == "" {
		opts.Orphans = OrphanSoft
	}
	var d Diff
	var rep *Report
	var applied store.Note
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		snap, err := loadSnapshot(tx)
		if err != nil {
			return err
		}
		d = Compute(artifacts, snap)
		if rep, err = e.apply(tx, d, ApplyOptions{Orphans: opts.Orphans}); err != nil {
			return err
		}
		if msg, ok := configuredHardWarning(rep, opts); ok {
			if _, err := notes.Append(tx, notes.Entry{Type: notes.TypeSyncWarning, Severity: notes.SeverityWarning, Content: msg}); err != nil {
				return err
			}
		}
		applied, err = notes.Append(tx, notes.Entry{
			Type:    notes.TypeSyncApplied,
			Ref:     lifecycle.Ref{Kind: lifecycle.KindProject, ID: store.ProjectID},
			Content: "sync applied: " + rep.Summary(),
		})
		return err
	})
	if err != nil {
		return d, nil, e.fail(ctx, err)
	}
	if opts.OrphansFromConfig && rep.OrphanedHard > 0 {
		e.log.Warn("orphans hard-deleted by configured policy", "orphaned_hard", rep.OrphanedHard)
	}
	e.announce(rep, applied)
	return d, rep, nil
}

// preview counts what Apply would do without touching the store.
func preview(d Diff, policy OrphanPolicy) *Report {
	rep := &Report{DryRun: true, Warnings: d.Warnings}
	for _, c := range d.Changes {
		countChange(rep, c, policy)
	}
	return rep
}

func countChange(rep *Report, c FileChange, policy OrphanPolicy) {
	switch c.Kind {
	case ChangeInsert:
		rep.Inserted++
	case ChangeUpdate:
		rep.Updated++
	case ChangeOrphaned:
		if policy == OrphanHard {
			rep.OrphanedHard++
		} else {
			rep.OrphanedSoft++
		}
	}
	for _, fc := range c.Functions {
		switch fc.Op {
		case InsertFunction:
			rep.FunctionsInserted++
		case UpdateFunction:
			rep.FunctionsUpdated++
		case DeleteFunction:
			rep.FunctionsDeleted++
		}
	}
	for _, ec := range c.Edges {
		switch ec.Op {
		case InsertEdge:
			rep.EdgesInserted++
		case DeleteEdge:
			rep.EdgesDeleted++
		}
	}
}

var errInjected = errors.New("injected write failure")

func (e *Engine) apply(tx *store.Tx, d Diff, opts ApplyOptions) (*Report, error) {
	if opts.Orphans != OrphanSoft && opts.Orphans != OrphanHard {
		return nil, fault.Newf(fault.InvalidArgument, "unknown orphan policy %q", opts.Orphans)
	}
	hard := opts.Orphans == OrphanHard
	writes := 0
	step := func(err error) error {
		if err != nil {
			return err
		}
		writes++
		if e.failAfter > 0 && writes >= e.failAfter {
			return errInjected
		}
		return nil
	}

	rep := &Report{Warnings: d.Warnings}
	for _, c := range d.Changes {
		switch c.Kind {
		case ChangeInsert, ChangeUpdate:
			if err := step(tx.UpsertFile(c.Path, c.Checksum)); err != nil {
				return nil, err
			}
		case ChangeOrphaned:
			var err error
			if hard {
				err = tx.DeleteFile(c.Path)
			} else {
				err = tx.TombstoneFile(c.Path)
			}
			if err := step(err); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown change kind %q for %s", c.Kind, c.Path)
		}
		for _, fc := range c.Functions {
			var err error
			switch fc.Op {
			case InsertFunction, UpdateFunction:
				err = tx.UpsertFunction(c.Path, fc.Name, fc.SignatureHash)
			case DeleteFunction:
				if hard {
					err = tx.DeleteFunction(c.Path, fc.Name)
				} else {
					err = tx.TombstoneFunction(c.Path, fc.Name)
				}
			default:
				err = fmt.Errorf("unknown function op %q", fc.Op)
			}
			if err := step(err); err != nil {
				return nil, err
			}
		}
		for _, ec := range c.Edges {
			var err error
			switch ec.Op {
			case InsertEdge:
				err = tx.UpsertEdge(c.Path, ec.Edge.Caller, ec.Edge.Callee)
			case DeleteEdge:
				if hard {
					err = tx.DeleteEdge(c.Path, ec.Edge.Caller, ec.Edge.Callee)
				} else {
					err = tx.TombstoneEdge(c.Path, ec.Edge.Caller, ec.Edge.Callee)
				}
			default:
				err = fmt.Errorf("unknown edge op %q", ec.Op)
			}
			if err := step(err); err != nil {
				return nil, err
			}
		}
		countChange(rep, c, opts.Orphans)
	}
	for _, w := range d.Warnings {
		if _, err := notes.Append(tx, notes.Entry{Type: notes.TypeSyncWarning, Severity: notes.SeverityWarning, Content: w}); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// fail records the failure outside the rolled-back transaction and returns
// the SyncFailed error. Argument errors pass through unchanged.
func (e *Engine) fail(ctx context.Context, cause error) error {
	if fault.KindOf(cause) == fault.InvalidArgument {
		return cause
	}
	e.log.Error("sync apply failed; rolled back", "error", cause)
	var n store.Note
	noteErr := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = notes.Append(tx, notes.Entry{
			Type:     notes.TypeSyncFailed,
			Severity: notes.SeverityError,
			Ref:      lifecycle.Ref{Kind: lifecycle.KindProject, ID: store.ProjectID},
			Content:  "sync rolled back: " + cause.Error(),
		})
		return err
	})
	if noteErr != nil {
		e.log.Warn("could not record sync failure note", "error", noteErr)
	} else {
		e.pub.Publish(notes.Signal(n))
	}
	return fault.Wrap(fault.SyncFailed, cause, "sync rolled back")
}

func (e *Engine) announce(rep *Report, applied store.Note) {
	e.log.Info("sync applied", "inserted", rep.Inserted, "updated", rep.Updated,
		"orphaned_soft", rep.OrphanedSoft, "orphaned_hard", rep.OrphanedHard, "warnings", len(rep.Warnings))
	e.pub.Publish(notes.Signal(applied))
	e.pub.Publish(&bus.Signal{
		Kind:    bus.KindSyncReport,
		RefKind: string(lifecycle.KindProject),
		RefID:   store.ProjectID,
		Content: rep.Summary(),
		Metadata: map[string]any{
			"inserted":      rep.Inserted,
			"updated":       rep.Updated,
			"orphaned_soft": rep.OrphanedSoft,
			"orphaned_hard": rep.OrphanedHard,
			"warnings":      rep.Warnings,
		},
	})
}
