package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/roadmap/internal/fault"
	"github.com/KafClaw/roadmap/internal/lifecycle"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWithDriver(t, DriverModernc)
}

func newTestStoreWithDriver(t *testing.T, driver string) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "roadmap.db"), Driver: driver, MaxBusyRetries: 5})
	if err != nil {
		t.Fatalf("open store (%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustUpdate(t *testing.T, s *Store, fn func(tx *Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func seedMilestone(t *testing.T, s *Store) (*Stage, *Milestone) {
	t.Helper()
	var st *Stage
	var ms *Milestone
	mustUpdate(t, s, func(tx *Tx) error {
		if _, _, err := tx.EnsureProject("demo"); err != nil {
			return err
		}
		var err error
		if st, err = tx.InsertStage("build"); err != nil {
			return err
		}
		ms, err = tx.InsertMilestone(st.ID, "M1")
		return err
	})
	return st, ms
}

func TestOpenBothDrivers(t *testing.T) {
	for _, driver := range []string{DriverModernc, DriverMattn} {
		s := newTestStoreWithDriver(t, driver)
		if s.Driver() != driver {
			t.Fatalf("expected driver %s, got %s", driver, s.Driver())
		}
		_, ms := seedMilestone(t, s)
		var got *Task
		mustUpdate(t, s, func(tx *Tx) error {
			task, err := tx.InsertTask(ms.ID, "T1", lifecycle.PriorityHigh)
			if err != nil {
				return err
			}
			got, err = tx.GetTask(task.ID)
			return err
		})
		if got.Name != "T1" || got.Status != lifecycle.StatusPending || got.Priority != lifecycle.PriorityHigh {
			t.Fatalf("%s: unexpected task %+v", driver, got)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProjectVersion(t *testing.T) {
	s := newTestStore(t)
	mustUpdate(t, s, func(tx *Tx) error {
		p, created, err := tx.EnsureProject("demo")
		if err != nil {
			return err
		}
		if !created || p.Version != 0 || p.Status != ProjectActive {
			t.Fatalf("unexpected new project %+v created=%v", p, created)
		}
		_, created, err = tx.EnsureProject("other")
		if err != nil {
			return err
		}
		if created {
			t.Fatal("second EnsureProject should not create")
		}
		v, err := tx.BumpVersion()
		if err != nil {
			return err
		}
		if v != 1 {
			t.Fatalf("expected version 1, got %d", v)
		}
		return nil
	})
}

func TestBumpVersionWithoutProject(t *testing.T) {
	s := newTestStore(t)
	err := s.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.BumpVersion()
		return err
	})
	if !errors.Is(err, fault.ErrEntityNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	seedMilestone(t, s)
	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.BumpVersion(); err != nil {
			return err
		}
		if _, err := tx.InsertStage("doomed"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.View(context.Background(), func(tx *Tx) error {
		p, err := tx.GetProject()
		if err != nil {
			t.Fatalf("get project: %v", err)
		}
		if p.Version != 0 {
			t.Fatalf("version leaked from rolled back tx: %d", p.Version)
		}
		stages, err := tx.ListStages()
		if err != nil {
			t.Fatalf("list stages: %v", err)
		}
		if len(stages) != 1 {
			t.Fatalf("expected 1 stage after rollback, got %d", len(stages))
		}
		return nil
	})
}

func TestSetStatusTracksCompletion(t *testing.T) {
	s := newTestStore(t)
	_, ms := seedMilestone(t, s)
	mustUpdate(t, s, func(tx *Tx) error {
		task, err := tx.InsertTask(ms.ID, "T1", lifecycle.PriorityMedium)
		if err != nil {
			return err
		}
		if err := tx.SetStatus(lifecycle.KindTask, task.ID, lifecycle.StatusCompleted); err != nil {
			return err
		}
		got, err := tx.GetTask(task.ID)
		if err != nil {
			return err
		}
		if got.CompletedAt == nil {
			t.Fatal("expected completedAt on terminal status")
		}
		if err := tx.SetStatus(lifecycle.KindTask, task.ID, lifecycle.StatusInProgress); err != nil {
			return err
		}
		got, _ = tx.GetTask(task.ID)
		if got.CompletedAt != nil {
			t.Fatal("expected completedAt cleared on open status")
		}
		err = tx.SetStatus(lifecycle.KindTask, "missing", lifecycle.StatusCompleted)
		if !errors.Is(err, fault.ErrEntityNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
}

func TestListTasksOrdering(t *testing.T) {
	s := newTestStore(t)
	_, ms := seedMilestone(t, s)
	mustUpdate(t, s, func(tx *Tx) error {
		if _, err := tx.InsertTask(ms.ID, "low-old", lifecycle.PriorityLow); err != nil {
			return err
		}
		if _, err := tx.InsertTask(ms.ID, "high-new", lifecycle.PriorityHigh); err != nil {
			return err
		}
		done, err := tx.InsertTask(ms.ID, "done", lifecycle.PriorityCritical)
		if err != nil {
			return err
		}
		return tx.SetStatus(lifecycle.KindTask, done.ID, lifecycle.StatusCompleted)
	})
	_ = s.View(context.Background(), func(tx *Tx) error {
		open, err := tx.ListTasks(TaskFilter{MilestoneID: ms.ID, Statuses: []lifecycle.Status{lifecycle.StatusPending}})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(open) != 2 || open[0].Name != "high-new" || open[1].Name != "low-old" {
			t.Fatalf("unexpected order: %+v", open)
		}
		all, _ := tx.ListTasks(TaskFilter{})
		if len(all) != 3 || all[0].Name != "done" {
			t.Fatalf("unexpected full list: %+v", all)
		}
		return nil
	})
}

func TestMilestoneOrderAndDefaultPriority(t *testing.T) {
	s := newTestStore(t)
	st, first := seedMilestone(t, s)
	var second *Milestone
	mustUpdate(t, s, func(tx *Tx) error {
		var err error
		second, err = tx.InsertMilestone(st.ID, "M2")
		return err
	})
	if first.OrderIndex != 0 || second.OrderIndex != 1 {
		t.Fatalf("unexpected order indices %d, %d", first.OrderIndex, second.OrderIndex)
	}
	if first.Priority <= second.Priority {
		t.Fatalf("earlier milestone should rank higher: %s vs %s", first.Priority, second.Priority)
	}
}

func TestSubtasksAndItems(t *testing.T) {
	s := newTestStore(t)
	_, ms := seedMilestone(t, s)
	mustUpdate(t, s, func(tx *Tx) error {
		task, err := tx.InsertTask(ms.ID, "T1", lifecycle.PriorityMedium)
		if err != nil {
			return err
		}
		if _, err := tx.InsertSubtask(task.ID, "a", lifecycle.StatusInProgress); err != nil {
			return err
		}
		b, err := tx.InsertSubtask(task.ID, "b", lifecycle.StatusPending)
		if err != nil {
			return err
		}
		if n, _ := tx.CountOpenSubtasks(task.ID); n != 2 {
			t.Fatalf("expected 2 open subtasks, got %d", n)
		}
		if err := tx.SetStatus(lifecycle.KindSubtask, b.ID, lifecycle.StatusCancelled); err != nil {
			return err
		}
		if n, _ := tx.CountOpenSubtasks(task.ID); n != 1 {
			t.Fatalf("expected 1 open subtask, got %d", n)
		}
		subs, err := tx.ListSubtasks(task.ID)
		if err != nil {
			return err
		}
		if len(subs) != 2 || subs[0].Name != "a" || subs[0].Priority != lifecycle.PriorityHigh {
			t.Fatalf("unexpected subtasks %+v", subs)
		}

		owner := lifecycle.Ref{Kind: lifecycle.KindTask, ID: task.ID}
		for _, name := range []string{"i1", "i2", "i3"} {
			if _, err := tx.InsertItem(owner, name); err != nil {
				return err
			}
		}
		items, _ := tx.ListItems(owner)
		if err := tx.SetStatus(lifecycle.KindItem, items[0].ID, lifecycle.StatusCompleted); err != nil {
			return err
		}
		done, total, err := tx.ItemProgress(owner)
		if err != nil {
			return err
		}
		if done != 1 || total != 3 {
			t.Fatalf("expected 1/3, got %d/%d", done, total)
		}
		n, err := tx.CompleteOpenItems(owner)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Fatalf("expected 2 items completed, got %d", n)
		}
		done, total, _ = tx.ItemProgress(owner)
		if done != 3 || total != 3 {
			t.Fatalf("expected 3/3, got %d/%d", done, total)
		}
		return nil
	})
}

func TestSidequestRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mustUpdate(t, s, func(tx *Tx) error {
		q := &Sidequest{Name: "fix flaky test", OwnerKind: lifecycle.KindTask, OwnerID: "t1", Defect: true}
		q.Priority = lifecycle.PriorityMedium
		q.Status = lifecycle.StatusInProgress
		if err := tx.InsertSidequest(q); err != nil {
			return err
		}
		if err := tx.SetSidequestOutcome(q.ID, "root cause: clock skew"); err != nil {
			return err
		}
		got, err := tx.GetSidequest(q.ID)
		if err != nil {
			return err
		}
		if !got.Defect || got.Status != lifecycle.StatusInProgress || got.Outcome != "root cause: clock skew" {
			t.Fatalf("unexpected sidequest %+v", got)
		}
		if got.Owner() != (lifecycle.Ref{Kind: lifecycle.KindTask, ID: "t1"}) {
			t.Fatalf("unexpected owner %v", got.Owner())
		}
		open, _ := tx.ListSidequests(lifecycle.StatusPending, lifecycle.StatusInProgress)
		if len(open) != 1 {
			t.Fatalf("expected 1 open sidequest, got %d", len(open))
		}
		return nil
	})
}

func TestNotesAppendAndFilter(t *testing.T) {
	s := newTestStore(t)
	mustUpdate(t, s, func(tx *Tx) error {
		for i, sev := range []string{"info", "warning", "info"} {
			n := &Note{Content: "n", NoteType: "test", RefKind: lifecycle.KindTask, RefID: "t1", Source: "ai", Severity: sev}
			if i == 2 {
				n.RefID = "t2"
			}
			if err := tx.AppendNote(n); err != nil {
				return err
			}
			if n.ID == 0 {
				t.Fatal("expected note id")
			}
		}
		return nil
	})
	_ = s.View(context.Background(), func(tx *Tx) error {
		all, _ := tx.ListNotes(NoteFilter{})
		if len(all) != 3 || all[0].RefID != "t2" {
			t.Fatalf("expected newest first, got %+v", all)
		}
		byRef, _ := tx.ListNotes(NoteFilter{RefKind: lifecycle.KindTask, RefID: "t1"})
		if len(byRef) != 2 {
			t.Fatalf("expected 2 notes for t1, got %d", len(byRef))
		}
		warn, _ := tx.ListNotes(NoteFilter{Severities: []string{"warning", "error"}})
		if len(warn) != 1 {
			t.Fatalf("expected 1 warning, got %d", len(warn))
		}
		return nil
	})
}

func TestFileTombstoneAndRevive(t *testing.T) {
	s := newTestStore(t)
	mustUpdate(t, s, func(tx *Tx) error {
		if err := tx.UpsertFile("a.ts", "c1"); err != nil {
			return err
		}
		if err := tx.UpsertFunction("a.ts", "f", "h1"); err != nil {
			return err
		}
		return tx.UpsertEdge("a.ts", "f", "g")
	})
	mustUpdate(t, s, func(tx *Tx) error { return tx.TombstoneFile("a.ts") })
	_ = s.View(context.Background(), func(tx *Tx) error {
		live, _ := tx.ListFiles(false)
		all, _ := tx.ListFiles(true)
		if len(live) != 0 || len(all) != 1 || all[0].DeletedAt == nil {
			t.Fatalf("expected tombstoned file, live=%v all=%v", live, all)
		}
		fns, _ := tx.ListFunctions(false)
		edges, _ := tx.ListEdges(false)
		if len(fns) != 0 || len(edges) != 0 {
			t.Fatalf("expected children tombstoned, fns=%v edges=%v", fns, edges)
		}
		return nil
	})
	mustUpdate(t, s, func(tx *Tx) error { return tx.UpsertFile("a.ts", "c2") })
	_ = s.View(context.Background(), func(tx *Tx) error {
		live, _ := tx.ListFiles(false)
		if len(live) != 1 || live[0].Checksum != "c2" || live[0].DeletedAt != nil {
			t.Fatalf("expected revived file, got %+v", live)
		}
		return nil
	})
	mustUpdate(t, s, func(tx *Tx) error { return tx.DeleteFile("a.ts") })
	_ = s.View(context.Background(), func(tx *Tx) error {
		all, _ := tx.ListFiles(true)
		fns, _ := tx.ListFunctions(true)
		edges, _ := tx.ListEdges(true)
		if len(all)+len(fns)+len(edges) != 0 {
			t.Fatalf("expected hard delete to cascade, files=%d fns=%d edges=%d", len(all), len(fns), len(edges))
		}
		return nil
	})
}

func TestRecentTerminalNewestFirst(t *testing.T) {
	s := newTestStore(t)
	_, ms := seedMilestone(t, s)
	mustUpdate(t, s, func(tx *Tx) error {
		a, _ := tx.InsertTask(ms.ID, "a", lifecycle.PriorityLow)
		b, _ := tx.InsertTask(ms.ID, "b", lifecycle.PriorityLow)
		sub, _ := tx.InsertSubtask(b.ID, "sub", lifecycle.StatusInProgress)
		if err := tx.SetStatus(lifecycle.KindTask, a.ID, lifecycle.StatusCompleted); err != nil {
			return err
		}
		if err := tx.SetStatus(lifecycle.KindSubtask, sub.ID, lifecycle.StatusCancelled); err != nil {
			return err
		}
		return nil
	})
	_ = s.View(context.Background(), func(tx *Tx) error {
		got, err := tx.RecentTerminal(10)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(got) != 2 || got[0].Kind != lifecycle.KindSubtask || got[1].Name != "a" {
			t.Fatalf("unexpected history %+v", got)
		}
		one, _ := tx.RecentTerminal(1)
		if len(one) != 1 {
			t.Fatalf("expected limit to apply, got %d", len(one))
		}
		return nil
	})
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	s := newTestStore(t)
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	a := s.now()
	b := s.now()
	if !b.After(a) {
		t.Fatalf("expected strictly increasing timestamps, got %v then %v", a, b)
	}
}

func TestConcurrentUpdatesSerialise(t *testing.T) {
	s := newTestStore(t)
	seedMilestone(t, s)
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(context.Background(), func(tx *Tx) error {
				_, err := tx.BumpVersion()
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
	}
	_ = s.View(context.Background(), func(tx *Tx) error {
		p, _ := tx.GetProject()
		if p.Version != workers {
			t.Fatalf("expected version %d, got %d", workers, p.Version)
		}
		return nil
	})
}

func TestViewDoesNotWaitForWriter(t *testing.T) {
	for _, driver := range []string{DriverModernc, DriverMattn} {
		t.Run(driver, func(t *testing.T) {
			s := newTestStoreWithDriver(t, driver)
			seedMilestone(t, s)

			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- s.Update(context.Background(), func(tx *Tx) error {
					if _, err := tx.BumpVersion(); err != nil {
						return err
					}
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			var version int64
			err := s.View(ctx, func(tx *Tx) error {
				p, err := tx.GetProject()
				if err != nil {
					return err
				}
				version = p.Version
				return nil
			})
			close(release)
			if err != nil {
				t.Fatalf("view during write: %v", err)
			}
			if version != 0 {
				t.Fatalf("expected committed version 0 while the write is open, got %d", version)
			}
			if err := <-done; err != nil {
				t.Fatalf("update: %v", err)
			}
			_ = s.View(context.Background(), func(tx *Tx) error {
				p, _ := tx.GetProject()
				if p.Version != 1 {
					t.Fatalf("expected version 1 after commit, got %d", p.Version)
				}
				return nil
			})
		})
	}
}

func TestRetryOnBusyLogsThroughStoreLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	calls := 0
	err := retryOnBusy(context.Background(), log, 3, func() error {
		calls++
		if calls == 1 {
			return errors.New("begin tx: database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second attempt, got err=%v calls=%d", err, calls)
	}
	if !bytes.Contains(buf.Bytes(), []byte("store busy, retrying")) {
		t.Fatalf("expected retry logged on the store logger, got %q", buf.String())
	}
}
