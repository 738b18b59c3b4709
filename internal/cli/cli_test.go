package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/KafClaw/roadmap/internal/fault"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOut, dbPath = false, ""
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

// cliEnv isolates config and returns a --db flag for a fresh database.
func cliEnv(t *testing.T) string {
	t.Helper()
	color.NoColor = true
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ROADMAP_HOME", home)
	t.Setenv("ROADMAP_CONFIG", "")
	t.Setenv("ROADMAP_ENV_FILE", "")
	return "--db=" + filepath.Join(home, "roadmap.db")
}

func runJSON(t *testing.T, into any, args ...string) {
	t.Helper()
	out, err := runRootCommand(t, append(args, "--json")...)
	if err != nil {
		t.Fatalf("%v: %v\nout=%s", args, err, out)
	}
	if err := json.Unmarshal([]byte(out), into); err != nil {
		t.Fatalf("%v: decode json: %v\nout=%s", args, err, out)
	}
}

type idOnly struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
}

// seed creates project, stage and one milestone and returns the milestone id.
func seed(t *testing.T, db string) string {
	t.Helper()
	var p struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
	}
	runJSON(t, &p, "init", "demo", db)
	if p.Name != "demo" {
		t.Fatalf("unexpected project %+v", p)
	}
	var stage, m idOnly
	runJSON(t, &stage, "stage", "add", "build", db)
	runJSON(t, &m, "milestone", "add", stage.ID, "M1", db)
	return m.ID
}

func TestTaskSubtaskCascadeCLI(t *testing.T) {
	db := cliEnv(t)
	m := seed(t, db)

	var task idOnly
	runJSON(t, &task, "task", "create", m, "T1", db)
	if task.Status != "pending" || task.Priority != 3 {
		t.Fatalf("expected pending high task, got %+v", task)
	}
	runJSON(t, &task, "task", "start", task.ID, db)

	var sub idOnly
	runJSON(t, &sub, "subtask", "create", task.ID, "S1", db)
	if sub.Status != "in_progress" {
		t.Fatalf("expected first subtask in progress, got %+v", sub)
	}
	var tasks []idOnly
	runJSON(t, &tasks, "task", "list", db)
	if len(tasks) != 1 || tasks[0].Status != "paused" {
		t.Fatalf("expected paused parent, got %+v", tasks)
	}

	var view struct {
		Focus struct {
			Tier string `json:"tier"`
			Item struct {
				Kind string `json:"kind"`
				ID   string `json:"id"`
			} `json:"item"`
		} `json:"focus"`
		Context []struct {
			Kind string `json:"kind"`
		} `json:"context"`
	}
	runJSON(t, &view, "focus", db)
	if view.Focus.Tier != "subtask" || view.Focus.Item.ID != sub.ID {
		t.Fatalf("expected subtask focus, got %+v", view.Focus)
	}
	if len(view.Context) == 0 || view.Context[0].Kind != "task" {
		t.Fatalf("expected parent task context, got %+v", view.Context)
	}

	out, err := runRootCommand(t, "subtask", "complete", sub.ID, db)
	if err != nil {
		t.Fatalf("complete subtask: %v\n%s", err, out)
	}
	if !strings.Contains(out, "parent "+task.ID+" resumed") {
		t.Fatalf("expected resume line, got:\n%s", out)
	}

	out, err = runRootCommand(t, "task", "complete", task.ID, db)
	if err != nil {
		t.Fatalf("complete task: %v\n%s", err, out)
	}
	if !strings.Contains(out, "milestone completed") {
		t.Fatalf("expected milestone rollup, got:\n%s", out)
	}

	var paused []struct {
		NoteType string `json:"noteType"`
	}
	runJSON(t, &paused, "notes", "list", "--type=parent_paused", "--ref=", db)
	if len(paused) != 1 {
		t.Fatalf("expected one parent_paused note, got %d", len(paused))
	}

	focusText, err := runRootCommand(t, "focus", db)
	if err != nil {
		t.Fatalf("focus: %v", err)
	}
	if !strings.Contains(focusText, "All work complete") {
		t.Fatalf("expected idle panel, got:\n%s", focusText)
	}
}

func TestCompleteTaskBlockedBySubtaskCLI(t *testing.T) {
	db := cliEnv(t)
	m := seed(t, db)
	var task, sub idOnly
	runJSON(t, &task, "task", "create", m, "T1", db)
	runJSON(t, &task, "task", "start", task.ID, db)
	runJSON(t, &sub, "subtask", "create", task.ID, "S1", db)

	_, err := runRootCommand(t, "task", "complete", task.ID, db)
	if !errors.Is(err, fault.ErrActiveSubtasksBlocking) {
		t.Fatalf("expected ActiveSubtasksBlocking, got %v", err)
	}
	if ExitCode(err) != 3 {
		t.Fatalf("expected exit code 3, got %d", ExitCode(err))
	}
	if !strings.Contains(err.Error(), sub.ID) {
		t.Fatalf("expected blocking subtask id in error, got %v", err)
	}
}

func TestSidequestResumeHintCLI(t *testing.T) {
	db := cliEnv(t)
	m := seed(t, db)
	var task, quest idOnly
	runJSON(t, &task, "task", "create", m, "T1", db)
	runJSON(t, &task, "task", "start", task.ID, db)
	runJSON(t, &quest, "sidequest", "create", "fix flaky test", "--owner=task:"+task.ID, "--defect", db)
	if quest.Status != "in_progress" || quest.Priority != 2 {
		t.Fatalf("unexpected sidequest %+v", quest)
	}

	_, err := runRootCommand(t, "sidequest", "complete", quest.ID, "--outcome=", db)
	if ExitCode(err) != 2 {
		t.Fatalf("expected invalid argument for empty outcome, got %v", err)
	}

	out, err := runRootCommand(t, "sidequest", "complete", quest.ID, "--outcome=pinned the seed", db)
	if err != nil {
		t.Fatalf("complete sidequest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "outcome: pinned the seed") || !strings.Contains(out, "resume: ") || !strings.Contains(out, task.ID) {
		t.Fatalf("expected outcome and resume hint, got:\n%s", out)
	}
}

func TestItemsCLI(t *testing.T) {
	db := cliEnv(t)
	m := seed(t, db)
	var task, item idOnly
	runJSON(t, &task, "task", "create", m, "T1", db)
	runJSON(t, &item, "item", "add", "task:"+task.ID, "write docs", db)
	runJSON(t, &item, "item", "complete", item.ID, db)
	if item.Status != "completed" {
		t.Fatalf("expected completed item, got %+v", item)
	}
	var p struct {
		Done  int `json:"done"`
		Total int `json:"total"`
	}
	runJSON(t, &p, "item", "progress", "task:"+task.ID, db)
	if p.Done != 1 || p.Total != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if _, err := runRootCommand(t, "item", "add", "milestone-"+m, "x", db); ExitCode(err) != 2 {
		t.Fatalf("expected bad reference error, got %v", err)
	}
}

func TestNotesAddAndStatusCLI(t *testing.T) {
	db := cliEnv(t)
	seed(t, db)
	out, err := runRootCommand(t, "notes", "add", "freeze", "scope", "--source=directive", "--ref=", db)
	if err != nil {
		t.Fatalf("notes add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "freeze scope") {
		t.Fatalf("unexpected notes output %s", out)
	}
	status, err := runRootCommand(t, "status", db)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(status, "demo (version") || !strings.Contains(status, `Milestone 0 "M1"`) {
		t.Fatalf("unexpected status output:\n%s", status)
	}
	if _, err := runRootCommand(t, "task", "start", "missing", db); ExitCode(err) != 4 {
		t.Fatalf("expected not found exit code, got %v", err)
	}
}

func TestSyncCLI(t *testing.T) {
	db := cliEnv(t)
	seed(t, db)
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n\nfunc main() { run() }\n\nfunc run() {}\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	export := filepath.Join(t.TempDir(), "manifest.yaml")

	var res struct {
		Report struct {
			Inserted          int  `json:"inserted"`
			FunctionsInserted int  `json:"functionsInserted"`
			DryRun            bool `json:"dryRun"`
		} `json:"report"`
	}
	runJSON(t, &res, "sync", "--dir="+src, "--dry-run", "--export="+export, db)
	if !res.Report.DryRun || res.Report.Inserted != 1 {
		t.Fatalf("unexpected dry run %+v", res.Report)
	}
	res.Report.DryRun = false
	runJSON(t, &res, "sync", "--dir="+src, "--dry-run=false", "--export=", db)
	if res.Report.Inserted != 1 || res.Report.FunctionsInserted != 2 {
		t.Fatalf("unexpected report %+v", res.Report)
	}

	out, err := runRootCommand(t, "sync", "--manifest="+export, "--dir=", "--dry-run=false", db)
	if err != nil {
		t.Fatalf("sync from manifest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "no changes") {
		t.Fatalf("expected idempotent sync, got:\n%s", out)
	}

	if _, err := runRootCommand(t, "sync", "--manifest="+export, "--dir="+src, db); ExitCode(err) != 2 {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if _, err := runRootCommand(t, "sync", "--manifest=", "--dir="+src, "--orphans=purge", db); ExitCode(err) != 2 {
		t.Fatalf("expected bad orphan policy error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 || ExitCode(errors.New("x")) != 1 {
		t.Fatal("unexpected exit codes for nil and plain errors")
	}
	if ExitCode(fault.New(fault.SyncFailed, "boom")) != 5 {
		t.Fatal("expected 5 for sync failure")
	}
}
