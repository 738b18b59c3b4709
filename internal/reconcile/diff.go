// Package reconcile compares an artifact set against the tracked file
// records and applies the minimal diff in one transaction.
package reconcile

import (
	"sort"
	"strings"
)

// Function is one function declared in an artifact.
type Function struct {
	Name          string `json:"name" yaml:"name"`
	SignatureHash string `json:"signatureHash" yaml:"signatureHash"`
}

// Edge is a caller→callee dependency declared in an artifact.
type Edge struct {
	Caller string `json:"caller" yaml:"caller"`
	Callee string `json:"callee" yaml:"callee"`
}

// Artifact is the authoritative description of one file.
type Artifact struct {
	Path      string     `json:"path" yaml:"path"`
	Checksum  string     `json:"checksum" yaml:"checksum"`
	Functions []Function `json:"functions,omitempty" yaml:"functions,omitempty"`
	Edges     []Edge     `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// FileState is what the store holds for one live file.
type FileState struct {
	Checksum  string
	Functions map[string]string // name -> signature hash
	Edges     map[Edge]bool
}

// Snapshot is the live (not tombstoned) file-tracking state keyed by path.
type Snapshot map[string]*FileState

// ChangeKind classifies a file-level change.
type ChangeKind string

const (
	ChangeInsert   ChangeKind = "insert"
	ChangeUpdate   ChangeKind = "update"
	ChangeOrphaned ChangeKind = "orphaned"
)

// FunctionOp classifies a function-level change.
type FunctionOp string

const (
	InsertFunction FunctionOp = "insert_function"
	UpdateFunction FunctionOp = "update_function"
	DeleteFunction FunctionOp = "delete_function"
)

// EdgeOp classifies an edge-level change.
type EdgeOp string

const (
	InsertEdge EdgeOp = "insert_edge"
	DeleteEdge EdgeOp = "delete_edge"
)

// FunctionChange is one function-level operation within a file.
type FunctionChange struct {
	Op            FunctionOp `json:"op"`
	Name          string     `json:"name"`
	SignatureHash string     `json:"signatureHash,omitempty"`
}

// EdgeChange is one edge-level operation within a file.
type EdgeChange struct {
	Op   EdgeOp `json:"op"`
	Edge Edge   `json:"edge"`
}

// FileChange is every operation the diff carries for one path.
type FileChange struct {
	Kind      ChangeKind       `json:"kind"`
	Path      string           `json:"path"`
	Checksum  string           `json:"checksum,omitempty"`
	Functions []FunctionChange `json:"functions,omitempty"`
	Edges     []EdgeChange     `json:"edges,omitempty"`
}

// Diff is the ordered change list plus any input warnings.
type Diff struct {
	Changes  []FileChange `json:"changes"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Empty reports whether applying the diff would change nothing.
func (d Diff) Empty() bool { return len(d.Changes) == 0 }

// Count returns how many file changes of kind the diff holds.
func (d Diff) Count(kind ChangeKind) int {
	n := 0
	for _, c := range d.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Compute derives the diff between artifacts and snapshot. It is pure and
// its output is sorted by path, so equal inputs always give equal diffs.
//
// A file whose checksum is unchanged is skipped entirely, even if its
// declared functions differ: the checksum is the authority.
func Compute(artifacts []Artifact, snap Snapshot) Diff {
	var d Diff
	seen := make(map[string]bool, len(artifacts))
	for _, a := range normalise(artifacts, &d.Warnings) {
		seen[a.Path] = true
		cur, ok := snap[a.Path]
		switch {
		case !ok:
			d.Changes = append(d.Changes, insertChange(a))
		case cur.Checksum != a.Checksum:
			d.Changes = append(d.Changes, updateChange(a, cur))
		}
	}
	var orphans []string
	for path := range snap {
		if !seen[path] {
			orphans = append(orphans, path)
		}
	}
	sort.Strings(orphans)
	for _, path := range orphans {
		d.Changes = append(d.Changes, FileChange{Kind: ChangeOrphaned, Path: path})
	}
	sort.SliceStable(d.Changes, func(i, j int) bool { return d.Changes[i].Path < d.Changes[j].Path })
	return d
}

// normalise drops unusable artifacts and duplicate entries, recording a
// warning for each, and returns the survivors sorted by path.
func normalise(in []Artifact, warnings *[]string) []Artifact {
	byPath := make(map[string]Artifact, len(in))
	for _, a := range in {
		a.Path = strings.TrimSpace(a.Path)
		if a.Path == "" {
			*warnings = append(*warnings, "artifact with empty path skipped")
			continue
		}
		if _, dup := byPath[a.Path]; dup {
			*warnings = append(*warnings, "duplicate artifact path "+a.Path+": last entry wins")
		}
		fns := make([]Function, 0, len(a.Functions))
		names := make(map[string]int, len(a.Functions))
		for _, fn := range a.Functions {
			if fn.Name == "" {
				*warnings = append(*warnings, "function with empty name skipped in "+a.Path)
				continue
			}
			if i, dup := names[fn.Name]; dup {
				*warnings = append(*warnings, "duplicate function "+fn.Name+" in "+a.Path+": last entry wins")
				fns[i] = fn
				continue
			}
			names[fn.Name] = len(fns)
			fns = append(fns, fn)
		}
		a.Functions = fns
		edges := make([]Edge, 0, len(a.Edges))
		seenEdge := make(map[Edge]bool, len(a.Edges))
		for _, e := range a.Edges {
			if e.Caller == "" || e.Callee == "" || seenEdge[e] {
				continue
			}
			seenEdge[e] = true
			edges = append(edges, e)
		}
		a.Edges = edges
		byPath[a.Path] = a
	}
	out := make([]Artifact, 0, len(byPath))
	for _, a := range byPath {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func insertChange(a Artifact) FileChange {
	c := FileChange{Kind: ChangeInsert, Path: a.Path, Checksum: a.Checksum}
	for _, fn := range sortedFunctions(a.Functions) {
		c.Functions = append(c.Functions, FunctionChange{Op: InsertFunction, Name: fn.Name, SignatureHash: fn.SignatureHash})
	}
	for _, e := range sortedEdges(a.Edges) {
		c.Edges = append(c.Edges, EdgeChange{Op: InsertEdge, Edge: e})
	}
	return c
}

func updateChange(a Artifact, cur *FileState) FileChange {
	c := FileChange{Kind: ChangeUpdate, Path: a.Path, Checksum: a.Checksum}
	want := make(map[string]string, len(a.Functions))
	for _, fn := range sortedFunctions(a.Functions) {
		want[fn.Name] = fn.SignatureHash
		old, ok := cur.Functions[fn.Name]
		switch {
		case !ok:
			c.Functions = append(c.Functions, FunctionChange{Op: InsertFunction, Name: fn.Name, SignatureHash: fn.SignatureHash})
		case old != fn.SignatureHash:
			c.Functions = append(c.Functions, FunctionChange{Op: UpdateFunction, Name: fn.Name, SignatureHash: fn.SignatureHash})
		}
	}
	for _, name := range sortedKeys(cur.Functions) {
		if _, ok := want[name]; !ok {
			c.Functions = append(c.Functions, FunctionChange{Op: DeleteFunction, Name: name})
		}
	}

	wantEdges := make(map[Edge]bool, len(a.Edges))
	for _, e := range sortedEdges(a.Edges) {
		wantEdges[e] = true
		if !cur.Edges[e] {
			c.Edges = append(c.Edges, EdgeChange{Op: InsertEdge, Edge: e})
		}
	}
	old := make([]Edge, 0, len(cur.Edges))
	for e := range cur.Edges {
		if !wantEdges[e] {
			old = append(old, e)
		}
	}
	for _, e := range sortedEdges(old) {
		c.Edges = append(c.Edges, EdgeChange{Op: DeleteEdge, Edge: e})
	}
	return c
}

func sortedFunctions(in []Function) []Function {
	out := append([]Function(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedEdges(in []Edge) []Edge {
	out := append([]Edge(nil), in...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Caller != out[j].Caller {
			return out[i].Caller < out[j].Caller
		}
		return out[i].Callee < out[j].Callee
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
