package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KafClaw/roadmap/internal/reconcile"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const sampleGo = `package sample

import "fmt"

type Greeter struct{}

func (g *Greeter) Hello(name string) string {
	return fmt.Sprintf("hi %s", name)
}

func Run() {
	g := &Greeter{}
	fmt.Println(g.Hello("x"))
	helper()
}

func helper() {}
`

func TestScanGoFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pkg", "sample.go"), sampleGo)
	writeFile(t, filepath.Join(root, "README.md"), "# readme")
	writeFile(t, filepath.Join(root, ".git", "x.go"), "package x")
	writeFile(t, filepath.Join(root, "vendor", "v.go"), "package v")
	writeFile(t, filepath.Join(root, "broken.go"), "package broken\nfunc (")

	arts, err := Scan(root, ScanOptions{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(arts) != 2 || arts[0].Path != "broken.go" || arts[1].Path != "pkg/sample.go" {
		t.Fatalf("unexpected artifacts %+v", arts)
	}
	if arts[0].Checksum == "" || len(arts[0].Functions) != 0 {
		t.Fatalf("broken file should be tracked by checksum only: %+v", arts[0])
	}

	sample := arts[1]
	names := map[string]bool{}
	for _, fn := range sample.Functions {
		names[fn.Name] = true
		if fn.SignatureHash == "" {
			t.Fatalf("missing signature hash for %s", fn.Name)
		}
	}
	for _, want := range []string{"Greeter.Hello", "Run", "helper"} {
		if !names[want] {
			t.Fatalf("missing function %s in %+v", want, sample.Functions)
		}
	}
	edges := map[reconcile.Edge]bool{}
	for _, e := range sample.Edges {
		edges[e] = true
	}
	for _, want := range []reconcile.Edge{
		{Caller: "Greeter.Hello", Callee: "fmt.Sprintf"},
		{Caller: "Run", Callee: "fmt.Println"},
		{Caller: "Run", Callee: "g.Hello"},
		{Caller: "Run", Callee: "helper"},
	} {
		if !edges[want] {
			t.Fatalf("missing edge %+v in %+v", want, sample.Edges)
		}
	}

	withMD, err := Scan(root, ScanOptions{Extensions: []string{".go", ".md"}, SkipDirs: []string{"pkg"}})
	if err != nil {
		t.Fatalf("scan with options: %v", err)
	}
	if len(withMD) != 2 || withMD[0].Path != "README.md" || withMD[1].Path != "broken.go" {
		t.Fatalf("unexpected artifacts with options %+v", withMD)
	}
}

func TestSignatureHashIgnoresBodyEdits(t *testing.T) {
	before, _, err := goSymbols("a.go", []byte("package a\nfunc F(x int) error { return nil }\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	body, _, _ := goSymbols("a.go", []byte("package a\nfunc F(x int) error {\n\t_ = x\n\treturn nil\n}\n"))
	sig, _, _ := goSymbols("a.go", []byte("package a\nfunc F(x string) error { return nil }\n"))
	if before[0].SignatureHash != body[0].SignatureHash {
		t.Fatal("body edit changed the signature hash")
	}
	if before[0].SignatureHash == sig[0].SignatureHash {
		t.Fatal("signature change kept the same hash")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manifest.yaml")
	arts := []reconcile.Artifact{{
		Path:      "a.ts",
		Checksum:  "c1",
		Functions: []reconcile.Function{{Name: "f", SignatureHash: "h1"}},
		Edges:     []reconcile.Edge{{Caller: "f", Callee: "g"}},
	}}
	if err := SaveManifest(path, arts); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Functions[0].SignatureHash != "h1" || got[0].Edges[0].Callee != "g" {
		t.Fatalf("unexpected manifest %+v", got)
	}
}

func TestLoadJSONManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	writeFile(t, path, `{"artifacts":[{"path":"a.ts","checksum":"c2","functions":[{"name":"g","signatureHash":"hg"}]}]}`)
	got, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load json: %v", err)
	}
	if len(got) != 1 || got[0].Checksum != "c2" || got[0].Functions[0].Name != "g" {
		t.Fatalf("unexpected manifest %+v", got)
	}
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
