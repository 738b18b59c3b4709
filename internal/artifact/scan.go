package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/KafClaw/roadmap/internal/reconcile"
)

// ScanOptions narrows Scan.
type ScanOptions struct {
	// Extensions limits which files are tracked, e.g. ".go". Empty means ".go".
	Extensions []string
	// SkipDirs are directory base names never descended into. Hidden
	// directories are always skipped.
	SkipDirs []string
}

var defaultSkipDirs = []string{"vendor", "node_modules", "testdata"}

// Scan walks root and returns one artifact per tracked file, sorted by
// path. Paths are slash-separated and relative to root. Go files also
// carry their functions and call edges; other files carry only a checksum.
func Scan(root string, opts ScanOptions) ([]reconcile.Artifact, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".go"}
	}
	skip := map[string]bool{}
	for _, d := range append(append([]string{}, defaultSkipDirs...), opts.SkipDirs...) {
		skip[d] = true
	}

	var out []reconcile.Artifact
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || skip[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !hasExt(name, exts) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		a, err := scanFile(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func hasExt(name string, exts []string) bool {
	for _, e := range exts {
		if strings.HasSuffix(name, e) {
			return true
		}
	}
	return false
}

func scanFile(path, rel string) (reconcile.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return reconcile.Artifact{}, err
	}
	a := reconcile.Artifact{Path: rel, Checksum: digest(data)}
	if strings.HasSuffix(rel, ".go") {
		// Unparseable Go is still tracked by checksum.
		a.Functions, a.Edges, _ = goSymbols(rel, data)
	}
	return a, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// goSymbols extracts top-level functions and the calls made inside them.
// Methods are named "Recv.Method"; callees are the called identifier or
// "pkg.Func" / "x.Method" selector as written.
func goSymbols(name string, src []byte) ([]reconcile.Function, []reconcile.Edge, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, nil, err
	}
	var fns []reconcile.Function
	var edges []reconcile.Edge
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		fname := funcName(fd)
		fns = append(fns, reconcile.Function{Name: fname, SignatureHash: signatureHash(fset, fd)})
		if fd.Body == nil {
			continue
		}
		seen := map[string]bool{}
		ast.Inspect(fd.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			if callee := calleeName(call.Fun); callee != "" && !seen[callee] {
				seen[callee] = true
				edges = append(edges, reconcile.Edge{Caller: fname, Callee: callee})
			}
			return true
		})
	}
	return fns, edges, nil
}

func funcName(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return fd.Name.Name
	}
	return recvName(fd.Recv.List[0].Type) + "." + fd.Name.Name
}

func recvName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return recvName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return recvName(t.X)
	case *ast.IndexListExpr:
		return recvName(t.X)
	}
	return "?"
}

func calleeName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		if x, ok := f.X.(*ast.Ident); ok {
			return x.Name + "." + f.Sel.Name
		}
		return f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	case *ast.ParenExpr:
		return calleeName(f.X)
	}
	return ""
}

// signatureHash hashes the printed receiver and type of fd, so body edits
// leave it unchanged.
func signatureHash(fset *token.FileSet, fd *ast.FuncDecl) string {
	var buf bytes.Buffer
	if fd.Recv != nil {
		_ = printer.Fprint(&buf, fset, fd.Recv)
	}
	buf.WriteString(fd.Name.Name)
	_ = printer.Fprint(&buf, fset, fd.Type)
	return digest(buf.Bytes())[:16]
}
