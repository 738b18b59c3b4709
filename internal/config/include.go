package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const includeKey = "$include"

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// includeResolver loads a JSON config tree. Files named under "$include" are
// merged first, in order, and the including file's own keys win over them.
type includeResolver struct {
	stack []string
}

// loadResolvedConfig returns the merged document at path with ${VAR}
// references substituted from the environment.
func loadResolvedConfig(path string) ([]byte, error) {
	r := &includeResolver{}
	doc, err := r.load(path)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (r *includeResolver) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, p := range r.stack {
		if p == abs {
			return nil, fmt.Errorf("config include cycle: %s", strings.Join(append(r.stack, abs), " -> "))
		}
	}
	r.stack = append(r.stack, abs)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	own := map[string]any{}
	if err := json.Unmarshal(data, &own); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", abs, err)
	}
	if own == nil {
		own = map[string]any{}
	}

	includes, err := includeList(own[includeKey])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	delete(own, includeKey)

	out := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		child, err := r.load(inc)
		if err != nil {
			return nil, err
		}
		mergeInto(out, child)
	}
	mergeInto(out, expandEnv(own).(map[string]any))
	return out, nil
}

func includeList(v any) ([]string, error) {
	var raw []any
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{t}
	case []any:
		raw = t
	default:
		return nil, fmt.Errorf("%s must be a string or a list of strings", includeKey)
	}
	var out []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s entries must be strings", includeKey)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// mergeInto copies src over dst, descending into objects present on both sides.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, isObj := v.(map[string]any)
		if !isObj {
			dst[k] = v
			continue
		}
		target, ok := dst[k].(map[string]any)
		if !ok {
			target = make(map[string]any, len(sub))
			dst[k] = target
		}
		mergeInto(target, sub)
	}
}

// expandEnv replaces ${VAR} in every string value. Unset variables are left as written.
func expandEnv(v any) any {
	switch t := v.(type) {
	case string:
		return envRef.ReplaceAllStringFunc(t, func(ref string) string {
			if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
				return val
			}
			return ref
		})
	case map[string]any:
		for k, item := range t {
			t[k] = expandEnv(item)
		}
	case []any:
		for i, item := range t {
			t[i] = expandEnv(item)
		}
	}
	return v
}
