package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// envFileCandidates returns the env files consulted before config is read,
// most specific first.
func envFileCandidates() []string {
	var out []string
	if explicit := strings.TrimSpace(os.Getenv("ROADMAP_ENV_FILE")); explicit != "" {
		out = append(out, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out,
			filepath.Join(home, ".config", "roadmap", "env"),
			filepath.Join(home, ConfigDir, "env"),
		)
	}
	return out
}

// LoadEnvFileCandidates exports KEY=VALUE pairs from the known env files.
// A variable already present in the process environment wins.
func LoadEnvFileCandidates() {
	seen := make(map[string]bool)
	for _, p := range envFileCandidates() {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		pairs, err := readEnvFile(p)
		if err != nil {
			continue
		}
		for _, kv := range pairs {
			if _, set := os.LookupEnv(kv[0]); !set {
				_ = os.Setenv(kv[0], kv[1])
			}
		}
	}
}

// readEnvFile parses a dotenv-style file in order. Blank lines, comments and
// lines without a key are skipped; an "export " prefix is accepted.
func readEnvFile(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs [][2]string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if key, val, ok := parseEnvLine(sc.Text()); ok {
			pairs = append(pairs, [2]string{key, val})
		}
	}
	return pairs, sc.Err()
}

func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
