// Package artifact produces the artifact set a sync cycle reconciles
// against, either from a manifest file or by scanning a source tree.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/KafClaw/roadmap/internal/reconcile"
)

// Manifest is the on-disk artifact list. JSON manifests parse too, since
// JSON is valid YAML.
type Manifest struct {
	Artifacts []reconcile.Artifact `yaml:"artifacts" json:"artifacts"`
}

// LoadManifest reads a YAML or JSON manifest.
func LoadManifest(path string) ([]reconcile.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m.Artifacts, nil
}

// SaveManifest writes artifacts as YAML, atomically via a temp file.
func SaveManifest(path string, artifacts []reconcile.Artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	data, err := yaml.Marshal(Manifest{Artifacts: artifacts})
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}
