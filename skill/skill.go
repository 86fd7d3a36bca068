package skill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ManifestFileName is the manifest file every skill directory must contain.
const ManifestFileName = "SKILL.json"

// DependencyRef declares a third-party package a skill needs at run time.
// The loader only carries these as metadata; resolution and installation
// happen in the deps package.
type DependencyRef struct {
	Package    string `json:"package"`
	Constraint string `json:"constraint"`
	Ecosystem  string `json:"ecosystem"`
}

// Manifest is the SKILL.json contents describing a loadable skill.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Instructions drive the skill execution collaborator.
	Instructions string          `json:"instructions"`
	Dependencies []DependencyRef `json:"dependencies,omitempty"`

	// Compensation names the handler invoked during workflow rollback.
	// Empty means the skill has no compensation (rollback logs a no-op).
	Compensation string `json:"compensation,omitempty"`

	// Files lists resource files loaded alongside the manifest.
	Files []string `json:"files,omitempty"`

	Author  string `json:"author,omitempty"`
	License string `json:"license,omitempty"`
}

// Validate checks the manifest for required fields.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("skill ID is required")
	}
	if m.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if m.Instructions == "" {
		return fmt.Errorf("skill instructions are required")
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	return nil
}

// Unit is a loaded skill: the manifest plus its resources and the content
// hash used for change detection. Units are immutable; a reload produces a
// replacement, never an in-place mutation.
type Unit struct {
	UnitID         string            `json:"unit_id"`
	SourceLocation string            `json:"source_location"`
	ContentHash    string            `json:"content_hash"`
	LoadedAt       time.Time         `json:"loaded_at"`
	Manifest       *Manifest         `json:"manifest"`
	Resources      map[string]string `json:"-"`
}

// Instructions returns the unit's instructions for prompt injection.
func (u *Unit) Instructions() string {
	if u == nil || u.Manifest == nil {
		return ""
	}
	return u.Manifest.Instructions
}

// Resource returns a named resource file's contents.
func (u *Unit) Resource(name string) (string, bool) {
	content, ok := u.Resources[name]
	return content, ok
}

// readManifest parses SKILL.json from a skill directory.
func readManifest(dir string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return nil, nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("parse skill manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid skill manifest: %w", err)
	}
	return &m, data, nil
}

// hashSource computes the content hash for a skill directory: the manifest
// bytes plus every listed resource file, in sorted order. Missing resource
// files are skipped so the hash stays stable for partially-populated skills.
func hashSource(dir string, manifestData []byte, files []string) (string, error) {
	h := sha256.New()
	h.Write(manifestData)

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, name := range sorted {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read resource %s: %w", name, err)
		}
		h.Write([]byte(name))
		h.Write(content)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// loadResources reads the manifest's listed files into memory.
func loadResources(dir string, files []string) (map[string]string, error) {
	resources := make(map[string]string, len(files))
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read resource %s: %w", name, err)
		}
		resources[name] = string(content)
	}
	return resources, nil
}
