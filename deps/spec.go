package deps

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Ecosystem identifies a package ecosystem.
type Ecosystem string

const (
	EcosystemPython Ecosystem = "python"
	EcosystemNode   Ecosystem = "node"
)

// DependencySpec is a single version-constrained dependency declaration.
// Immutable value; produced by skill metadata, consumed by the resolver.
type DependencySpec struct {
	Package    string    `json:"package"`
	Constraint string    `json:"constraint"`
	Ecosystem  Ecosystem `json:"ecosystem"`
}

// String renders the spec in requirement form, e.g. "numpy==1.24.0".
func (s DependencySpec) String() string {
	return s.Package + s.Constraint
}

// ConflictReport lists the mutually incompatible constraints declared for
// one package within one ecosystem.
type ConflictReport struct {
	Package     string   `json:"package"`
	Ecosystem   Ecosystem `json:"ecosystem"`
	Constraints []string `json:"conflicting_constraints"`
}

func (c ConflictReport) String() string {
	return fmt.Sprintf("%s (%s): %s", c.Package, c.Ecosystem, strings.Join(c.Constraints, " vs "))
}

// DependencySetHash computes a stable hash over a spec set. Order of the
// input does not matter; identical sets always hash identically, which is
// what keys the artifact cache and the installation lock.
func DependencySetHash(specs []DependencySpec) string {
	lines := make([]string, 0, len(specs))
	for _, s := range specs {
		lines = append(lines, string(s.Ecosystem)+"|"+s.Package+"|"+s.Constraint)
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LockKey derives the installation lock key for a skill, ecosystem, and
// dependency set.
func LockKey(skillID string, ecosystem Ecosystem, setHash string) string {
	return skillID + ":" + string(ecosystem) + ":" + setHash
}
