// Package types defines shared primitives for the skillforge engine:
// the unified error model used across the loader, installer, and
// composition packages.
package types
