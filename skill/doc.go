// Package skill implements the dynamic loader: skill units are directories
// carrying a SKILL.json manifest, loaded into a process-wide registry with
// content-hash change detection, idempotent reload, and an optional
// background watcher for hot-swap.
package skill
