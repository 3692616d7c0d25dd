// Package engine provides the priority-aware task execution engine. It
// tracks every submitted task from pending to a terminal status, dispatches
// queued work onto the concurrency engine's pools by category, enforces
// per-task timeouts, and fans progress reports out to subscribers in real
// time.
package engine
