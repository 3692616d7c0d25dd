// Package pool provides the fixed-size worker pools that execute task
// bodies: one pool each for compute-bound, I/O-bound, and blocking work.
// Pools know nothing about task identity, priority, or progress; they are a
// pure execution substrate with bounded queues and live counters.
package pool
