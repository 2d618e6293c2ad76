// Package queue implements the five-level priority queue protocol used to
// hand send-tasks to external execution workers. Each level is a named FIFO
// list ("level1".."level5", 1 highest); workers always receive work from
// the highest non-empty level. Delivery is at-least-once: task identifiers
// are idempotent and duplicate pops resolve to the same task row.
package queue

import (
	"context"
	"fmt"
)

// Levels are the queue list names in dequeue scan order, highest priority
// first. The names are part of the worker protocol and must not change.
var Levels = []string{"level1", "level2", "level3", "level4", "level5"}

// LevelForPriority maps a dispatch priority (1 highest .. 5 lowest) to its
// queue list name.
func LevelForPriority(priority int) (string, error) {
	if priority < 1 || priority > len(Levels) {
		return "", fmt.Errorf("queue: priority %d out of range 1..%d", priority, len(Levels))
	}
	return Levels[priority-1], nil
}

// ValidLevel reports whether name is one of the five protocol list names.
func ValidLevel(name string) bool {
	for _, l := range Levels {
		if l == name {
			return true
		}
	}
	return false
}

// Queue is the level-queue protocol. Enqueue appends a task identifier to
// the tail of the named level list; DequeueNext pops from the head of the
// first non-empty list scanning level1 to level5, returning "" when all
// lists are empty.
type Queue interface {
	Enqueue(ctx context.Context, level, taskID string) error
	DequeueNext(ctx context.Context) (string, error)
	// Len returns the number of queued identifiers at the given level.
	Len(ctx context.Context, level string) (int64, error)
}
