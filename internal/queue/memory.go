package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryQueue is an in-process Queue used in tests and single-node setups
// without a Redis backend. Semantics match RedisQueue: FIFO per level,
// strict level1→level5 scan, atomic pop.
type MemoryQueue struct {
	mu    sync.Mutex
	lists map[string][]string
}

// NewMemory creates an empty MemoryQueue.
func NewMemory() *MemoryQueue {
	return &MemoryQueue{lists: make(map[string][]string)}
}

// Enqueue appends a task identifier to the tail of the named level list.
func (q *MemoryQueue) Enqueue(_ context.Context, level, taskID string) error {
	if !ValidLevel(level) {
		return fmt.Errorf("queue: invalid level %q", level)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[level] = append(q.lists[level], taskID)
	return nil
}

// DequeueNext pops from the head of the first non-empty level. The whole
// scan runs under one lock, so a concurrent dequeuer can never take from a
// lower level while a higher one is non-empty.
func (q *MemoryQueue) DequeueNext(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, level := range Levels {
		list := q.lists[level]
		if len(list) == 0 {
			continue
		}
		id := list[0]
		q.lists[level] = list[1:]
		return id, nil
	}
	return "", nil
}

// Len returns the number of queued identifiers at the given level.
func (q *MemoryQueue) Len(_ context.Context, level string) (int64, error) {
	if !ValidLevel(level) {
		return 0, fmt.Errorf("queue: invalid level %q", level)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[level])), nil
}
