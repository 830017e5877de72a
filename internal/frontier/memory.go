package frontier

import (
	"context"
	"sync"
)

// MemoryFrontier is an in-process backend for tests and throwaway runs.
type MemoryFrontier struct {
	mu     sync.Mutex
	queues map[string][]Candidate
	queued map[string]map[string]bool
}

// NewMemory creates an empty MemoryFrontier.
func NewMemory() *MemoryFrontier {
	return &MemoryFrontier{
		queues: make(map[string][]Candidate),
		queued: make(map[string]map[string]bool),
	}
}

func (f *MemoryFrontier) Enqueue(_ context.Context, topicID string, c Candidate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := f.queued[topicID]
	if seen == nil {
		seen = make(map[string]bool)
		f.queued[topicID] = seen
	}
	if seen[c.CanonicalURL] {
		return false, nil
	}
	seen[c.CanonicalURL] = true
	f.queues[topicID] = append(f.queues[topicID], c)
	return true, nil
}

func (f *MemoryFrontier) Pop(_ context.Context, topicID string) (*Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := f.queues[topicID]
	if len(q) == 0 {
		return nil, nil
	}

	// Highest priority wins; insertion order breaks ties.
	best := 0
	for i, c := range q {
		if c.Priority > q[best].Priority {
			best = i
		}
	}
	c := q[best]
	f.queues[topicID] = append(q[:best], q[best+1:]...)
	delete(f.queued[topicID], c.CanonicalURL)
	return &c, nil
}

func (f *MemoryFrontier) Size(_ context.Context, topicID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[topicID]), nil
}

func (f *MemoryFrontier) Clear(_ context.Context, topicID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.queues[topicID])
	delete(f.queues, topicID)
	delete(f.queued, topicID)
	return n, nil
}
