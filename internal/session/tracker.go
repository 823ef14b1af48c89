package session

import (
	"sync"

	"github.com/reconcilr-io/reconcilr/internal/lifecycle"
)

// Tracker enforces that at most one lifecycle operation is in flight for a
// given resource at any time, across all sessions in the process. A second
// concurrent attempt fails fast instead of silently racing.
type Tracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		inflight: make(map[string]struct{}),
	}
}

// acquire claims a resource key (its id, or its address before an id
// exists). It never blocks: overlap is a caller-side bug, reported as
// ConcurrentModification so the caller backs off.
func (t *Tracker) acquire(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.inflight[key]; busy {
		return lifecycle.ConcurrentModification(key)
	}
	t.inflight[key] = struct{}{}
	return nil
}

func (t *Tracker) release(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, key)
}
