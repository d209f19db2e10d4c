package verification

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// resolvedRetention bounds how long a finished prompt is remembered. By then
// its buttons are long gone from the staff channel.
const resolvedRetention = 24 * time.Hour

// guard lets one click per staff prompt run a verification action. A click
// arriving while another runs, or after one succeeded, is turned away.
type guard struct {
	group     singleflight.Group
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	resolved  map[string]time.Time
}

func newGuard(retention time.Duration, now func() time.Time) *guard {
	if now == nil {
		now = time.Now
	}
	return &guard{
		retention: retention,
		now:       now,
		resolved:  make(map[string]time.Time),
	}
}

// run calls fn on behalf of owner unless the prompt is resolved or already
// being handled. fn reports whether the prompt reached a terminal state.
// run reports whether fn was called for this owner.
func (g *guard) run(promptID, owner string, fn func() bool) bool {
	if g.isResolved(promptID) {
		return false
	}
	leader, _, _ := g.group.Do(promptID, func() (any, error) {
		if g.isResolved(promptID) {
			return "", nil
		}
		if fn() {
			g.mu.Lock()
			g.resolved[promptID] = g.now()
			g.mu.Unlock()
		}
		return owner, nil
	})
	return leader.(string) == owner
}

func (g *guard) isResolved(promptID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()
	_, ok := g.resolved[promptID]
	return ok
}

func (g *guard) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.resolved)
}

// sweepLocked forgets prompts resolved before the retention window. Zero
// retention keeps everything.
func (g *guard) sweepLocked() {
	if g.retention <= 0 {
		return
	}
	cutoff := g.now().Add(-g.retention)
	for id, at := range g.resolved {
		if at.Before(cutoff) {
			delete(g.resolved, id)
		}
	}
}
