package welcome

import (
	"sync"
	"time"
)

type record struct {
	joinedAt time.Time
	postedAt time.Time
}

// Deduplicator remembers which join of each member was already welcomed. A
// member who leaves and rejoins has a new join time and is welcomed again.
type Deduplicator struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	entries   map[string]record
}

func NewDeduplicator(retention time.Duration, now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{
		retention: retention,
		now:       now,
		entries:   make(map[string]record),
	}
}

func (d *Deduplicator) ShouldPost(guildID, userID string, joinedAt time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked()
	rec, ok := d.entries[key(guildID, userID)]
	return !ok || !rec.joinedAt.Equal(joinedAt)
}

func (d *Deduplicator) MarkPosted(guildID, userID string, joinedAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key(guildID, userID)] = record{joinedAt: joinedAt, postedAt: d.now()}
}

func (d *Deduplicator) Forget(guildID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key(guildID, userID))
}

func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// sweepLocked drops records older than the retention window. Zero
// retention keeps everything.
func (d *Deduplicator) sweepLocked() {
	if d.retention <= 0 {
		return
	}
	cutoff := d.now().Add(-d.retention)
	for k, rec := range d.entries {
		if rec.postedAt.Before(cutoff) {
			delete(d.entries, k)
		}
	}
}

func key(guildID, userID string) string {
	return guildID + ":" + userID
}
