package search

import (
	"sync"
	"sync/atomic"

	"github.com/mapforge/mapforge/internal/catalog"
)

// Store is the mutex-protected collection of search results. Readers
// poll Version to detect changes without holding the lock during
// rendering: every mutation is lock -> mutate -> unlock -> version bump,
// so a reader that observes a new version and then takes a snapshot
// always sees data at least as fresh as that version.
type Store struct {
	mu      sync.Mutex
	entries []catalog.Entry

	version atomic.Uint64
}

// NewStore creates an empty result store
func NewStore() *Store {
	return &Store{}
}

// Version returns the monotonically increasing list version.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a copy of the current entries taken under the lock.
func (s *Store) Snapshot() []catalog.Entry {
	s.mu.Lock()
	out := make([]catalog.Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.Unlock()
	return out
}

// Clear removes all entries and bumps the version so readers notice.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	s.version.Add(1)
}

// Replace swaps in a freshly built entry set in one pass. The ok
// callback runs under the lock; when it reports false (the seeding
// search is stale) the store is left untouched and Replace returns
// false.
func (s *Store) Replace(entries []catalog.Entry, ok func() bool) bool {
	s.mu.Lock()
	if ok != nil && !ok() {
		s.mu.Unlock()
		return false
	}
	s.entries = entries
	s.mu.Unlock()
	s.version.Add(1)
	return true
}

// EntryAt snapshots the identifier and name of the entry at index,
// releasing the lock before any network call is made with them.
func (s *Store) EntryAt(index int) (id, name string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return "", "", false
	}
	return s.entries[index].ID, s.entries[index].Name, true
}

// Update mutates the entry at index under the lock. The callback must
// re-validate anything that can race with a cancellation (generation,
// identifier) and return false to discard the mutation; the version is
// bumped only when the callback reports a real change. Out-of-bounds
// indexes are discarded silently.
func (s *Store) Update(index int, fn func(e *catalog.Entry) bool) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.entries) {
		s.mu.Unlock()
		return false
	}
	changed := fn(&s.entries[index])
	s.mu.Unlock()
	if changed {
		s.version.Add(1)
	}
	return changed
}
