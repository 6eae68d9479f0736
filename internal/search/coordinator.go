// Package search runs the asynchronous map discovery pipeline: a
// catalog query seeds the result store, then a sequential enrichment
// chain fills in per-entry release metadata and preview images.
// Cancellation is cooperative: every continuation captures the
// generation active when it was scheduled and becomes a no-op once the
// counter moves on.
package search

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mapforge/mapforge/internal/catalog"
)

// Coordinator owns the result store and orchestrates search, enrichment
// and preview fetching. At most one search is active at a time.
type Coordinator struct {
	client     *catalog.Client
	store      *Store
	previewDir string
	pageSize   int

	generation atomic.Uint64
	searching  atomic.Bool
	stopReq    atomic.Bool
	closed     atomic.Bool

	// batch counters for callers that want a blocking wait
	completed atomic.Int64
	expected  atomic.Int64

	mu      sync.Mutex // guards lastErr and cancel
	lastErr string
	cancel  context.CancelFunc
}

// NewCoordinator creates a search coordinator. previewDir is the local
// preview image cache; pageSize is passed through to the catalog query.
func NewCoordinator(client *catalog.Client, store *Store, previewDir string, pageSize int) *Coordinator {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Coordinator{
		client:     client,
		store:      store,
		previewDir: previewDir,
		pageSize:   pageSize,
	}
}

// Store returns the coordinator's result store.
func (c *Coordinator) Store() *Store {
	return c.store
}

// Searching reports whether a search or its enrichment chain is active.
func (c *Coordinator) Searching() bool {
	return c.searching.Load()
}

// Generation returns the current search generation.
func (c *Coordinator) Generation() uint64 {
	return c.generation.Load()
}

// Progress returns the completed and expected per-entry operation
// counts for the current batch.
func (c *Coordinator) Progress() (completed, expected int64) {
	return c.completed.Load(), c.expected.Load()
}

// LastError returns the user-facing message of the most recent
// search-level failure, or "" when the last search succeeded.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// StartSearch begins a new search. If a search is already active the
// call is a no-op and returns false: no queuing, no preemption. On
// acceptance the generation advances, the store is cleared, and the
// catalog query plus enrichment chain run on a detached worker.
func (c *Coordinator) StartSearch(query string, page int) bool {
	if c.closed.Load() {
		return false
	}
	if !c.searching.CompareAndSwap(false, true) {
		log.Printf("search: already in progress, ignoring %q", query)
		return false
	}

	gen := c.generation.Add(1)
	c.stopReq.Store(false)
	c.completed.Store(0)
	c.expected.Store(0)
	c.setErr("")
	c.store.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.runSearch(ctx, query, page, gen)
	return true
}

// StopSearch cancels the active search, if any. The generation bump
// invalidates every outstanding continuation immediately and
// atomically; their responses may still arrive but their effect on
// shared state is suppressed. Idempotent.
func (c *Coordinator) StopSearch() {
	c.stopReq.Store(true)
	c.generation.Add(1)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	c.store.Clear()
	c.searching.Store(false)
}

// Restart cancels any active search and starts a new one.
func (c *Coordinator) Restart(query string, page int) bool {
	c.StopSearch()
	return c.StartSearch(query, page)
}

// Close permanently shuts the coordinator down. Outstanding
// continuations observe the generation bump and become no-ops.
func (c *Coordinator) Close() {
	c.closed.Store(true)
	c.StopSearch()
}

// WaitIdle blocks until the current search and its enrichment chain
// have finished, or ctx expires.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if !c.searching.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// stale reports whether gen no longer matches the current generation.
func (c *Coordinator) stale(gen uint64) bool {
	return c.generation.Load() != gen
}

// finish clears the searching flag, but only on behalf of the search
// that still owns the current generation. A stale worker must not
// clear the flag of a search that replaced it.
func (c *Coordinator) finish(gen uint64) {
	if !c.stale(gen) {
		c.searching.Store(false)
	}
}

func (c *Coordinator) setErr(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// runSearch is the per-search worker: one catalog round-trip, then the
// sequential enrichment chain.
func (c *Coordinator) runSearch(ctx context.Context, query string, page int, gen uint64) {
	entries, err := c.client.Search(ctx, query, page, c.pageSize)

	if c.stale(gen) || c.stopReq.Load() {
		return
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		var se *catalog.StatusError
		if errors.As(err, &se) {
			c.setErr(se.Error())
		} else {
			c.setErr("malformed catalog response: " + err.Error())
		}
		log.Printf("search: catalog query for %q failed: %v", query, err)
		c.finish(gen)
		return
	}

	// Empty is a success with zero entries, not an error.
	if len(entries) == 0 {
		c.finish(gen)
		return
	}

	c.expected.Store(int64(len(entries)))
	if !c.store.Replace(entries, func() bool { return !c.stale(gen) }) {
		return
	}

	log.Printf("search: %d results for %q (page %d)", len(entries), query, page)

	for i := 0; i < len(entries); i++ {
		if c.stopReq.Load() || c.stale(gen) {
			return
		}
		c.enrichOne(ctx, i, gen)
		c.completed.Add(1)
	}

	c.finish(gen)
}

// enrichOne performs the per-entry metadata call for one index. One
// call is in flight at a time; the releases endpoint is rate limited
// and issuing the chain sequentially avoids burst throttling. Failures
// for one entry never halt the chain.
func (c *Coordinator) enrichOne(ctx context.Context, index int, gen uint64) {
	id, name, ok := c.store.EntryAt(index)
	if !ok {
		return
	}

	rels, previewURL, err := c.client.Releases(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("search: enrich %q failed: %v", name, err)
		}
		return
	}

	if c.stale(gen) {
		return
	}

	var needPreview bool
	var previewDest string

	// The generation must be re-validated under the lock: the lock
	// acquisition itself can race with a cancellation. The identifier
	// check defends against the index having been invalidated by a
	// concurrent clear.
	merged := c.store.Update(index, func(e *catalog.Entry) bool {
		if c.stale(gen) || e.ID != id {
			return false
		}
		e.Releases = rels
		e.PreviewURL = previewURL
		if previewURL != "" {
			ext := catalog.SniffImageExt(previewURL)
			e.PreviewExt = ext
			dest := cachedPreviewPath(c.previewDir, id, ext)
			if fileExists(dest) {
				e.PreviewPath = dest
				e.PreviewLoaded = true
			} else {
				e.PreviewDownloading = true
				needPreview = true
				previewDest = dest
			}
		}
		return true
	})

	if merged && needPreview {
		go c.fetchPreview(ctx, previewURL, previewDest, index, gen)
	}
}
