package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mapforge/mapforge/internal/catalog"
)

// fakeCatalog serves a project search endpoint and per-project release
// endpoints with configurable payloads and an optional gate that blocks
// the search response until released.
type fakeCatalog struct {
	gate         atomic.Pointer[chan struct{}] // when set, search blocks until closed
	searchBody   atomic.Value                  // string
	searchStatus atomic.Int64
	releaseCalls atomic.Int64
	srv          *httptest.Server
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	f := &fakeCatalog{}
	f.searchBody.Store(`[]`)

	mux := http.NewServeMux()
	mux.HandleFunc("/projects/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/releases") {
			f.releaseCalls.Add(1)
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/projects/"), "/releases")
			fmt.Fprintf(w, `[{"name": "rel-%s", "tag_name": "v1", "assets": {"links": [
				{"name": "map%s.zip", "url": "%s/archives/map%s.zip"},
				{"name": "shot%s.png", "url": "%s/previews/shot%s.png"}
			]}}]`, id, id, f.srv.URL, id, id, f.srv.URL, id)
			return
		}
		if gate := f.gate.Load(); gate != nil {
			<-*gate
		}
		if code := f.searchStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		fmt.Fprint(w, f.searchBody.Load().(string))
	})
	mux.HandleFunc("/previews/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCatalog) setResults(ids ...string) {
	var items []string
	for _, id := range ids {
		items = append(items, fmt.Sprintf(`{"id": %q, "name": "Map %s"}`, id, id))
	}
	f.searchBody.Store("[" + strings.Join(items, ",") + "]")
}

func newTestCoordinator(t *testing.T, f *fakeCatalog) *Coordinator {
	client := catalog.New(f.srv.URL, 5*time.Second)
	c := NewCoordinator(client, NewStore(), filepath.Join(t.TempDir(), "previews"), 20)
	t.Cleanup(c.Close)
	return c
}

func waitIdle(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx); err != nil {
		t.Fatalf("search did not finish: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSearchEnrichesAllEntries(t *testing.T) {
	f := newFakeCatalog(t)
	f.setResults("1", "2", "3")
	c := newTestCoordinator(t, f)

	if !c.StartSearch("course", 1) {
		t.Fatal("StartSearch() rejected on idle coordinator")
	}
	waitIdle(t, c)

	if msg := c.LastError(); msg != "" {
		t.Fatalf("LastError() = %q", msg)
	}

	snap := c.Store().Snapshot()
	if len(snap) != 3 {
		t.Fatalf("got %d entries, want 3", len(snap))
	}
	for i, e := range snap {
		if len(e.Releases) != 1 {
			t.Errorf("entry %d not enriched: %+v", i, e)
		}
	}

	completed, expected := c.Progress()
	if completed != 3 || expected != 3 {
		t.Errorf("Progress() = %d/%d, want 3/3", completed, expected)
	}
	if got := f.releaseCalls.Load(); got != 3 {
		t.Errorf("release endpoint hit %d times, want 3", got)
	}
}

func TestSearchEmptyResultIsSuccess(t *testing.T) {
	f := newFakeCatalog(t)
	c := newTestCoordinator(t, f)

	c.StartSearch("nothing", 1)
	waitIdle(t, c)

	if msg := c.LastError(); msg != "" {
		t.Errorf("LastError() = %q, want empty", msg)
	}
	if n := c.Store().Len(); n != 0 {
		t.Errorf("store has %d entries, want 0", n)
	}
}

func TestSearchStatusErrorSurfaced(t *testing.T) {
	f := newFakeCatalog(t)
	f.searchStatus.Store(http.StatusBadGateway)
	c := newTestCoordinator(t, f)

	c.StartSearch("x", 1)
	waitIdle(t, c)

	msg := c.LastError()
	if !strings.Contains(msg, "502") {
		t.Errorf("LastError() = %q, want the catalog status code", msg)
	}
}

func TestSearchMalformedResponseSurfaced(t *testing.T) {
	f := newFakeCatalog(t)
	f.searchBody.Store(`{"not": "an array"}`)
	c := newTestCoordinator(t, f)

	c.StartSearch("x", 1)
	waitIdle(t, c)

	if msg := c.LastError(); !strings.Contains(msg, "malformed") {
		t.Errorf("LastError() = %q, want a malformed-response message", msg)
	}
}

func TestStartSearchRejectsOverlap(t *testing.T) {
	f := newFakeCatalog(t)
	gate := make(chan struct{})
	f.gate.Store(&gate)
	c := newTestCoordinator(t, f)

	if !c.StartSearch("first", 1) {
		t.Fatal("first StartSearch() rejected")
	}
	if c.StartSearch("second", 1) {
		t.Error("second StartSearch() accepted while the first is active")
	}

	gen := c.Generation()
	close(gate)
	waitIdle(t, c)

	if c.Generation() != gen {
		t.Error("rejected StartSearch() moved the generation")
	}
}

func TestStopSearchDiscardsLateResults(t *testing.T) {
	f := newFakeCatalog(t)
	f.setResults("1", "2")
	gate := make(chan struct{})
	f.gate.Store(&gate)
	c := newTestCoordinator(t, f)

	c.StartSearch("doomed", 1)
	c.StopSearch()

	if c.Searching() {
		t.Error("Searching() true after StopSearch()")
	}

	// Release the catalog response after the stop: the worker is stale
	// and its results must never reach the store.
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if n := c.Store().Len(); n != 0 {
		t.Errorf("stale results reached the store: %d entries", n)
	}
	if c.Searching() {
		t.Error("stale worker set the searching flag")
	}
}

func TestStopSearchIdempotent(t *testing.T) {
	f := newFakeCatalog(t)
	c := newTestCoordinator(t, f)

	c.StopSearch()
	c.StopSearch()
	if c.Searching() {
		t.Error("Searching() true after stop on idle coordinator")
	}
	if !c.StartSearch("after", 1) {
		t.Error("StartSearch() rejected after idle stops")
	}
	waitIdle(t, c)
}

func TestGenerationAdvancesOnEveryTransition(t *testing.T) {
	f := newFakeCatalog(t)
	c := newTestCoordinator(t, f)

	g0 := c.Generation()
	c.StartSearch("a", 1)
	g1 := c.Generation()
	if g1 <= g0 {
		t.Error("StartSearch() did not advance the generation")
	}
	waitIdle(t, c)

	c.StopSearch()
	g2 := c.Generation()
	if g2 <= g1 {
		t.Error("StopSearch() did not advance the generation")
	}
}

func TestRestartReplacesActiveSearch(t *testing.T) {
	f := newFakeCatalog(t)
	gate := make(chan struct{})
	f.gate.Store(&gate)
	f.setResults("old")
	c := newTestCoordinator(t, f)

	c.StartSearch("first", 1)

	// Second search arrives while the first is still waiting on the
	// catalog. Restart cancels the first; only the second populates.
	f.gate.Store(nil)
	f.setResults("new-1", "new-2")
	if !c.Restart("second", 1) {
		t.Fatal("Restart() rejected")
	}
	close(gate) // let the first worker's response arrive late
	waitIdle(t, c)

	snap := c.Store().Snapshot()
	if len(snap) != 2 {
		t.Fatalf("got %d entries, want 2 from the second search", len(snap))
	}
	for _, e := range snap {
		if !strings.HasPrefix(e.ID, "new-") {
			t.Errorf("first search's entry survived the restart: %+v", e)
		}
	}
}

func TestCloseRejectsFurtherSearches(t *testing.T) {
	f := newFakeCatalog(t)
	c := newTestCoordinator(t, f)

	c.Close()
	if c.StartSearch("x", 1) {
		t.Error("StartSearch() accepted after Close()")
	}
}

func TestPreviewDownloadAndCache(t *testing.T) {
	f := newFakeCatalog(t)
	f.setResults("7")
	c := newTestCoordinator(t, f)

	c.StartSearch("map", 1)
	waitIdle(t, c)

	// The preview fetch runs on its own goroutine after the chain.
	waitFor(t, "preview to load", func() bool {
		snap := c.Store().Snapshot()
		return len(snap) == 1 && snap[0].PreviewLoaded
	})

	snap := c.Store().Snapshot()
	e := snap[0]
	if e.PreviewDownloading {
		t.Error("PreviewDownloading still set after load")
	}
	if e.PreviewPath == "" {
		t.Fatal("PreviewPath empty after load")
	}
	data, err := os.ReadFile(e.PreviewPath)
	if err != nil {
		t.Fatalf("reading cached preview: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("cached preview content = %q", data)
	}

	// A second search for the same entry finds the cached file and
	// never re-downloads it.
	c.Restart("map", 1)
	waitIdle(t, c)

	snap = c.Store().Snapshot()
	if len(snap) != 1 || !snap[0].PreviewLoaded {
		t.Fatalf("cached preview not recognized: %+v", snap)
	}
	if snap[0].PreviewDownloading {
		t.Error("cache hit still marked downloading")
	}
}
