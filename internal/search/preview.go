package search

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"

	"github.com/mapforge/mapforge/internal/catalog"
)

// fetchPreview downloads an entry's preview image into the local cache.
// Best effort: a missing preview degrades presentation but must never
// fail the owning entry or the chain.
func (c *Coordinator) fetchPreview(ctx context.Context, url, dest string, index int, gen uint64) {
	if url == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		log.Printf("search: creating preview cache dir: %v", err)
		return
	}

	data, err := c.client.FetchBinary(ctx, url)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("search: preview fetch failed: %v", err)
		}
		return
	}

	if c.stale(gen) {
		return
	}

	if err := os.WriteFile(dest, data, 0644); err != nil {
		log.Printf("search: writing preview %s: %v", dest, err)
		return
	}

	c.store.Update(index, func(e *catalog.Entry) bool {
		if c.stale(gen) {
			return false
		}
		e.PreviewPath = dest
		e.PreviewLoaded = true
		e.PreviewDownloading = false
		return true
	})
}

func cachedPreviewPath(dir, id, ext string) string {
	return filepath.Join(dir, id+ext)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
