package workshop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mapforge/mapforge/internal/catalog"
)

// Sidecar is the metadata file written next to an installed map so the
// inventory scan can surface it later without the catalog.
type Sidecar struct {
	Title       string `json:"Title"`
	Author      string `json:"Author"`
	Description string `json:"Description"`
	PreviewUrl  string `json:"PreviewUrl"`
}

// WriteSidecar writes <name>.json describing the entry into dir.
func WriteSidecar(dir, name string, entry catalog.Entry) error {
	sc := Sidecar{
		Title:       entry.Name,
		Author:      entry.Author,
		Description: entry.Description,
		PreviewUrl:  entry.PreviewURL,
	}

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing sidecar %s: %w", path, err)
	}
	return nil
}

// ReadSidecar loads a sidecar metadata file.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing sidecar %s: %w", path, err)
	}
	return &sc, nil
}
