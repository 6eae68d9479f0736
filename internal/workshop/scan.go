package workshop

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InstalledMap is one map found in the workshop folder: a directory
// containing a map file and, when the installer wrote one, a JSON
// sidecar with catalog metadata.
type InstalledMap struct {
	Name    string
	Path    string
	MapFile string
	Meta    *Sidecar
}

// ScanInstalled walks the workshop folder for installed maps. Each
// immediate subdirectory holding a file with the final extension is one
// map; directories without one are skipped. The previews cache is not a
// map and is ignored.
func ScanInstalled(folder, finalExt string) ([]InstalledMap, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("reading workshop folder: %w", err)
	}

	var maps []InstalledMap
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "previews" {
			continue
		}

		dir := filepath.Join(folder, e.Name())
		mapFile := findByExt(dir, finalExt)
		if mapFile == "" {
			continue
		}

		im := InstalledMap{
			Name:    e.Name(),
			Path:    dir,
			MapFile: mapFile,
		}

		sidecarPath := filepath.Join(dir, e.Name()+".json")
		if sc, err := ReadSidecar(sidecarPath); err == nil {
			im.Meta = sc
			if sc.Title != "" {
				im.Name = sc.Title
			}
		}

		maps = append(maps, im)
	}
	return maps, nil
}

// DisplayName returns the best human-readable name for the map.
func (m InstalledMap) DisplayName() string {
	if m.Meta != nil && m.Meta.Title != "" {
		return m.Meta.Title
	}
	return strings.ReplaceAll(m.Name, "_", " ")
}
