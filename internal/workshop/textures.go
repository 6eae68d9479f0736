package workshop

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// RequiredTextureFiles are the shared asset packages workshop maps
// reference. Maps render without lighting or materials when any of
// these are missing from the game directory.
var RequiredTextureFiles = []string{
	"EditorLandscapeResources.upk",
	"EditorMaterials.upk",
	"EditorMeshes.upk",
	"EditorResources.upk",
	"Engine_MI_Shaders.upk",
	"EngineBuildings.upk",
	"EngineDebugMaterials.upk",
	"EngineMaterials.upk",
	"EngineResources.upk",
	"EngineVolumetrics.upk",
	"MapTemplateIndex.upk",
	"MapTemplates.upk",
	"mods.upk",
	"NodeBuddies.upk",
}

// TexturePack checks for and installs the shared workshop texture
// archive into the game directory.
type TexturePack struct {
	ArchiveURL    string
	GameDir       string
	ExtractorPath string

	client *http.Client
}

// NewTexturePack creates a texture pack installer.
func NewTexturePack(archiveURL, gameDir, extractorPath string) *TexturePack {
	return &TexturePack{
		ArchiveURL:    archiveURL,
		GameDir:       gameDir,
		ExtractorPath: extractorPath,
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// Missing returns the required texture files not present in the game
// directory.
func (tp *TexturePack) Missing() []string {
	var missing []string
	for _, name := range RequiredTextureFiles {
		if _, err := os.Stat(filepath.Join(tp.GameDir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// Install downloads the texture archive and extracts it into the game
// directory. Unlike map installs, the archive's contents land directly
// in place, so there is no poll-and-rename step.
func (tp *TexturePack) Install(ctx context.Context) error {
	if tp.ArchiveURL == "" {
		return fmt.Errorf("no texture archive URL configured")
	}
	if err := os.MkdirAll(tp.GameDir, 0755); err != nil {
		return fmt.Errorf("creating game directory: %w", err)
	}

	archivePath := filepath.Join(tp.GameDir, "workshop-textures.zip")
	if err := tp.download(ctx, archivePath); err != nil {
		return err
	}
	defer os.Remove(archivePath)

	cmd := exec.CommandContext(ctx, tp.ExtractorPath, archivePath, tp.GameDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("texture extraction failed: %v: %s", err, output)
	}

	log.Printf("workshop: texture pack installed to %s", tp.GameDir)
	return nil
}

func (tp *TexturePack) download(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tp.ArchiveURL, nil)
	if err != nil {
		return err
	}

	resp, err := tp.client.Do(req)
	if err != nil {
		return fmt.Errorf("texture download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("texture download failed: status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating texture archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing texture archive: %w", err)
	}
	return f.Sync()
}
