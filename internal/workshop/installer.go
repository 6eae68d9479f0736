// Package workshop installs workshop maps: it downloads a release
// archive, hands it to an external extraction utility, waits for the
// extracted file to appear, and renames it into place. It also scans
// the workshop folder for installed maps and manages the shared
// texture pack.
package workshop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mapforge/mapforge/config"
	"github.com/mapforge/mapforge/internal/catalog"
	"github.com/mapforge/mapforge/pkg/sanitize"
)

// ErrInstallBusy is returned when an install is already in progress.
// Overlapping installs into the same workspace are not supported.
var ErrInstallBusy = errors.New("an install is already in progress")

// Installer is the single-flight download-and-extract pipeline. State
// accessors are lock-free (single writer, any number of readers) so a
// UI can poll them every frame.
type Installer struct {
	client          *http.Client
	extractorPath   string
	rawExt          string
	finalExt        string
	pollInterval    time.Duration
	pollMaxAttempts int

	downloading atomic.Bool
	bytes       atomic.Int64
	total       atomic.Int64
	failed      atomic.Bool

	errMu  sync.Mutex
	errMsg string
}

// NewInstaller creates an installer from workshop configuration.
func NewInstaller(cfg config.WorkshopConfig) *Installer {
	return &Installer{
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
		extractorPath:   cfg.ExtractorPath,
		rawExt:          cfg.RawExtension,
		finalExt:        cfg.FinalExtension,
		pollInterval:    cfg.PollInterval,
		pollMaxAttempts: cfg.PollMaxAttempts,
	}
}

// Downloading reports whether an install is active.
func (in *Installer) Downloading() bool {
	return in.downloading.Load()
}

// Progress returns downloaded and total byte counts for the archive
// fetch. Total is zero until the response headers arrive.
func (in *Installer) Progress() (bytes, total int64) {
	return in.bytes.Load(), in.total.Load()
}

// Err returns the terminal failure state of the last install.
func (in *Installer) Err() (failed bool, msg string) {
	in.errMu.Lock()
	defer in.errMu.Unlock()
	return in.failed.Load(), in.errMsg
}

// Start runs Install on a detached worker, returning ErrInstallBusy
// immediately when another install is active. The poll loop sleeps the
// worker, never the caller.
func (in *Installer) Start(ctx context.Context, destFolder string, entry catalog.Entry, rel catalog.Release) error {
	if in.downloading.Load() {
		return ErrInstallBusy
	}
	go func() {
		if err := in.Install(ctx, destFolder, entry, rel); err != nil {
			log.Printf("workshop: install of %q failed: %v", entry.Name, err)
		}
	}()
	return nil
}

// Install downloads and extracts one release into
// <destFolder>/<SanitizedName>/. It blocks its caller and is intended
// to run on a worker goroutine. Every exit path, success or failure,
// clears the downloading flag exactly once.
func (in *Installer) Install(ctx context.Context, destFolder string, entry catalog.Entry, rel catalog.Release) error {
	if !in.downloading.CompareAndSwap(false, true) {
		return ErrInstallBusy
	}
	defer in.downloading.Store(false)

	in.bytes.Store(0)
	in.total.Store(0)
	in.failed.Store(false)
	in.setErr("")

	name := sanitize.Name(entry.Name)
	mapDir := filepath.Join(destFolder, name)
	if err := os.MkdirAll(mapDir, 0755); err != nil {
		return in.fail("creating map folder: %v", err)
	}

	// Sidecar metadata and preview copy are best effort; the map is
	// still usable without them.
	if err := WriteSidecar(mapDir, name, entry); err != nil {
		log.Printf("workshop: %v", err)
	}
	in.copyPreview(mapDir, name, entry)

	archiveName := rel.ArchiveName
	if archiveName == "" {
		archiveName = name + ".zip"
	}
	archivePath := filepath.Join(mapDir, sanitize.FileName(archiveName))

	if err := in.fetchArchive(ctx, rel.ArchiveURL, archivePath); err != nil {
		return in.fail("%v", err)
	}

	if err := in.extract(ctx, archivePath, mapDir); err != nil {
		return in.fail("extraction failed: %v", err)
	}

	rawFile, err := in.pollForExtracted(ctx, mapDir)
	if err != nil {
		return in.fail("%v", err)
	}

	finalFile := strings.TrimSuffix(rawFile, in.rawExt) + in.finalExt
	if err := os.Rename(rawFile, finalFile); err != nil {
		return in.fail("renaming extracted map: %v", err)
	}

	if err := os.Remove(archivePath); err != nil {
		log.Printf("workshop: removing archive %s: %v", archivePath, err)
	}

	log.Printf("workshop: installed %q -> %s", entry.Name, finalFile)
	return nil
}

// fetchArchive downloads the release archive to disk, updating the
// progress counters as bytes arrive.
func (in *Installer) fetchArchive(ctx context.Context, url, dest string) error {
	if url == "" {
		return fmt.Errorf("release has no archive link")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return fmt.Errorf("archive download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("archive download failed: status %d", resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		in.total.Store(resp.ContentLength)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(io.MultiWriter(f, &progressWriter{count: &in.bytes}), resp.Body); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	return f.Sync()
}

// extract invokes the external extraction utility with the archive and
// destination paths. The utility's output is not parsed; only its exit
// status matters.
func (in *Installer) extract(ctx context.Context, archivePath, destDir string) error {
	cmd := exec.CommandContext(ctx, in.extractorPath, archivePath, destDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// pollForExtracted waits for a file with the raw extension to appear in
// dir, checking once per poll interval up to the configured bound.
func (in *Installer) pollForExtracted(ctx context.Context, dir string) (string, error) {
	for attempt := 0; attempt < in.pollMaxAttempts; attempt++ {
		if found := findByExt(dir, in.rawExt); found != "" {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(in.pollInterval):
		}
	}
	return "", fmt.Errorf("extraction timeout: no %s file appeared after %d checks", in.rawExt, in.pollMaxAttempts)
}

// copyPreview copies the cached preview image next to the map.
func (in *Installer) copyPreview(mapDir, name string, entry catalog.Entry) {
	if entry.PreviewPath == "" {
		return
	}
	data, err := os.ReadFile(entry.PreviewPath)
	if err != nil {
		return
	}
	ext := entry.PreviewExt
	if ext == "" {
		ext = filepath.Ext(entry.PreviewPath)
	}
	dest := filepath.Join(mapDir, name+ext)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		log.Printf("workshop: copying preview to %s: %v", dest, err)
	}
}

// fail records the terminal error state and returns it as an error.
func (in *Installer) fail(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	in.setErr(err.Error())
	in.failed.Store(true)
	return err
}

func (in *Installer) setErr(msg string) {
	in.errMu.Lock()
	in.errMsg = msg
	in.errMu.Unlock()
}

// findByExt returns the first regular file in dir with the given
// extension, or "".
func findByExt(dir, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name())
		}
	}
	return ""
}

// progressWriter counts bytes into an atomic, lock-free for readers.
type progressWriter struct {
	count *atomic.Int64
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.count.Add(int64(len(p)))
	return len(p), nil
}
