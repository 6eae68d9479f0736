package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mapforge/mapforge/config"
	"github.com/mapforge/mapforge/internal/catalog"
	"github.com/mapforge/mapforge/internal/history"
	"github.com/mapforge/mapforge/internal/search"
	"github.com/mapforge/mapforge/internal/storage"
	"github.com/mapforge/mapforge/internal/workshop"
)

var (
	version   = "0.3.0"
	buildTime = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	workshopDir := flag.String("workshop", "", "Workshop folder (overrides config)")

	searchQuery := flag.String("search", "", "Search the catalog for maps")
	page := flag.Int("page", 1, "Catalog result page")
	install := flag.Int("install", -1, "Install the Nth search result (0-based)")
	releaseTag := flag.String("tag", "", "Release tag to install (default: newest with an archive)")

	listInstalled := flag.Bool("installed", false, "List installed maps")
	showHistory := flag.Bool("history", false, "Show recent install history")
	installTextures := flag.Bool("textures", false, "Install the shared texture pack if files are missing")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mapforge %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	var cfg *config.Config
	var err error

	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.DefaultConfig()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid default config: %v", err)
		}
	}

	if *workshopDir != "" {
		cfg.Workshop.Folder = *workshopDir
	}

	switch {
	case *listInstalled:
		runListInstalled(cfg)
	case *showHistory:
		runHistory(cfg)
	case *installTextures:
		runTextures(cfg)
	case *searchQuery != "":
		runSearch(cfg, *searchQuery, *page, *install, *releaseTag)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runSearch(cfg *config.Config, query string, page, install int, releaseTag string) {
	client := catalog.New(cfg.Catalog.BaseURL, cfg.Catalog.Timeout)
	coord := search.NewCoordinator(client, search.NewStore(), cfg.Workshop.PreviewCache, cfg.Catalog.PageSize)
	defer coord.Close()

	if !coord.StartSearch(query, page) {
		log.Fatalf("Search did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := coord.WaitIdle(ctx); err != nil {
		log.Fatalf("Search timed out: %v", err)
	}

	if msg := coord.LastError(); msg != "" {
		log.Fatalf("Search failed: %s", msg)
	}

	entries := coord.Store().Snapshot()
	if len(entries) == 0 {
		fmt.Printf("No maps found for %q\n", query)
		return
	}

	for i, e := range entries {
		fmt.Printf("%3d. %s — %s (%d releases)\n", i, e.Name, e.Author, len(e.Releases))
	}

	if install < 0 {
		return
	}
	if install >= len(entries) {
		log.Fatalf("No such result: %d", install)
	}

	entry := entries[install]
	rel, ok := pickRelease(entry, releaseTag)
	if !ok {
		log.Fatalf("Map %q has no downloadable release", entry.Name)
	}

	runInstall(cfg, entry, rel)
}

func pickRelease(entry catalog.Entry, tag string) (catalog.Release, bool) {
	for _, r := range entry.Releases {
		if tag != "" && r.Tag != tag {
			continue
		}
		if r.ArchiveURL != "" {
			return r, true
		}
	}
	return catalog.Release{}, false
}

func runInstall(cfg *config.Config, entry catalog.Entry, rel catalog.Release) {
	kv, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer kv.Close()
	hist := history.NewStore(kv)

	installer := workshop.NewInstaller(cfg.Workshop)

	log.Printf("Installing %q (%s)", entry.Name, rel.Tag)
	start := time.Now()

	done := make(chan error, 1)
	go func() {
		done <- installer.Install(context.Background(), cfg.Workshop.Folder, entry, rel)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			bytes, _ := installer.Progress()
			rec := history.InstallRecord{
				MapID:      entry.ID,
				MapName:    entry.Name,
				ReleaseTag: rel.Tag,
				Bytes:      bytes,
				Duration:   time.Since(start),
				Success:    err == nil,
			}
			if err != nil {
				rec.Error = err.Error()
			}
			hist.RecordInstall(rec)

			if err != nil {
				log.Fatalf("Install failed: %v", err)
			}
			fmt.Printf("Installed %q into %s\n", entry.Name, cfg.Workshop.Folder)
			return
		case <-ticker.C:
			bytes, total := installer.Progress()
			if total > 0 {
				fmt.Printf("  %d / %d bytes (%.0f%%)\n", bytes, total, float64(bytes)/float64(total)*100)
			}
		}
	}
}

func runListInstalled(cfg *config.Config) {
	maps, err := workshop.ScanInstalled(cfg.Workshop.Folder, cfg.Workshop.FinalExtension)
	if err != nil {
		log.Fatalf("Failed to scan workshop folder: %v", err)
	}
	if len(maps) == 0 {
		fmt.Println("No maps installed")
		return
	}
	for _, m := range maps {
		author := ""
		if m.Meta != nil && m.Meta.Author != "" {
			author = " — " + m.Meta.Author
		}
		fmt.Printf("%s%s\n    %s\n", m.DisplayName(), author, m.MapFile)
	}
}

func runHistory(cfg *config.Config) {
	kv, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer kv.Close()
	hist := history.NewStore(kv)

	records, err := hist.ListRecent(20)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		fmt.Printf("%s  %-30s %-12s %s\n", r.Time.Format("2006-01-02 15:04"), r.MapName, r.ReleaseTag, status)
	}

	stats := hist.Stats()
	fmt.Printf("\n%d installs, %d failures, %d bytes total\n", stats.TotalInstalls, stats.Failures, stats.TotalBytes)
}

func runTextures(cfg *config.Config) {
	tp := workshop.NewTexturePack(cfg.Textures.ArchiveURL, cfg.Textures.GameDir, cfg.Workshop.ExtractorPath)

	missing := tp.Missing()
	if len(missing) == 0 {
		fmt.Println("All texture files present")
		return
	}
	log.Printf("%d texture files missing, installing pack", len(missing))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := tp.Install(ctx); err != nil {
		log.Fatalf("Texture install failed: %v", err)
	}
}
