package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mapforge configuration
type Config struct {
	Catalog  CatalogConfig  `yaml:"catalog"`
	Workshop WorkshopConfig `yaml:"workshop"`
	Storage  StorageConfig  `yaml:"storage"`
	Textures TexturesConfig `yaml:"textures"`
}

// CatalogConfig holds remote catalog API settings
type CatalogConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

// WorkshopConfig holds map installation settings
type WorkshopConfig struct {
	Folder          string        `yaml:"folder"`
	PreviewCache    string        `yaml:"preview_cache"`
	ExtractorPath   string        `yaml:"extractor_path"`
	RawExtension    string        `yaml:"raw_extension"`
	FinalExtension  string        `yaml:"final_extension"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`
}

// StorageConfig holds local state storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// TexturesConfig holds workshop texture pack settings
type TexturesConfig struct {
	ArchiveURL string `yaml:"archive_url"`
	GameDir    string `yaml:"game_dir"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			BaseURL:  "https://celab.jetfox.ovh/api/v4",
			Timeout:  30 * time.Second,
			PageSize: 20,
		},
		Workshop: WorkshopConfig{
			Folder:          "/var/lib/mapforge/workshop",
			ExtractorPath:   "7za",
			RawExtension:    ".udk",
			FinalExtension:  ".upk",
			PollInterval:    time.Second,
			PollMaxAttempts: 30,
		},
		Storage: StorageConfig{
			Path: "/var/lib/mapforge",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url is required")
	}

	if c.Workshop.Folder == "" {
		return fmt.Errorf("workshop.folder is required")
	}

	if c.Catalog.Timeout <= 0 {
		c.Catalog.Timeout = 30 * time.Second
	}
	if c.Catalog.PageSize <= 0 {
		c.Catalog.PageSize = 20
	}

	if c.Workshop.RawExtension == "" {
		c.Workshop.RawExtension = ".udk"
	}
	if c.Workshop.FinalExtension == "" {
		c.Workshop.FinalExtension = ".upk"
	}
	if c.Workshop.PollInterval <= 0 {
		c.Workshop.PollInterval = time.Second
	}
	if c.Workshop.PollMaxAttempts <= 0 {
		c.Workshop.PollMaxAttempts = 30
	}

	// Set path defaults derived from the workshop folder
	if c.Workshop.PreviewCache == "" {
		c.Workshop.PreviewCache = filepath.Join(c.Workshop.Folder, "previews")
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Dir(c.Workshop.Folder)
	}

	return nil
}
