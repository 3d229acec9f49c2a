// Package config provides configuration for the competence tree viewer.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/governor"
)

// Config holds viewer configuration.
type Config struct {
	// ServerURL is the backend API base URL.
	ServerURL string `yaml:"server_url"`
	// DataDir holds the persistent cache database. Empty means memory only.
	DataDir string `yaml:"data_dir"`
	// CredentialsPath is the stored credentials file.
	CredentialsPath string `yaml:"credentials_path"`

	// CacheMaxEntries is the in-memory cache capacity.
	CacheMaxEntries int `yaml:"cache_max_entries"`
	// CacheTTL is how long cached snapshots stay valid.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// LayoutTimeout bounds a single background layout request.
	LayoutTimeout time.Duration `yaml:"layout_timeout"`
	// LayoutWorkers is the number of background layout workers.
	LayoutWorkers int `yaml:"layout_workers"`
	// GridSize is the spatial index bucket size in content pixels.
	GridSize float64 `yaml:"grid_size"`

	ViewportWidth  float64 `yaml:"viewport_width"`
	ViewportHeight float64 `yaml:"viewport_height"`
	MinZoom        float64 `yaml:"min_zoom"`
	MaxZoom        float64 `yaml:"max_zoom"`
	// Throttle is the pointer and wheel event interval.
	Throttle time.Duration `yaml:"throttle"`

	GovernorInterval time.Duration `yaml:"governor_interval"`
	GovernorWindow   int           `yaml:"governor_window"`
	NodeCaps         governor.Caps `yaml:"node_caps"`

	// Version is the build version string.
	Version string `yaml:"-"`
	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	caps := governor.DefaultCaps()
	cfg := &Config{
		ServerURL:        getEnv("COMPETREE_SERVER", "http://localhost:8000"),
		DataDir:          getEnv("COMPETREE_DATA", defaultDataDir()),
		CredentialsPath:  getEnv("COMPETREE_CREDENTIALS", ""),
		CacheMaxEntries:  getEnvInt("COMPETREE_CACHE_MAX", 64),
		CacheTTL:         getEnvDuration("COMPETREE_CACHE_TTL", 24*time.Hour),
		LayoutTimeout:    getEnvDuration("COMPETREE_LAYOUT_TIMEOUT", 10*time.Second),
		LayoutWorkers:    getEnvInt("COMPETREE_LAYOUT_WORKERS", 1),
		GridSize:         getEnvFloat("COMPETREE_GRID_SIZE", 200),
		ViewportWidth:    getEnvFloat("COMPETREE_WIDTH", 1200),
		ViewportHeight:   getEnvFloat("COMPETREE_HEIGHT", 800),
		MinZoom:          getEnvFloat("COMPETREE_MIN_ZOOM", 0.2),
		MaxZoom:          getEnvFloat("COMPETREE_MAX_ZOOM", 3),
		Throttle:         getEnvDuration("COMPETREE_THROTTLE", 16*time.Millisecond),
		GovernorInterval: getEnvDuration("COMPETREE_GOVERNOR_INTERVAL", time.Second),
		GovernorWindow:   getEnvInt("COMPETREE_GOVERNOR_WINDOW", 60),
		NodeCaps: governor.Caps{
			Minimal:    getEnvInt("COMPETREE_CAP_MINIMAL", caps.Minimal),
			Simplified: getEnvInt("COMPETREE_CAP_SIMPLIFIED", caps.Simplified),
			GPU:        getEnvInt("COMPETREE_CAP_GPU", caps.GPU),
		},
		Version: getEnv("COMPETREE_VERSION", "0.1.0"),
		Debug:   getEnvBool("COMPETREE_DEBUG", false),
	}
	return cfg
}

// Load reads a YAML file over the environment defaults. Keys absent from
// the file keep their environment or default value. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, errors.New("cache_max_entries must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache_ttl must be positive"))
	}
	if c.LayoutTimeout <= 0 {
		errs = append(errs, errors.New("layout_timeout must be positive"))
	}
	if c.LayoutWorkers <= 0 {
		errs = append(errs, errors.New("layout_workers must be positive"))
	}
	if c.GridSize <= 0 {
		errs = append(errs, errors.New("grid_size must be positive"))
	}
	if c.MinZoom <= 0 || c.MaxZoom < c.MinZoom {
		errs = append(errs, fmt.Errorf("zoom range [%g, %g] is invalid", c.MinZoom, c.MaxZoom))
	}
	if c.GovernorWindow <= 0 {
		errs = append(errs, errors.New("governor_window must be positive"))
	}
	return errors.Join(errs...)
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "competree")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
