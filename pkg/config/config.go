package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/nimdanitro/fenceline-dashboard/pkg/dashboard"
	"gopkg.in/yaml.v3"
)

// BackendConfig describes the data service.
type BackendConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ReadingsPath string        `yaml:"readings_path"`
	AveragesPath string        `yaml:"averages_path"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	RateEvery    time.Duration `yaml:"rate_every"`
	RateBurst    int           `yaml:"rate_burst"`
}

// DashboardConfig holds the initial selection and cycle tuning.
type DashboardConfig struct {
	Pathways        []dashboard.Pathway `yaml:"pathways"`
	DefaultPathway  string              `yaml:"default_pathway"`
	DefaultAverage  string              `yaml:"default_average"`
	MaxLookback     int                 `yaml:"max_lookback"`
	RefreshInterval time.Duration       `yaml:"refresh_interval"`
	Language        string              `yaml:"language"`
}

// DatabaseConfig selects where snapshot history is kept. An empty driver disables it.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ArchiveConfig enables copying snapshots to S3 when Bucket is set.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Listen    string          `yaml:"listen"`
	Backend   BackendConfig   `yaml:"backend"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Database  DatabaseConfig  `yaml:"database"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Backend: BackendConfig{
			ReadingsPath: "/data",
			AveragesPath: "/averages",
			Timeout:      30 * time.Second,
			RateEvery:    time.Second,
			RateBurst:    4,
		},
		Dashboard: DashboardConfig{
			Pathways:        append([]dashboard.Pathway(nil), dashboard.DefaultPathways...),
			DefaultPathway:  dashboard.DefaultPathways[0].Value,
			DefaultAverage:  dashboard.SpectrumKey,
			MaxLookback:     14,
			RefreshInterval: 5 * time.Minute,
			Language:        "en",
		},
		Archive: ArchiveConfig{Prefix: "snapshots"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend base_url is required"))
	}
	if c.Backend.RateBurst < 1 {
		errs = append(errs, errors.New("backend rate_burst must be positive"))
	}
	if len(c.Dashboard.Pathways) == 0 {
		errs = append(errs, errors.New("at least one pathway is required"))
	}
	if c.Dashboard.MaxLookback < 0 {
		errs = append(errs, errors.New("dashboard max_lookback must not be negative"))
	}
	if c.Dashboard.RefreshInterval < 0 {
		errs = append(errs, errors.New("dashboard refresh_interval must not be negative"))
	}
	switch c.Database.Driver {
	case "":
	case "sqlite", "postgres", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("%s dsn is required", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s", c.Database.Driver))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ApplyPathways replaces the pathways with a flag-style value=label map. An empty
// map keeps the configured ones.
func (c *Config) ApplyPathways(m map[string]string) {
	if len(m) == 0 {
		return
	}
	ps := make([]dashboard.Pathway, 0, len(m))
	for v, l := range m {
		ps = append(ps, dashboard.Pathway{Value: v, Label: l})
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Value < ps[j].Value })
	c.Dashboard.Pathways = ps
	if _, ok := lookup(ps, c.Dashboard.DefaultPathway); !ok {
		c.Dashboard.DefaultPathway = ps[0].Value
	}
}

func lookup(ps []dashboard.Pathway, v string) (dashboard.Pathway, bool) {
	for _, p := range ps {
		if p.Value == v {
			return p, true
		}
	}
	return dashboard.Pathway{}, false
}
