package session

import (
	"fmt"
	"os"
	"regexp"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/trial"
)

// Config controls a fuzzing session.
type Config struct {
	// Target
	Device string `yaml:"device"`

	// Scheduling
	Workers            int    `yaml:"workers"`               // concurrent batches (default: NumCPU)
	MaxFuzzersPerBatch int    `yaml:"max_fuzzers_per_batch"` // 0 means no limit
	Seed               uint64 `yaml:"seed"`                  // planner seed; equal seeds give equal plans

	// Storage
	CacheDir       string `yaml:"cache_dir"`       // bitstream cache; empty disables it
	KeepBitstreams string `yaml:"keep_bitstreams"` // if set, every realized bitstream is saved here

	// Feature filtering, matched against "TILE:BLOCK:ATTR:VALUE"
	OnlyFeatures string `yaml:"only_features"`
	SkipFeatures string `yaml:"skip_features"`

	// Toolchain command for CommandToolchain, with {design}, {out} and
	// {device} placeholders.
	Toolchain []string `yaml:"toolchain"`

	Logger     *zap.Logger           `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`

	onlyRegex *regexp.Regexp
	skipRegex *regexp.Regexp
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers: runtime.NumCPU(),
		Seed:    1,
	}
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("session: parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and compiles the feature filters.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MaxFuzzersPerBatch < 0 {
		c.MaxFuzzersPerBatch = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	c.onlyRegex, c.skipRegex = nil, nil
	if c.OnlyFeatures != "" {
		re, err := regexp.Compile(c.OnlyFeatures)
		if err != nil {
			return fmt.Errorf("only_features: %w", err)
		}
		c.onlyRegex = re
	}
	if c.SkipFeatures != "" {
		re, err := regexp.Compile(c.SkipFeatures)
		if err != nil {
			return fmt.Errorf("skip_features: %w", err)
		}
		c.skipRegex = re
	}
	return nil
}

// ShouldRun reports whether a feature passes the filters.
func (c *Config) ShouldRun(f trial.Feature) bool {
	name := f.String()
	if c.onlyRegex != nil && !c.onlyRegex.MatchString(name) {
		return false
	}
	if c.skipRegex != nil && c.skipRegex.MatchString(name) {
		return false
	}
	return true
}
