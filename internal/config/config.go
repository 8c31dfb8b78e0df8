// Package config holds the run configuration for the places pipeline.
//
// Values resolve in order: flags > environment > config file > defaults.
// This package covers the file and defaults layers; cmd wires the rest.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can use "10s" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Endpoint is the places search API URL.
	Endpoint string `yaml:"endpoint"`

	// Workers caps concurrently in-flight query rows.
	Workers int `yaml:"workers"`

	// MaxPages bounds pagination per query row. The API signals the real end
	// by returning an empty page; this is a guard against servers that never do.
	MaxPages int `yaml:"max_pages"`

	// MinReviews is the rating-count threshold for tagging a lead valid.
	MinReviews int `yaml:"min_reviews"`

	// RequestTimeout bounds one API request.
	RequestTimeout Duration `yaml:"request_timeout"`

	// MaxRetries is the number of extra attempts on transient API failures.
	MaxRetries int `yaml:"max_retries"`

	// BackoffInitial seeds the exponential retry backoff.
	BackoffInitial Duration `yaml:"backoff_initial"`

	// RateLimitRPS is a global outbound request limit. 0 disables.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	// KeepUnidentified retains records without a cid (un-deduplicated)
	// instead of dropping them.
	KeepUnidentified bool `yaml:"keep_unidentified"`
}

func Default() Config {
	return Config{
		Endpoint:       "https://google.serper.dev/places",
		Workers:        200,
		MaxPages:       100,
		MinReviews:     10,
		RequestTimeout: Duration(10 * time.Second),
		MaxRetries:     3,
		BackoffInitial: Duration(500 * time.Millisecond),
	}
}

// Load reads a YAML config file over the defaults. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive (got %d)", c.MaxPages)
	}
	if c.MinReviews < 0 {
		return fmt.Errorf("min_reviews must not be negative (got %d)", c.MinReviews)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative (got %d)", c.MaxRetries)
	}
	return nil
}
