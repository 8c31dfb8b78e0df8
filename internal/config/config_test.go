package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leadgrid/places-pipeline/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 200 || cfg.MinReviews != 10 || cfg.MaxPages != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RequestTimeout.Std() != 10*time.Second {
		t.Fatalf("unexpected default timeout: %s", cfg.RequestTimeout.Std())
	}
	if cfg.BackoffInitial.Std() != 500*time.Millisecond {
		t.Fatalf("unexpected default backoff: %s", cfg.BackoffInitial.Std())
	}
}

func TestLoad_OverridesAndDurations(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, strings.TrimSpace(`
workers: 8
request_timeout: 2s
keep_unidentified: true
`))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 8 {
		t.Fatalf("workers = %d, want 8", cfg.Workers)
	}
	if cfg.RequestTimeout.Std() != 2*time.Second {
		t.Fatalf("timeout = %s, want 2s", cfg.RequestTimeout.Std())
	}
	if !cfg.KeepUnidentified {
		t.Fatalf("keep_unidentified should be set")
	}
	// Untouched keys keep their defaults.
	if cfg.MinReviews != 10 {
		t.Fatalf("min_reviews = %d, want default 10", cfg.MinReviews)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, content := range []string{
		"workers: -1",
		"endpoint: ''",
		"request_timeout: nonsense",
		"max_pages: 0",
	} {
		path := writeTemp(t, content)
		if _, err := config.Load(path); err == nil {
			t.Errorf("Load(%q) should fail", content)
		}
	}
}
