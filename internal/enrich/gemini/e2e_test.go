//go:build gemini_e2e

package gemini_test

import (
	"context"
	"os"
	"testing"

	"github.com/leadgrid/places-pipeline/internal/enrich/gemini"
	"github.com/leadgrid/places-pipeline/internal/serper"
)

func TestSummarize_RealGemini(t *testing.T) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		t.Fatalf("GEMINI_API_KEY is required for gemini_e2e tests")
	}
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		t.Fatalf("GEMINI_MODEL is required for gemini_e2e tests")
	}

	ctx := context.Background()
	s, err := gemini.New(ctx, gemini.Config{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	})
	if err != nil {
		t.Fatalf("create summarizer: %v", err)
	}

	// Synthetic listing only (public repo).
	summary, err := s.Summarize(ctx, serper.Record{
		"title":    "Example Plumbing Co",
		"category": "Plumber",
		"address":  "100 Main St, Springfield",
		"website":  "https://plumbing.example",
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary == "" {
		t.Fatal("expected a non-empty summary")
	}
	t.Logf("summary: %s", summary)
}
