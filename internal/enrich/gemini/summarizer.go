// Package gemini implements the optional lead summarizer on the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/leadgrid/places-pipeline/internal/serper"
	"github.com/leadgrid/places-pipeline/pkg/pipeline/core"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Summarizer produces a one-paragraph about_summary for an accepted lead.
type Summarizer struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Summarizer{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

type responseSchema struct {
	AboutSummary string `json:"about_summary"`
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"about_summary": {Type: genai.TypeString},
	},
	Required: []string{"about_summary"},
}

// Summarize asks the model for a short business summary based on the lead's
// public listing fields.
func (s *Summarizer) Summarize(ctx context.Context, rec serper.Record) (string, error) {
	prompt := buildPrompt(rec)
	if prompt == "" {
		return "", errors.New("record has no summarizable fields")
	}

	resp, err := s.client.Models.GenerateContent(
		ctx,
		s.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   outputSchema,
		},
	)
	if err != nil {
		return "", classifyErr(err)
	}

	var parsed responseSchema
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return "", fmt.Errorf("gemini: parse structured json: %w", err)
	}
	return strings.TrimSpace(parsed.AboutSummary), nil
}

func buildPrompt(rec serper.Record) string {
	fields := []string{"title", "category", "address", "website"}
	var lines []string
	for _, f := range fields {
		if v := strings.TrimSpace(rec[f]); v != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", f, v))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(`
You are a lead research assistant. Given a business listing, write one short
paragraph describing what the business does, suitable for a sales notes column.

Return ONLY a single JSON object with one key:
- about_summary (string)

Rules:
- Stick to what the listing implies; do not invent specifics.
- Keep it under 60 words.

Listing:
` + strings.Join(lines, "\n"))
}

func classifyErr(err error) error {
	// Wrap transient failures so callers with a retry budget can retry.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
			return &core.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &core.TransientError{Err: err}
	}
	return err
}
