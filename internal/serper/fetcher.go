package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/leadgrid/places-pipeline/internal/normalize"
)

// Fetcher walks every result page for a query row. A request failure stops
// pagination for that row only; pages already collected are still returned.
type Fetcher struct {
	Client *Client

	// MaxPages guards against an API that never returns an empty page.
	MaxPages int

	// Logf receives per-page progress and failure lines. Optional.
	Logf func(format string, args ...any)
}

// SearchTerm builds the outbound search phrase for a row.
func SearchTerm(row QueryRow) string {
	term := fmt.Sprintf("%s in %s %s",
		normalize.Text(row.Query),
		normalize.Text(row.City),
		strings.TrimSpace(row.Zip),
	)
	return strings.TrimSpace(term)
}

// FetchRow collects all pages of places for one row, stamping and normalizing
// every record. On a page failure it returns the records collected so far
// together with the error; callers treat the error as diagnostic only.
func (f *Fetcher) FetchRow(ctx context.Context, row QueryRow) ([]Record, error) {
	term := SearchTerm(row)
	location := strings.TrimSpace(row.Zip)
	maxPages := f.MaxPages
	if maxPages <= 0 {
		maxPages = 100
	}

	var collected []Record
	for page := 1; ; page++ {
		if page > maxPages {
			f.logf("search %q: stopping at page ceiling %d", term, maxPages)
			return collected, nil
		}

		f.logf("fetching %q, page %d", term, page)
		places, err := f.Client.Search(ctx, term, location, page)
		if err != nil {
			f.logf("search %q page %d failed: %v", term, page, err)
			return collected, fmt.Errorf("search %q page %d: %w", term, page, err)
		}
		if len(places) == 0 {
			return collected, nil
		}

		for _, place := range places {
			rec := Record{
				"query":       normalize.Text(row.Query),
				"city":        normalize.Text(row.City),
				"zip":         strings.TrimSpace(row.Zip),
				"search_term": term,
				"page":        strconv.Itoa(page),
			}
			for key, value := range place {
				rec[key] = normalize.Text(fieldText(value))
			}
			collected = append(collected, rec)
		}
		f.logf("page %d returned %d places", page, len(places))
	}
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.Logf != nil {
		f.Logf(format, args...)
	}
}

// fieldText renders an API field value as text. json.Number keeps its exact
// source form, so large identifiers round-trip without precision loss.
func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
