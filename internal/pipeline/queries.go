package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/leadgrid/places-pipeline/internal/serper"
)

// LoadQueries reads the input table. The query, city and zip columns are
// required; their absence is a fatal load error raised before any network
// activity.
func LoadQueries(r io.Reader) ([]serper.QueryRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{"query": -1, "city": -1, "zip": -1}
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		if cur, ok := idx[name]; ok && cur < 0 {
			idx[name] = i
		}
	}
	for _, name := range []string{"query", "city", "zip"} {
		if idx[name] < 0 {
			return nil, fmt.Errorf("input file must contain 'query', 'city' and 'zip' columns (missing %q)", name)
		}
	}

	get := func(rec []string, name string) string {
		i := idx[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []serper.QueryRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, serper.QueryRow{
			Query: get(rec, "query"),
			City:  get(rec, "city"),
			Zip:   get(rec, "zip"),
		})
	}
}
