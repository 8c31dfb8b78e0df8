package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/leadgrid/places-pipeline/internal/serper"
)

const mapsURLTemplate = "https://www.google.com/maps?cid=%s"

// fixedColumns is the stable prefix of the output schema. Every other
// observed field follows in lexicographic order.
var fixedColumns = []string{"query", "city", "zip", "search_term", "page", "is_valid", "maps_url"}

// CSVWriter streams accepted records to one output table. The schema is
// frozen from the first non-empty batch; fields first observed later are
// dropped (logged once per field name), and missing cells are written blank.
type CSVWriter struct {
	cw        *csv.Writer
	logf      func(format string, args ...any)
	header    []string
	headerSet map[string]struct{}
	dropped   map[string]struct{}
}

func NewCSVWriter(w io.Writer, logf func(format string, args ...any)) *CSVWriter {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &CSVWriter{
		cw:      csv.NewWriter(w),
		logf:    logf,
		dropped: make(map[string]struct{}),
	}
}

// Header returns the frozen schema, or nil before the first non-empty batch.
func (w *CSVWriter) Header() []string {
	return w.header
}

// WriteBatch appends one batch of records in acceptance order and flushes,
// so rows written before a later failure stay durable.
func (w *CSVWriter) WriteBatch(batch []serper.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if w.header == nil {
		w.freeze(batch)
		if err := w.cw.Write(w.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	row := make([]string, len(w.header))
	for _, rec := range batch {
		// Derive the maps URL from the raw cid, then rewrite the stored cid so
		// spreadsheet tools treat it as literal text instead of coercing it to
		// a lossy number.
		if cid := rec["cid"]; cid != "" {
			rec["maps_url"] = fmt.Sprintf(mapsURLTemplate, cid)
			rec["cid"] = "'" + cid
		}

		for key := range rec {
			if _, ok := w.headerSet[key]; ok {
				continue
			}
			if _, logged := w.dropped[key]; !logged {
				w.dropped[key] = struct{}{}
				w.logf("field %q first observed after schema freeze; dropping it", key)
			}
		}

		for i, col := range w.header {
			row[i] = rec[col]
		}
		if err := w.cw.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (w *CSVWriter) freeze(batch []serper.Record) {
	fixed := make(map[string]struct{}, len(fixedColumns))
	for _, col := range fixedColumns {
		fixed[col] = struct{}{}
	}

	extraSet := make(map[string]struct{})
	for _, rec := range batch {
		for key := range rec {
			if _, ok := fixed[key]; !ok {
				extraSet[key] = struct{}{}
			}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for key := range extraSet {
		extras = append(extras, key)
	}
	sort.Strings(extras)

	w.header = append(append([]string{}, fixedColumns...), extras...)
	w.headerSet = make(map[string]struct{}, len(w.header))
	for _, col := range w.header {
		w.headerSet[col] = struct{}{}
	}
}
