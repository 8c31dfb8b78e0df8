// Package serper talks to the places search API: a retrying client plus the
// per-row pagination loop that turns one query row into normalized records.
package serper

// QueryRow is one unit of work: a search phrase plus a target city and postal code.
type QueryRow struct {
	Query string
	City  string
	Zip   string
}

// Record is one place returned by the API, flattened to text fields and
// stamped with the originating query row. Field names beyond the stamps are
// whatever the API returned for that place.
type Record map[string]string
