package pipeline

import (
	"strconv"
	"strings"

	"github.com/leadgrid/places-pipeline/internal/serper"
)

// RatingCount parses a review count, tolerating thousands separators.
// Anything unparseable counts as zero reviews.
func RatingCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// TagValidity stamps is_valid onto the record. Validity is advisory metadata:
// invalid leads are kept in the output, not filtered.
func TagValidity(rec serper.Record, minReviews int) {
	valid := strings.TrimSpace(rec["website"]) != "" && RatingCount(rec["ratingCount"]) >= minReviews
	if valid {
		rec["is_valid"] = "TRUE"
	} else {
		rec["is_valid"] = "FALSE"
	}
}
