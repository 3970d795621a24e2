// Package lead defines the extracted lead record and the identity
// derivation used to deduplicate rows scraped from portal tables.
//
// A row has no identity of its own: Resolver assigns one from a
// prioritized list of identifying fields, falling back to a content
// hash when none is present.
package lead

import "time"

// Lead is one extracted table row enriched with identity and provenance.
// Immutable after creation. Key is stable across runs for rows whose
// identifying fields or full content are unchanged.
type Lead struct {
	Source    string            `json:"source"`
	Key       string            `json:"key"`
	FetchedAt time.Time         `json:"fetched_at"`
	URL       string            `json:"url"`
	RowIndex  int               `json:"row_index"`
	Row       map[string]string `json:"row"`
}
