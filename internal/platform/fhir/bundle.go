// Package fhir holds the wire-level types for the clinical source API: the
// Bundle page container and accessors over the opaque patient documents it
// carries. The pipeline never assumes a rigid document schema; documents stay
// semi-structured maps end to end.
package fhir

import (
	"encoding/json"
	"time"
)

// Bundle represents a FHIR Bundle resource, the page container returned by
// the source API.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// NextURL returns the continuation link of the bundle. The second return is
// false when no "next" link is present, which is the sole signal that
// pagination is exhausted.
func (b *Bundle) NextURL() (string, bool) {
	for _, l := range b.Link {
		if l.Relation == "next" && l.URL != "" {
			return l.URL, true
		}
	}
	return "", false
}
