package source

import (
	"encoding/json"

	"github.com/clinsync/clinsync/internal/platform/fhir"
)

// Extract pulls the patient documents and continuation cursor out of a
// fetched page. A page with no entries is valid and yields an empty slice.
// An empty cursor means the source has no further pages.
func Extract(bundle *fhir.Bundle) ([]fhir.Document, string) {
	if bundle == nil {
		return nil, ""
	}

	docs := make([]fhir.Document, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		if len(entry.Resource) == 0 {
			continue
		}
		var doc fhir.Document
		if err := json.Unmarshal(entry.Resource, &doc); err != nil {
			continue
		}
		// Sources occasionally interleave OperationOutcome entries.
		if rt := doc.ResourceType(); rt != "" && rt != "Patient" {
			continue
		}
		docs = append(docs, doc)
	}

	next, _ := bundle.NextURL()
	return docs, next
}
