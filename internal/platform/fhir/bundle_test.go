package fhir

import (
	"encoding/json"
	"testing"
)

func TestBundle_NextURL(t *testing.T) {
	b := &Bundle{
		Link: []BundleLink{
			{Relation: "self", URL: "https://source.example.com/Patient?_count=50"},
			{Relation: "next", URL: "https://source.example.com/Patient?_count=50&_offset=50"},
		},
	}

	next, ok := b.NextURL()
	if !ok {
		t.Fatal("expected a next link")
	}
	if next != "https://source.example.com/Patient?_count=50&_offset=50" {
		t.Errorf("unexpected next URL: %s", next)
	}
}

func TestBundle_NextURL_Absent(t *testing.T) {
	b := &Bundle{
		Link: []BundleLink{
			{Relation: "self", URL: "https://source.example.com/Patient"},
		},
	}
	if _, ok := b.NextURL(); ok {
		t.Error("expected no next link")
	}

	empty := &Bundle{}
	if _, ok := empty.NextURL(); ok {
		t.Error("expected no next link on empty bundle")
	}
}

func TestBundle_Unmarshal(t *testing.T) {
	raw := `{
		"resourceType": "Bundle",
		"type": "searchset",
		"total": 2,
		"link": [{"relation": "next", "url": "https://src/page2"}],
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "p1"}},
			{"resource": {"resourceType": "Patient", "id": "p2"}}
		]
	}`

	var b Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.ResourceType != "Bundle" {
		t.Errorf("expected Bundle, got %s", b.ResourceType)
	}
	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entry))
	}
	if next, ok := b.NextURL(); !ok || next != "https://src/page2" {
		t.Errorf("unexpected next link: %s", next)
	}
}

func TestDocument_Accessors(t *testing.T) {
	doc := Document{
		"resourceType": "Patient",
		"id":           "pat-1",
		"name": []interface{}{
			map[string]interface{}{
				"given":  []interface{}{"Jane", "Q"},
				"family": "Doe",
			},
		},
		"gender":    "female",
		"birthDate": "1984-07-12",
		"address": []interface{}{
			map[string]interface{}{"city": "Pune", "postalCode": "411001"},
		},
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "+91-555-0101"},
			map[string]interface{}{"system": "email", "value": "jane@example.com"},
		},
		"identifier": []interface{}{
			map[string]interface{}{"system": "urn:mrn", "value": "MRN-77"},
		},
	}

	if doc.ID() != "pat-1" {
		t.Errorf("unexpected id: %s", doc.ID())
	}
	names := doc.Names()
	if len(names) != 1 || names[0] != "Jane Q Doe" {
		t.Errorf("unexpected names: %v", names)
	}
	if doc.Gender() != "female" || doc.BirthDate() != "1984-07-12" {
		t.Error("expected gender and birth date")
	}
	if !doc.HasAddress() || !doc.HasPhone() || !doc.HasEmail() || !doc.HasSecondaryIdentifier() {
		t.Error("expected address, phone, email, and identifier to be present")
	}
}

func TestDocument_TextNamePreferred(t *testing.T) {
	doc := Document{
		"name": []interface{}{
			map[string]interface{}{"text": "Dr. John Smith", "family": "Smith"},
		},
	}
	names := doc.Names()
	if len(names) != 1 || names[0] != "Dr. John Smith" {
		t.Errorf("expected text name, got %v", names)
	}
}

func TestDocument_MalformedShapes(t *testing.T) {
	doc := Document{
		"id":         42,                         // wrong type
		"name":       "not-an-array",             // wrong type
		"telecom":    []interface{}{"bare"},      // entry not a map
		"address":    []interface{}{nil},         // nil entry
		"identifier": map[string]interface{}{},   // wrong container
	}

	if doc.ID() != "" {
		t.Errorf("expected empty id, got %q", doc.ID())
	}
	if doc.HasName() || doc.HasPhone() || doc.HasAddress() || doc.HasSecondaryIdentifier() {
		t.Error("malformed fields must read as absent")
	}
}
