package fhir

import "strings"

// Document is one patient record as delivered by the source: an opaque
// semi-structured map. Accessors below are nil-safe and tolerate missing or
// oddly shaped fields, returning zero values instead of failing.
type Document map[string]interface{}

// ResourceType returns the document's resourceType field, if any.
func (d Document) ResourceType() string {
	return asString(d["resourceType"])
}

// ID returns the document's stable source record id, if any.
func (d Document) ID() string {
	return asString(d["id"])
}

// Names returns the display form of every name entry in the document.
// Each entry contributes either its "text" field or "given... family"
// joined with spaces.
func (d Document) Names() []string {
	var names []string
	for _, raw := range asSlice(d["name"]) {
		entry := asMap(raw)
		if entry == nil {
			continue
		}
		if text := asString(entry["text"]); text != "" {
			names = append(names, text)
			continue
		}
		var parts []string
		for _, g := range asSlice(entry["given"]) {
			if s := asString(g); s != "" {
				parts = append(parts, s)
			}
		}
		if fam := asString(entry["family"]); fam != "" {
			parts = append(parts, fam)
		}
		if len(parts) > 0 {
			names = append(names, strings.Join(parts, " "))
		}
	}
	return names
}

// HasName reports whether the document carries at least one usable name entry.
func (d Document) HasName() bool {
	return len(d.Names()) > 0
}

// Gender returns the administrative gender field, if any.
func (d Document) Gender() string {
	return asString(d["gender"])
}

// BirthDate returns the birthDate field, if any.
func (d Document) BirthDate() string {
	return asString(d["birthDate"])
}

// HasAddress reports whether the document carries at least one structured
// address (an address entry with any of line, city, postal code, or text).
func (d Document) HasAddress() bool {
	for _, raw := range asSlice(d["address"]) {
		entry := asMap(raw)
		if entry == nil {
			continue
		}
		if len(asSlice(entry["line"])) > 0 {
			return true
		}
		if asString(entry["city"]) != "" || asString(entry["postalCode"]) != "" || asString(entry["text"]) != "" {
			return true
		}
	}
	return false
}

// HasPhone reports whether a telecom entry with system "phone" and a value
// is present.
func (d Document) HasPhone() bool {
	return d.hasTelecom("phone")
}

// HasEmail reports whether a telecom entry with system "email" and a value
// is present.
func (d Document) HasEmail() bool {
	return d.hasTelecom("email")
}

func (d Document) hasTelecom(system string) bool {
	for _, raw := range asSlice(d["telecom"]) {
		entry := asMap(raw)
		if entry == nil {
			continue
		}
		if asString(entry["system"]) == system && asString(entry["value"]) != "" {
			return true
		}
	}
	return false
}

// HasSecondaryIdentifier reports whether the document carries any business
// identifier (medical record number and the like) beyond its resource id.
func (d Document) HasSecondaryIdentifier() bool {
	for _, raw := range asSlice(d["identifier"]) {
		entry := asMap(raw)
		if entry == nil {
			continue
		}
		if asString(entry["value"]) != "" {
			return true
		}
	}
	return false
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

func asMap(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}
