// Package quality scores patient documents. Scoring is deterministic and
// side-effect free: the same document always yields the same score and flags,
// and a low score never rejects a record.
package quality

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/clinsync/clinsync/internal/platform/fhir"
)

// Category weights. They sum to 1.0 so a fully populated document scores 1.0.
const (
	weightIdentity     = 0.30
	weightDemographics = 0.35
	weightContact      = 0.20
	weightIdentifiers  = 0.10
	weightFlags        = 0.05
)

// Flags attached to a scored document.
const (
	FlagTestData          = "test_data"
	FlagMissingName       = "missing_name"
	FlagMissingBirthdate  = "missing_birthdate"
	FlagMissingGender     = "missing_gender"
	FlagMissingAddress    = "missing_address"
	FlagMissingContact    = "missing_contact"
	FlagMissingIdentifier = "missing_identifier"
)

// Quality tiers derived from the continuous score, used for reporting only.
const (
	TierExcellent = "excellent"
	TierGood      = "good"
	TierFair      = "fair"
	TierPoor      = "poor"
)

var testPatientPattern = regexp.MustCompile(`(?i)^patient\s*\d+$`)

// ScoringError reports a document that cannot be scored at all.
type ScoringError struct {
	Reason string
}

func (e *ScoringError) Error() string {
	return "score document: " + e.Reason
}

// Result is the outcome of scoring one document.
type Result struct {
	Score      float64
	Categories map[string]float64
	Flags      []string
}

// Score computes the weighted quality score of a patient document. Each
// category contributes a sub-score in [0,1]; the final score is the weighted
// sum, clamped to [0,1].
func Score(doc fhir.Document) (Result, error) {
	if len(doc) == 0 {
		return Result{}, &ScoringError{Reason: "empty document"}
	}

	var flags []string

	identity := 0.0
	if doc.ID() != "" {
		identity += 0.5
	}
	if doc.HasName() {
		identity += 0.5
	} else {
		flags = append(flags, FlagMissingName)
	}

	demographics := 0.0
	if doc.Gender() != "" {
		demographics += 1.0 / 3.0
	} else {
		flags = append(flags, FlagMissingGender)
	}
	if doc.BirthDate() != "" {
		demographics += 1.0 / 3.0
	} else {
		flags = append(flags, FlagMissingBirthdate)
	}
	if doc.HasAddress() {
		demographics += 1.0 / 3.0
	} else {
		flags = append(flags, FlagMissingAddress)
	}

	contact := 0.0
	if doc.HasPhone() || doc.HasEmail() {
		contact = 1.0
	} else {
		flags = append(flags, FlagMissingContact)
	}

	identifiers := 0.0
	if doc.HasSecondaryIdentifier() {
		identifiers = 1.0
	} else {
		flags = append(flags, FlagMissingIdentifier)
	}

	dataFlags := 1.0
	if looksLikeTestData(doc) {
		dataFlags = 0.0
		flags = append(flags, FlagTestData)
	}

	score := identity*weightIdentity +
		demographics*weightDemographics +
		contact*weightContact +
		identifiers*weightIdentifiers +
		dataFlags*weightFlags
	score = clamp(score)

	return Result{
		Score: score,
		Categories: map[string]float64{
			"identity":     identity,
			"demographics": demographics,
			"contact":      contact,
			"identifiers":  identifiers,
			"data_flags":   dataFlags,
		},
		Flags: flags,
	}, nil
}

// Tier buckets a score for aggregation.
func Tier(score float64) string {
	switch {
	case score >= 0.9:
		return TierExcellent
	case score >= 0.7:
		return TierGood
	case score >= 0.5:
		return TierFair
	default:
		return TierPoor
	}
}

// looksLikeTestData flags names matching known synthetic-record patterns:
// test/sample/demo prefixes, all-numeric names, and "patient<digits>".
func looksLikeTestData(doc fhir.Document) bool {
	for _, name := range doc.Names() {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" {
			continue
		}
		for _, prefix := range []string{"test", "sample", "demo"} {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
		if allNumeric(lower) {
			return true
		}
		if testPatientPattern.MatchString(lower) {
			return true
		}
	}
	return false
}

func allNumeric(s string) bool {
	seen := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !unicode.IsDigit(r) {
			return false
		}
		seen = true
	}
	return seen
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
