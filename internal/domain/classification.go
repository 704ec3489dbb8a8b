package domain

import (
	"database/sql/driver"
	"encoding/json"
	"slices"
	"strings"
)

// Column limits of the staging and opportunity tables.
const (
	MaxURLLength   = 2048
	MaxTitleLength = 500
)

// Fallbacks for classifier labels outside the known sets.
const (
	CategoryOther     = "other"
	DefaultSignalType = "pain_point"
)

// Signal types the classifier may assign.
var SignalTypes = []string{
	"pain_point",
	"feature_request",
	"workaround",
	"integration_gap",
	"idea",
	"willingness_to_pay",
	"manual_process",
}

// Categories the classifier may assign.
var Categories = []string{
	"developer_tools",
	"productivity",
	"automation",
	"analytics",
	"communication",
	"security",
	"infrastructure",
	"other",
}

// NormalizeCategory maps a model-supplied category onto Categories. Unknown values become "other".
func NormalizeCategory(category string) string {
	return normalizeLabel(category, Categories, CategoryOther)
}

// NormalizeSignalType maps a model-supplied signal type onto SignalTypes.
func NormalizeSignalType(signalType string) string {
	return normalizeLabel(signalType, SignalTypes, DefaultSignalType)
}

func normalizeLabel(label string, known []string, fallback string) string {
	l := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "_")
	l = strings.ReplaceAll(l, "-", "_")
	if slices.Contains(known, l) {
		return l
	}
	return fallback
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Classification is the model's reading of a single signal.
type Classification struct {
	// IsSoftwareOpportunity is a pointer so an omitted field can default to true.
	IsSoftwareOpportunity *bool  `json:"is_software_opportunity,omitempty"`
	PainPoint             string `json:"pain_point"`
	OpportunityName       string `json:"opportunity_name"`
	SignalType            string `json:"signal_type"`
	Category              string `json:"category"`
	RejectionReason       string `json:"rejection_reason,omitempty"`
}

// Rejected reports whether the model explicitly said this is not a software opportunity.
func (c *Classification) Rejected() bool {
	return c != nil && c.IsSoftwareOpportunity != nil && !*c.IsSoftwareOpportunity
}

func (c *Classification) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *Classification) Scan(src any) error {
	return scanJSON(src, c)
}
