package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Custom rule types.
const (
	RuleExcludePhrase  = "exclude_phrase"
	RuleExcludeRegex   = "exclude_regex"
	// RuleExcludeKeyword records why a keyword was added to the exclude list. The filter
	// enforces the keyword through ExcludeKeywords, not through this rule.
	RuleExcludeKeyword = "exclude_keyword"
)

// SignalPhrase is a user-configured phrase that marks a post as a likely signal.
// It decodes from either a bare JSON string or {"phrase": ..., "category": ...}.
type SignalPhrase struct {
	Phrase   string `json:"phrase"`
	Category string `json:"category,omitempty"`
}

var errInvalidSignalPhrase = errors.New("signal phrase must be a string or an object with a phrase")

func (p *SignalPhrase) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		p.Phrase = plain
		p.Category = ""
		return nil
	}

	type alias SignalPhrase
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %s", errInvalidSignalPhrase, string(data))
	}
	*p = SignalPhrase(obj)
	return nil
}

// CustomRule is an always-enforced exclusion.
type CustomRule struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Reason  string `json:"reason,omitempty"`
	AddedAt string `json:"added_at,omitempty"`
}

// FilterRules is the operator-editable rule document persisted under the filter_rules setting.
type FilterRules struct {
	ExcludeKeywords   []string       `json:"exclude_keywords"`
	RequireKeywords   []string       `json:"require_keywords"`
	SignalPhrases     []SignalPhrase `json:"signal_phrases"`
	MinUpvotes        int            `json:"min_upvotes"`
	MinComments       int            `json:"min_comments"`
	ExcludeCategories []string       `json:"exclude_categories"`
	CustomRules       []CustomRule   `json:"custom_rules"`
}

// DefaultFilterRules is the document created on first read.
func DefaultFilterRules() FilterRules {
	return FilterRules{
		ExcludeKeywords: []string{
			"hiring", "job", "career", "salary", "remote work",
			"who is hiring", "seeking freelancer", "looking for developer",
		},
		RequireKeywords:   []string{},
		SignalPhrases:     []SignalPhrase{},
		MinUpvotes:        5,
		MinComments:       2,
		ExcludeCategories: []string{"job_posting", "promotional"},
		CustomRules:       []CustomRule{},
	}
}

// PhraseList returns the non-empty phrases in configured order.
func (r *FilterRules) PhraseList() []string {
	out := make([]string, 0, len(r.SignalPhrases))
	for _, p := range r.SignalPhrases {
		if s := strings.TrimSpace(p.Phrase); s != "" {
			out = append(out, s)
		}
	}
	return out
}
