// Package filter decides which collected signals are worth classifying.
// Keyword lists are compiled into Aho-Corasick automatons once per scan so each signal
// is scanned in a single pass per list regardless of how many keywords are configured.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
)

// Engine is an immutable, compiled FilterRules document. It is safe for concurrent use.
type Engine struct {
	exclude *keywordSet
	require *keywordSet
	phrases *keywordSet

	minUpvotes  float64
	minComments float64

	excludedCategories map[string]struct{}
	custom             []customRule
}

type customRule struct {
	phrase string
	regex  *regexp.Regexp
	reason string
}

// New compiles rules. Invalid regex rules are logged and skipped.
func New(rules domain.FilterRules, logger infralogger.Logger) *Engine {
	if logger == nil {
		logger = infralogger.NewNop()
	}

	e := &Engine{
		exclude:            newKeywordSet(rules.ExcludeKeywords),
		require:            newKeywordSet(rules.RequireKeywords),
		phrases:            newKeywordSet(rules.PhraseList()),
		minUpvotes:         float64(rules.MinUpvotes),
		minComments:        float64(rules.MinComments),
		excludedCategories: make(map[string]struct{}, len(rules.ExcludeCategories)),
	}

	for _, c := range rules.ExcludeCategories {
		e.excludedCategories[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}

	for _, r := range rules.CustomRules {
		value := strings.TrimSpace(r.Value)
		if value == "" {
			continue
		}
		reason := r.Reason
		if reason == "" {
			reason = strings.ToLower(value)
		}

		switch r.Type {
		case domain.RuleExcludePhrase:
			e.custom = append(e.custom, customRule{phrase: strings.ToLower(value), reason: reason})
		case domain.RuleExcludeRegex:
			re, err := regexp.Compile("(?i)" + value)
			if err != nil {
				logger.Warn("Skipping invalid regex filter rule",
					infralogger.String("pattern", r.Value),
					infralogger.Error(err))
				continue
			}
			e.custom = append(e.custom, customRule{regex: re, reason: reason})
		}
	}

	return e
}

// Passes applies the rules in order and returns the reason of the first one that rejects.
func (e *Engine) Passes(s *domain.RawSignal) (bool, string) {
	title := strings.ToLower(s.Title)
	text := title + " " + strings.ToLower(s.Description)

	if kw, hit := e.exclude.first(title); hit {
		return false, "Title contains excluded keyword: " + kw
	}

	if !e.require.empty() && !e.require.matches(text) {
		return false, "Missing required keywords"
	}

	if !e.phrases.matches(text) {
		upvotes := s.Metrics.Upvotes()
		comments := s.Metrics.Comments()
		if upvotes < e.minUpvotes {
			return false, fmt.Sprintf("Below minimum upvotes (%g < %g)", upvotes, e.minUpvotes)
		}
		if comments < e.minComments {
			return false, fmt.Sprintf("Below minimum comments (%g < %g)", comments, e.minComments)
		}
	}

	for _, rule := range e.custom {
		if rule.regex != nil {
			if rule.regex.MatchString(text) {
				return false, "Matches regex rule: " + rule.reason
			}
			continue
		}
		if strings.Contains(text, rule.phrase) {
			return false, "Matches custom rule: " + rule.reason
		}
	}

	return true, ""
}

// HasSignalPhrase reports whether text contains a configured signal phrase.
func (e *Engine) HasSignalPhrase(text string) bool {
	return e.phrases.matches(strings.ToLower(text))
}

// ExcludedCategory reports whether a classified category is excluded.
func (e *Engine) ExcludedCategory(category string) bool {
	_, ok := e.excludedCategories[strings.ToLower(category)]
	return ok
}
