package filter

import (
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// keywordSet matches lower-cased substrings. Index order is configuration order.
// The matcher keeps per-call state, so Match is serialized.
type keywordSet struct {
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string
	// display keeps the configured spelling for rejection reasons.
	display []string
}

func newKeywordSet(keywords []string) *keywordSet {
	set := &keywordSet{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		normalized := strings.ToLower(strings.TrimSpace(kw))
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		set.keywords = append(set.keywords, normalized)
		set.display = append(set.display, strings.TrimSpace(kw))
	}
	if len(set.keywords) > 0 {
		set.matcher = ahocorasick.NewStringMatcher(set.keywords)
	}
	return set
}

func (k *keywordSet) empty() bool {
	return k.matcher == nil
}

func (k *keywordSet) matches(text string) bool {
	if k.matcher == nil {
		return false
	}
	return len(k.match(text)) > 0
}

// first returns the earliest-configured keyword found in text.
func (k *keywordSet) first(text string) (string, bool) {
	if k.matcher == nil {
		return "", false
	}
	hits := k.match(text)
	if len(hits) == 0 {
		return "", false
	}
	best := hits[0]
	for _, h := range hits[1:] {
		if h < best {
			best = h
		}
	}
	return k.display[best], true
}

func (k *keywordSet) match(text string) []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.matcher.Match([]byte(text))
}
