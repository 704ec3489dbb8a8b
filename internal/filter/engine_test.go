package filter_test

import (
	"testing"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/filter"
)

func signal(title, desc string, upvotes, comments float64) *domain.RawSignal {
	return &domain.RawSignal{
		Title:       title,
		Description: desc,
		Metrics:     domain.Metrics{domain.MetricUpvotes: upvotes, domain.MetricComments: comments},
	}
}

func TestEngine_Passes(t *testing.T) {
	t.Parallel()

	rules := domain.DefaultFilterRules()
	rules.SignalPhrases = []domain.SignalPhrase{{Phrase: "I wish there was"}}
	rules.CustomRules = []domain.CustomRule{
		{Type: domain.RuleExcludePhrase, Value: "crypto airdrop", Reason: "spam"},
		{Type: domain.RuleExcludeRegex, Value: `\bnft\b`},
		{Type: domain.RuleExcludeRegex, Value: `([unclosed`},
	}
	engine := filter.New(rules, nil)

	tests := []struct {
		name       string
		signal     *domain.RawSignal
		wantPass   bool
		wantReason string
	}{
		{
			name:       "excluded keyword in title",
			signal:     signal("We are Hiring engineers", "", 100, 100),
			wantReason: "Title contains excluded keyword: hiring",
		},
		{
			name:     "excluded keyword only in body passes",
			signal:   signal("Invoicing is painful", "we are hiring soon", 10, 5),
			wantPass: true,
		},
		{
			name:       "below minimum upvotes",
			signal:     signal("Invoicing is painful", "", 3, 10),
			wantReason: "Below minimum upvotes (3 < 5)",
		},
		{
			name:       "below minimum comments",
			signal:     signal("Invoicing is painful", "", 30, 1),
			wantReason: "Below minimum comments (1 < 2)",
		},
		{
			name:     "signal phrase bypasses engagement",
			signal:   signal("I wish there was a tool for invoices", "", 0, 0),
			wantPass: true,
		},
		{
			name:       "custom phrase enforced even with signal phrase",
			signal:     signal("I wish there was a crypto airdrop tracker", "", 0, 0),
			wantReason: "Matches custom rule: spam",
		},
		{
			name:       "regex rule is case-insensitive",
			signal:     signal("Selling my NFT collection tool", "", 50, 50),
			wantReason: `Matches regex rule: \bnft\b`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pass, reason := engine.Passes(tt.signal)
			if pass != tt.wantPass {
				t.Fatalf("Passes() = %v (%q), want %v", pass, reason, tt.wantPass)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestEngine_FirstConfiguredKeywordWinsReason(t *testing.T) {
	t.Parallel()

	rules := domain.FilterRules{ExcludeKeywords: []string{"Salary", "job"}}
	engine := filter.New(rules, nil)

	_, reason := engine.Passes(signal("job with a salary", "", 0, 0))
	if reason != "Title contains excluded keyword: Salary" {
		t.Errorf("reason = %q", reason)
	}
}

func TestEngine_RequiredKeywords(t *testing.T) {
	t.Parallel()

	rules := domain.FilterRules{RequireKeywords: []string{"spreadsheet", "invoice"}}
	engine := filter.New(rules, nil)

	if pass, reason := engine.Passes(signal("Generic rant", "nothing here", 10, 10)); pass || reason != "Missing required keywords" {
		t.Errorf("Passes() = %v, %q; want rejection for missing keywords", pass, reason)
	}
	if pass, _ := engine.Passes(signal("Tracking", "my INVOICE process is manual", 10, 10)); !pass {
		t.Error("required keyword in description should pass")
	}
}

func TestEngine_ExcludedCategory(t *testing.T) {
	t.Parallel()

	engine := filter.New(domain.DefaultFilterRules(), nil)

	if !engine.ExcludedCategory("job_posting") {
		t.Error("job_posting should be excluded")
	}
	if engine.ExcludedCategory("developer_tools") {
		t.Error("developer_tools should not be excluded")
	}
}

func TestEngine_EmptyRulesPassEverything(t *testing.T) {
	t.Parallel()

	engine := filter.New(domain.FilterRules{}, nil)
	if pass, reason := engine.Passes(signal("anything", "", 0, 0)); !pass {
		t.Errorf("Passes() rejected with %q", reason)
	}
}
