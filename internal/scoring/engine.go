// Package scoring rates opportunities from their demand, competitor revenue, competition and
// build complexity, and decides whether an opportunity counts as validated.
package scoring

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	maxScore = 100.0

	demandLinearCap = 100
	demandLogFactor = 10

	revenueRatioWeight = 50.0
	complexityBase     = 50.0
	complexityHigh     = 15.0
	complexityMedium   = 5.0
	complexityLow      = 10.0
)

// MRR bonus tiers, highest first.
var revenueBonuses = []struct {
	minMRR int
	bonus  float64
}{
	{minMRR: 10000, bonus: 50},
	{minMRR: 5000, bonus: 40},
	{minMRR: 1000, bonus: 25},
}

var (
	highComplexity = newKeywordList(
		"ai", "machine learning", "ml", "algorithm", "blockchain",
		"ar", "vr", "computer vision", "nlp", "natural language",
	)
	mediumComplexity = newKeywordList("api", "integration", "database", "real-time", "streaming", "infrastructure")
	lowComplexity    = newKeywordList(
		"dashboard", "admin panel", "crud", "form", "listing", "directory", "calculator", "template",
	)

	b2bKeywords = newKeywordList(
		"business", "company", "enterprise", "startup", "saas", "team", "professional",
		"workflow", "productivity", "analytics", "automation", "integration", "api",
	)
	b2cKeywords = newKeywordList(
		"personal", "individual", "consumer", "lifestyle", "fitness",
		"health", "recipe", "gaming", "social", "dating",
	)
)

var mrrPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$?([\d,]+)\s*MRR`),
	regexp.MustCompile(`(?i)\$?([\d,]+)/month`),
	regexp.MustCompile(`(?i)£?([\d,]+)/month`),
	regexp.MustCompile(`(?i)MRR\s*\$?([\d,]+)`),
}

// keywordList matches whole words with an optional plural "s", so "ai" does not fire on "email".
type keywordList []*regexp.Regexp

func newKeywordList(words ...string) keywordList {
	out := make(keywordList, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `s?\b`)
	}
	return out
}

// count returns how many distinct keywords occur in text, which must be lowercased.
func (k keywordList) count(text string) int {
	n := 0
	for _, re := range k {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// Breakdown holds the sub-scores, rounded and bounded to 0..100.
type Breakdown struct {
	Demand      int `json:"demand_score"`
	Revenue     int `json:"revenue_score"`
	Competition int `json:"competition_score"`
	Complexity  int `json:"complexity_score"`
}

// Result is the outcome of scoring one opportunity.
type Result struct {
	Score          int       `json:"score"`
	Breakdown      Breakdown `json:"breakdown"`
	IsValidated    bool      `json:"is_validated"`
	Recommendation string    `json:"recommendation"`
}

// Evaluate scores an opportunity against its competitors. It is deterministic.
func Evaluate(opp *domain.Opportunity, competitors []domain.Competitor, cfg domain.ScoringConfig) Result {
	demand := DemandScore(opp.MentionCount)
	revenue := RevenueScore(competitors)
	competition := CompetitionScore(len(competitors))
	complexity := ComplexityScore(opp.Title, opp.Description)

	w := cfg.Weights
	total := demand*w.DemandFrequency +
		revenue*w.RevenueProof +
		competition*w.Competition +
		complexity*w.BuildComplexity
	score := int(math.Round(clamp(total)))

	validated := CheckValidation(opp, competitors, cfg.Thresholds)
	return Result{
		Score: score,
		Breakdown: Breakdown{
			Demand:      int(math.Round(clamp(demand))),
			Revenue:     int(math.Round(clamp(revenue))),
			Competition: int(math.Round(clamp(competition))),
			Complexity:  int(math.Round(clamp(complexity))),
		},
		IsValidated:    validated,
		Recommendation: Recommendation(score, validated),
	}
}

// DemandScore is linear up to 100 mentions and logarithmic beyond.
func DemandScore(mentions int) float64 {
	if mentions <= demandLinearCap {
		return float64(max(mentions, 0))
	}
	return demandLinearCap + demandLogFactor*(math.Log(float64(mentions))-math.Log(demandLinearCap))
}

// RevenueScore rewards competitors that publish revenue, with a bonus for total MRR.
func RevenueScore(competitors []domain.Competitor) float64 {
	if len(competitors) == 0 {
		return 0
	}
	withRevenue, totalMRR := revenueProof(competitors)
	score := revenueRatioWeight * float64(withRevenue) / float64(len(competitors))
	for _, tier := range revenueBonuses {
		if totalMRR >= tier.minMRR {
			score += tier.bonus
			break
		}
	}
	return math.Min(maxScore, score)
}

// CompetitionScore favours markets with fewer competitors.
func CompetitionScore(n int) float64 {
	switch {
	case n <= 0:
		return 100
	case n == 1:
		return 80
	case n <= 3:
		return 60
	case n <= 5:
		return 40
	case n <= 10:
		return 20
	default:
		return 10
	}
}

// ComplexityScore estimates how easy the product is to build from keywords in its text.
func ComplexityScore(title, description string) float64 {
	text := strings.ToLower(title + " " + description)
	score := complexityBase -
		complexityHigh*float64(highComplexity.count(text)) -
		complexityMedium*float64(mediumComplexity.count(text)) +
		complexityLow*float64(lowComplexity.count(text))
	return clamp(score)
}

// ExtractMRR returns the monthly recurring revenue stated in s, if any.
func ExtractMRR(s string) (int, bool) {
	for _, re := range mrrPatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}

// CheckValidation reports whether an opportunity has enough evidence to build on.
func CheckValidation(opp *domain.Opportunity, competitors []domain.Competitor, t domain.ValidationThresholds) bool {
	if len(competitors) < t.MinCompetitors {
		return false
	}
	if opp.MentionCount < t.MinMentions {
		return false
	}
	withRevenue, totalMRR := revenueProof(competitors)
	if withRevenue == 0 {
		return false
	}
	if float64(totalMRR) < t.MinRevenueMRR {
		return false
	}
	return isB2B(opp)
}

// Recommendation maps a score and validation verdict to advice.
func Recommendation(score int, validated bool) string {
	switch {
	case score >= 80:
		if validated {
			return "Build immediately - All signals green, revenue proof confirmed"
		}
		return "Strong candidate - validate with landing page before building"
	case score >= 60:
		if validated {
			return "Strong candidate - validate with landing page before building"
		}
		return "Promising but needs validation - test with landing page first"
	case score >= 40:
		return "High risk - need unique angle, proceed with caution"
	case score >= 20:
		return "Reject - insufficient validation, do not build"
	default:
		return "Reject - minimal data, do not build"
	}
}

func revenueProof(competitors []domain.Competitor) (int, int) {
	withRevenue, totalMRR := 0, 0
	for _, c := range competitors {
		if strings.TrimSpace(c.RevenueEst) == "" {
			continue
		}
		withRevenue++
		if mrr, ok := ExtractMRR(c.RevenueEst); ok {
			totalMRR += mrr
		}
	}
	return withRevenue, totalMRR
}

func isB2B(opp *domain.Opportunity) bool {
	text := strings.ToLower(opp.Title + " " + opp.Description + " " + opp.TargetMarket)
	b2b := b2bKeywords.count(text)
	return b2b > 0 && b2b >= b2cKeywords.count(text)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(maxScore, v))
}
