package sources

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	hackerNewsName         = "hacker_news"
	hackerNewsAPI          = "https://hn.algolia.com/api/v1"
	hackerNewsItemURL      = "https://news.ycombinator.com/item?id="
	hackerNewsTagHits      = 100
	hackerNewsMaxDescLen   = 1000
	metricOpportunityScore = "opportunity_score"

	indicatorPoints    = 8
	indicatorCap       = 40
	engagementLogScale = 8
	engagementCap      = 30
	opportunityCap     = 100
)

// hackerNewsQueries are grouped by the signal they surface: direct asks, frustration, gaps,
// workarounds, automation, willingness to pay, ideas and launches.
var hackerNewsQueries = []string{
	"Ask HN: How do you", "Ask HN: What do you use for", "Ask HN: Is there a tool",
	"Ask HN: Looking for", "Ask HN: How are you handling",
	"frustrated with", "wish there was", "why is it so hard", "sick of", "waste of time",
	"need a better", "looking for alternative", "recommend a tool", "no good option", "replacement for",
	"ended up building", "wrote a script to", "my workaround", "built my own",
	"no integration", "manual process", "hours every week", "spreadsheet", "copy paste",
	"I'd pay for", "paying too much for", "would pay",
	"someone should build", "startup idea", "gap in the market",
	"Tell HN:", "just shipped",
}

var hackerNewsIndicators = []string{
	"frustrated", "annoying", "tedious", "painful", "hate",
	"wish", "need", "looking for", "alternative", "better way",
	"how do you", "what do you use", "recommend", "suggestion",
	"problem", "issue", "struggle", "difficult", "hard to",
	"workaround", "hack", "built my own", "wrote a script",
	"integrate", "automate", "manual", "repetitive",
	"pay for", "worth", "pricing", "expensive", "cheap",
	"missing", "gap", "no option", "nothing works",
	"switched", "migrated", "replaced", "moved away",
	"idea", "opportunity", "market", "demand", "growing",
}

var hackerNewsExcludes = []string{
	"hiring", "job", "salary", "interview", "resume", "who is hiring", "freelancer", "remote job",
}

type hackerNewsParams struct {
	BaseURL        string   `mapstructure:"base_url"`
	DaysBack       int      `mapstructure:"days_back"`
	MinPoints      int      `mapstructure:"min_points"`
	MinComments    int      `mapstructure:"min_comments"`
	LimitPerQuery  int      `mapstructure:"limit_per_query"`
	AskPages       int      `mapstructure:"ask_pages"`
	ShowPages      int      `mapstructure:"show_pages"`
	HotMinPoints   int      `mapstructure:"hot_min_points"`
	HotMinComments int      `mapstructure:"hot_min_comments"`
	Queries        []string `mapstructure:"queries"`
}

// HackerNews searches the Algolia Hacker News API for opportunity signals.
type HackerNews struct {
	base
	params hackerNewsParams
	now    func() time.Time
}

func init() {
	mustRegister(hackerNewsName, NewHackerNews)
}

// NewHackerNews builds the Hacker News adapter.
func NewHackerNews(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &HackerNews{
		base: newBase(hackerNewsName, cfg, deps),
		params: hackerNewsParams{
			BaseURL:        hackerNewsAPI,
			DaysBack:       30,
			MinPoints:      3,
			MinComments:    1,
			LimitPerQuery:  50,
			AskPages:       3,
			ShowPages:      2,
			HotMinPoints:   10,
			HotMinComments: 10,
			Queries:        hackerNewsQueries,
		},
		now: time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	a.params.BaseURL = strings.TrimRight(a.params.BaseURL, "/")
	return a, nil
}

type algoliaHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	StoryText   string `json:"story_text"`
	URL         string `json:"url"`
	Points      *int   `json:"points"`
	NumComments *int   `json:"num_comments"`
	Author      string `json:"author"`
	CreatedAt   string `json:"created_at"`
}

type algoliaResponse struct {
	Hits []algoliaHit `json:"hits"`
}

// hnCollection accumulates unique hits across the query phases.
type hnCollection struct {
	seen    map[string]struct{}
	signals []domain.RawSignal
	tally   requestTally
}

// Collect runs tag pages, keyword searches and a hot-story sweep.
func (a *HackerNews) Collect(ctx context.Context, params Params) ([]domain.RawSignal, error) {
	p := a.params
	cutoff := a.now().Add(-time.Duration(p.DaysBack) * 24 * time.Hour).Unix()
	col := &hnCollection{seen: make(map[string]struct{})}

	a.collectTag(ctx, col, "ask_hn", p.AskPages, cutoff)
	a.collectTag(ctx, col, "show_hn", p.ShowPages, cutoff)

	for _, query := range mergeQueries(p.Queries, params.SignalPhrases) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.collectQuery(ctx, col, query, cutoff)
	}

	a.collectHot(ctx, col, cutoff)

	if err := col.tally.err(); err != nil {
		return nil, err
	}
	a.logger.Info("Hacker News collection finished", infralogger.Int("signals", len(col.signals)))
	return col.signals, nil
}

func (a *HackerNews) numericFilter(cutoff int64, minPoints, minComments int) string {
	return fmt.Sprintf("created_at_i>%d,points>%d,num_comments>%d", cutoff, minPoints, minComments)
}

func (a *HackerNews) collectTag(ctx context.Context, col *hnCollection, tag string, pages int, cutoff int64) {
	for page := range pages {
		q := url.Values{}
		q.Set("tags", tag)
		q.Set("numericFilters", a.numericFilter(cutoff, a.params.MinPoints, a.params.MinComments))
		q.Set("hitsPerPage", strconv.Itoa(hackerNewsTagHits))
		q.Set("page", strconv.Itoa(page))

		var resp algoliaResponse
		err := a.getJSON(ctx, a.params.BaseURL+"/search", q, nil, &resp)
		col.tally.record(err)
		if err != nil {
			a.logger.Warn("Tag page failed", infralogger.String("tag", tag), infralogger.Int("page", page),
				infralogger.Error(err))
			return
		}
		if len(resp.Hits) == 0 {
			return
		}
		for i := range resp.Hits {
			hit := &resp.Hits[i]
			// Tag results always link to the discussion thread.
			hit.URL = ""
			a.add(col, hit, tag)
		}
	}
}

func (a *HackerNews) collectQuery(ctx context.Context, col *hnCollection, query string, cutoff int64) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("numericFilters", fmt.Sprintf("created_at_i>%d", cutoff))
	q.Set("hitsPerPage", strconv.Itoa(a.params.LimitPerQuery))

	var resp algoliaResponse
	err := a.getJSON(ctx, a.params.BaseURL+"/search", q, nil, &resp)
	col.tally.record(err)
	if err != nil {
		a.logger.Warn("Search query failed", infralogger.String("query", query), infralogger.Error(err))
		return
	}

	for i := range resp.Hits {
		hit := &resp.Hits[i]
		if deref(hit.Points) < a.params.MinPoints || deref(hit.NumComments) < a.params.MinComments {
			continue
		}
		a.add(col, hit, query)
	}
}

func (a *HackerNews) collectHot(ctx context.Context, col *hnCollection, cutoff int64) {
	q := url.Values{}
	q.Set("tags", "story")
	q.Set("numericFilters", a.numericFilter(cutoff, a.params.HotMinPoints, a.params.HotMinComments))
	q.Set("hitsPerPage", strconv.Itoa(hackerNewsTagHits))

	var resp algoliaResponse
	err := a.getJSON(ctx, a.params.BaseURL+"/search", q, nil, &resp)
	col.tally.record(err)
	if err != nil {
		a.logger.Warn("Hot stories failed", infralogger.Error(err))
		return
	}

	for i := range resp.Hits {
		hit := &resp.Hits[i]
		text := strings.ToLower(hit.Title + " " + hit.StoryText)
		if countContained(text, hackerNewsIndicators) == 0 {
			continue
		}
		a.add(col, hit, "hot_stories")
	}
}

func (a *HackerNews) add(col *hnCollection, hit *algoliaHit, query string) {
	if hit.ObjectID == "" {
		return
	}
	if _, dup := col.seen[hit.ObjectID]; dup {
		return
	}

	text := strings.ToLower(hit.Title + " " + hit.StoryText)
	if containsAny(text, hackerNewsExcludes) {
		return
	}
	col.seen[hit.ObjectID] = struct{}{}

	link := hit.URL
	if link == "" {
		link = hackerNewsItemURL + hit.ObjectID
	}
	description := hit.Title
	if hit.StoryText != "" {
		description = normalizeText(clip(hit.StoryText, hackerNewsMaxDescLen, false))
	}
	points, comments := deref(hit.Points), deref(hit.NumComments)

	col.signals = append(col.signals, domain.RawSignal{
		Title:       normalizeText(hit.Title),
		Description: description,
		URL:         link,
		SourceType:  hackerNewsName,
		Metrics: domain.Metrics{
			domain.MetricUpvotes:   float64(points),
			domain.MetricComments:  float64(comments),
			metricOpportunityScore: float64(opportunityScore(text, points, comments)),
		},
		Metadata: map[string]any{
			"author":       hit.Author,
			"created_at":   hit.CreatedAt,
			"object_id":    hit.ObjectID,
			"is_ask_hn":    strings.HasPrefix(strings.ToLower(hit.Title), "ask hn"),
			"search_query": query,
		},
		CollectedAt: a.now().UTC(),
	})
}

// opportunityScore rates a post 0..100 from indicator hits and log-scaled engagement.
func opportunityScore(text string, points, comments int) int {
	score := min(indicatorCap, countContained(text, hackerNewsIndicators)*indicatorPoints)
	if points > 0 {
		score += min(engagementCap, int(math.Log(float64(points)+1)*engagementLogScale))
	}
	if comments > 0 {
		score += min(engagementCap, int(math.Log(float64(comments)+1)*engagementLogScale))
	}
	return min(opportunityCap, score)
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
