package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	mastodonName       = "mastodon"
	mastodonPrimary    = "https://mastodon.social"
	mastodonTitleLen   = 100
	mastodonMaxDescLen = 500
)

var mastodonInstances = []string{
	"https://mastodon.social",
	"https://hachyderm.io",
	"https://fosstodon.org",
	"https://indieweb.social",
}

var mastodonQueries = []string{
	"startup", "SaaS", "indie hacker", "side project",
	"building in public", "looking for tool", "wish there was", "micro saas",
}

type mastodonParams struct {
	DaysBack      int      `mapstructure:"days_back"`
	LimitPerQuery int      `mapstructure:"limit_per_query"`
	SearchQueries []string `mapstructure:"search_queries"`
	Instances     []string `mapstructure:"instances"`
}

// Mastodon searches statuses across several federated instances.
type Mastodon struct {
	base
	params  mastodonParams
	primary string
	now     func() time.Time
}

func init() {
	mustRegister(mastodonName, NewMastodon)
}

// NewMastodon builds the Mastodon adapter. An access_token, when present, is only sent to the
// primary instance.
func NewMastodon(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &Mastodon{
		base: newBase(mastodonName, cfg, deps),
		params: mastodonParams{
			DaysBack:      7,
			LimitPerQuery: 20,
			SearchQueries: mastodonQueries,
			Instances:     mastodonInstances,
		},
		primary: mastodonPrimary,
		now:     time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	if instance := a.apiKey("instance"); instance != "" {
		a.primary = strings.TrimRight(instance, "/")
	}
	return a, nil
}

type mastodonStatus struct {
	URL             string `json:"url"`
	Content         string `json:"content"`
	CreatedAt       string `json:"created_at"`
	FavouritesCount int    `json:"favourites_count"`
	ReblogsCount    int    `json:"reblogs_count"`
	RepliesCount    int    `json:"replies_count"`
	Language        string `json:"language"`
	Account         struct {
		Acct        string `json:"acct"`
		DisplayName string `json:"display_name"`
	} `json:"account"`
}

// Collect queries every instance with every search term.
func (a *Mastodon) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	cutoff := a.now().Add(-time.Duration(a.params.DaysBack) * 24 * time.Hour)
	seen := make(map[string]struct{})
	token := a.apiKey("access_token")

	var (
		signals []domain.RawSignal
		tally   requestTally
	)
	for _, instance := range a.params.Instances {
		instance = strings.TrimRight(instance, "/")
		headers := map[string]string{}
		if token != "" && instance == a.primary {
			headers["Authorization"] = "Bearer " + token
		}

		for _, query := range a.params.SearchQueries {
			q := url.Values{}
			q.Set("q", query)
			q.Set("type", "statuses")
			q.Set("limit", strconv.Itoa(a.params.LimitPerQuery))
			q.Set("resolve", "false")

			var resp struct {
				Statuses []mastodonStatus `json:"statuses"`
			}
			err := a.getJSON(ctx, instance+"/api/v2/search", q, headers, &resp)
			tally.record(err)
			if err != nil {
				a.logger.Debug("Instance search failed",
					infralogger.String("instance", instance),
					infralogger.String("query", query),
					infralogger.Error(err))
				continue
			}

			for i := range resp.Statuses {
				status := &resp.Statuses[i]
				if _, dup := seen[status.URL]; dup {
					continue
				}
				seen[status.URL] = struct{}{}

				if created, parseErr := time.Parse(time.RFC3339, status.CreatedAt); parseErr == nil && created.Before(cutoff) {
					continue
				}
				signals = append(signals, a.toSignal(status, instance, query))
			}
		}
	}

	if err := tally.err(); err != nil {
		return nil, err
	}
	return signals, nil
}

func (a *Mastodon) toSignal(status *mastodonStatus, instance, query string) domain.RawSignal {
	content := stripHTML(status.Content)
	display := status.Account.DisplayName
	if display == "" {
		display = status.Account.Acct
	}

	return domain.RawSignal{
		Title:       clip(content, mastodonTitleLen, true),
		Description: clip(content, mastodonMaxDescLen, false),
		URL:         status.URL,
		SourceType:  mastodonName,
		Metrics: domain.Metrics{
			domain.MetricUpvotes:  float64(status.FavouritesCount),
			domain.MetricComments: float64(status.RepliesCount),
			"favourites":          float64(status.FavouritesCount),
			"reblogs":             float64(status.ReblogsCount),
			"replies":             float64(status.RepliesCount),
			"total_engagement":    float64(status.FavouritesCount + status.ReblogsCount + status.RepliesCount),
		},
		Metadata: map[string]any{
			"author":         status.Account.Acct,
			"author_display": display,
			"created_at":     status.CreatedAt,
			"instance":       instance,
			"search_query":   query,
			"language":       status.Language,
		},
		CollectedAt: a.now().UTC(),
	}
}

// stripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalizeText(fragment)
	}
	// Block elements otherwise run their text together.
	doc.Find("p, br, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return normalizeText(doc.Text())
}
