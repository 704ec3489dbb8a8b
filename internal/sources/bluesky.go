package sources

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	blueskyName       = "bluesky"
	blueskyPublicAPI  = "https://public.api.bsky.app/xrpc"
	blueskyAuthAPI    = "https://bsky.social/xrpc"
	blueskyTitleLen   = 100
	blueskyMaxDescLen = 500
)

var blueskyQueries = []string{
	"startup idea", "SaaS", "micro-SaaS", "looking for tool", "wish there was",
	"anyone know of", "building in public", "indie hacker", "side project", "problem with",
}

type blueskyParams struct {
	APIURL        string   `mapstructure:"api_url"`
	AuthURL       string   `mapstructure:"auth_url"`
	DaysBack      int      `mapstructure:"days_back"`
	LimitPerQuery int      `mapstructure:"limit_per_query"`
	SearchQueries []string `mapstructure:"search_queries"`
}

// Bluesky searches public posts over the AT Protocol. Credentials are optional and only raise
// rate limits.
type Bluesky struct {
	base
	params blueskyParams
	now    func() time.Time
}

func init() {
	mustRegister(blueskyName, NewBluesky)
}

// NewBluesky builds the Bluesky adapter.
func NewBluesky(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &Bluesky{
		base: newBase(blueskyName, cfg, deps),
		params: blueskyParams{
			APIURL:        blueskyPublicAPI,
			AuthURL:       blueskyAuthAPI,
			DaysBack:      7,
			LimitPerQuery: 25,
			SearchQueries: blueskyQueries,
		},
		now: time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	a.params.APIURL = strings.TrimRight(a.params.APIURL, "/")
	a.params.AuthURL = strings.TrimRight(a.params.AuthURL, "/")
	return a, nil
}

type blueskySearchResponse struct {
	Posts []struct {
		URI         string `json:"uri"`
		LikeCount   int    `json:"likeCount"`
		ReplyCount  int    `json:"replyCount"`
		RepostCount int    `json:"repostCount"`
		Author      struct {
			Handle string `json:"handle"`
		} `json:"author"`
		Record struct {
			Text      string `json:"text"`
			CreatedAt string `json:"createdAt"`
		} `json:"record"`
	} `json:"posts"`
}

// Collect runs each search query and keeps posts inside the lookback window.
func (a *Bluesky) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	headers := map[string]string{}
	if token := a.session(ctx); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	cutoff := a.now().Add(-time.Duration(a.params.DaysBack) * 24 * time.Hour)
	seen := make(map[string]struct{})

	var (
		signals []domain.RawSignal
		tally   requestTally
	)
	for _, query := range a.params.SearchQueries {
		q := url.Values{}
		q.Set("q", query)
		q.Set("limit", strconv.Itoa(a.params.LimitPerQuery))
		q.Set("sort", "latest")

		var resp blueskySearchResponse
		err := a.getJSON(ctx, a.params.APIURL+"/app.bsky.feed.searchPosts", q, headers, &resp)
		tally.record(err)
		if err != nil {
			a.logger.Warn("Search failed", infralogger.String("query", query), infralogger.Error(err))
			continue
		}

		for _, post := range resp.Posts {
			if _, dup := seen[post.URI]; dup {
				continue
			}
			seen[post.URI] = struct{}{}

			if created, parseErr := time.Parse(time.RFC3339, post.Record.CreatedAt); parseErr == nil && created.Before(cutoff) {
				continue
			}

			postID := post.URI[strings.LastIndex(post.URI, "/")+1:]
			text := post.Record.Text
			signals = append(signals, domain.RawSignal{
				Title:       clip(text, blueskyTitleLen, true),
				Description: clip(text, blueskyMaxDescLen, false),
				URL:         "https://bsky.app/profile/" + post.Author.Handle + "/post/" + postID,
				SourceType:  blueskyName,
				Metrics: domain.Metrics{
					domain.MetricUpvotes:  float64(post.LikeCount),
					domain.MetricComments: float64(post.ReplyCount),
					"likes":               float64(post.LikeCount),
					"replies":             float64(post.ReplyCount),
					"reposts":             float64(post.RepostCount),
					"total_engagement":    float64(post.LikeCount + post.ReplyCount + post.RepostCount),
				},
				Metadata: map[string]any{
					"author":       post.Author.Handle,
					"created_at":   post.Record.CreatedAt,
					"uri":          post.URI,
					"search_query": query,
				},
				CollectedAt: a.now().UTC(),
			})
		}
	}

	if err := tally.err(); err != nil {
		return nil, err
	}
	return signals, nil
}

// session exchanges an app password for an access token. Failure falls back to the public API.
func (a *Bluesky) session(ctx context.Context) string {
	identifier, password := a.apiKey("identifier"), a.apiKey("password")
	if identifier == "" || password == "" {
		return ""
	}

	var resp struct {
		AccessJwt string `json:"accessJwt"`
	}
	body := map[string]string{"identifier": identifier, "password": password}
	if err := a.postJSON(ctx, a.params.AuthURL+"/com.atproto.server.createSession", body, nil, &resp); err != nil {
		a.logger.Warn("Bluesky auth failed, using public API", infralogger.Error(err))
		return ""
	}
	return resp.AccessJwt
}
