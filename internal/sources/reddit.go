package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	redditName         = "reddit"
	redditAuthURL      = "https://www.reddit.com/api/v1/access_token"
	redditAPIURL       = "https://oauth.reddit.com"
	redditPermalink    = "https://reddit.com"
	redditMaxDescLen   = 500
	redditCoreSubCount = 5
)

var redditDefaultSubreddits = []string{
	"entrepreneur", "startups", "sideproject", "SaaSProject", "microsaas",
	"IndieHackers", "Entrepreneur", "smallbusiness", "freelance", "coding",
}

var redditPainKeywords = []string{
	"i wish", "i hate", "i need", "looking for", "anyone know",
	"how do i", "is there a way to", "why doesnt", "it would be great if",
	"frustrated with", "tired of", "annoying that", "problem with",
	"struggling with", "help me find", "recommendation for", "suggestion for",
}

var redditTimeFilters = map[string]time.Duration{
	"day":   24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
	"all":   3650 * 24 * time.Hour,
}

type redditParams struct {
	AuthURL    string   `mapstructure:"auth_url"`
	APIURL     string   `mapstructure:"api_url"`
	Subreddits []string `mapstructure:"subreddits"`
	Limit      int      `mapstructure:"limit"`
	TimeFilter string   `mapstructure:"time_filter"`
}

// Reddit reads new posts from subreddits through the OAuth API using client credentials.
type Reddit struct {
	base
	params redditParams
	now    func() time.Time
}

func init() {
	mustRegister(redditName, NewReddit)
}

// NewReddit builds the Reddit adapter. client_id, client_secret and user_agent are required.
func NewReddit(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &Reddit{
		base: newBase(redditName, cfg, deps, "client_id", "client_secret", "user_agent"),
		params: redditParams{
			AuthURL:    redditAuthURL,
			APIURL:     redditAPIURL,
			Subreddits: redditDefaultSubreddits,
			Limit:      100,
			TimeFilter: "week",
		},
		now: time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	a.params.APIURL = strings.TrimRight(a.params.APIURL, "/")
	return a, nil
}

type redditToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Permalink   string  `json:"permalink"`
	Ups         int     `json:"ups"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Collect authenticates once and then walks every configured subreddit.
func (a *Reddit) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	if ok, missing := a.ValidateConfig(); !ok {
		return nil, fmt.Errorf("reddit: missing api keys %v", missing)
	}

	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	window, ok := redditTimeFilters[a.params.TimeFilter]
	if !ok {
		window = redditTimeFilters["week"]
	}
	cutoff := a.now().Add(-window)
	core := redditDefaultSubreddits[:redditCoreSubCount]

	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"User-Agent":    a.apiKey("user_agent"),
	}

	var (
		signals []domain.RawSignal
		tally   requestTally
	)
	for _, sub := range a.params.Subreddits {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(a.params.Limit))

		var listing redditListing
		reqErr := a.getJSON(ctx, fmt.Sprintf("%s/r/%s/new", a.params.APIURL, url.PathEscape(sub)), q, headers, &listing)
		tally.record(reqErr)
		if reqErr != nil {
			a.logger.Warn("Subreddit fetch failed", infralogger.String("subreddit", sub), infralogger.Error(reqErr))
			continue
		}

		for _, child := range listing.Data.Children {
			post := child.Data
			created := time.Unix(int64(post.CreatedUTC), 0).UTC()
			if created.Before(cutoff) {
				continue
			}
			combined := strings.ToLower(post.Title + " " + post.Selftext)
			isPain := containsAny(combined, redditPainKeywords)
			if !isPain && !slices.Contains(core, sub) {
				continue
			}

			author := post.Author
			if author == "" {
				author = "[deleted]"
			}
			signals = append(signals, domain.RawSignal{
				Title:       normalizeText(post.Title),
				Description: normalizeText(clip(post.Selftext, redditMaxDescLen, false)),
				URL:         redditPermalink + post.Permalink,
				SourceType:  redditName,
				Metrics: domain.Metrics{
					domain.MetricUpvotes:  float64(post.Ups),
					domain.MetricComments: float64(post.NumComments),
					"upvote_ratio":        post.UpvoteRatio,
				},
				Metadata: map[string]any{
					"author":        author,
					"created_utc":   post.CreatedUTC,
					"subreddit":     sub,
					"is_pain_point": isPain,
				},
				CollectedAt: a.now().UTC(),
			})
		}
	}

	if tallyErr := tally.err(); tallyErr != nil {
		return nil, tallyErr
	}
	return signals, nil
}

func (a *Reddit) authenticate(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	var token redditToken
	err := a.do(ctx, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, a.params.AuthURL, strings.NewReader(form.Encode()))
		if reqErr != nil {
			return nil, fmt.Errorf("build token request: %w", reqErr)
		}
		req.SetBasicAuth(a.apiKey("client_id"), a.apiKey("client_secret"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", a.apiKey("user_agent"))
		return req, nil
	}, &token)
	if err != nil {
		return "", fmt.Errorf("reddit token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("reddit token: %w", errEmptyToken)
	}
	return token.AccessToken, nil
}
