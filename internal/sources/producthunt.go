package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	productHuntName       = "product_hunt"
	productHuntAPI        = "https://api.producthunt.com/v2/api/graphql"
	productHuntMaxDescLen = 500
)

const productHuntQuery = `query GetPosts($first: Int!) {
  posts(order: RANKING, first: $first) {
    edges {
      node {
        id
        name
        tagline
        description
        url
        website
        votesCount
        commentsCount
        featuredAt
        topics { edges { node { name } } }
      }
    }
  }
}`

type productHuntParams struct {
	APIURL   string `mapstructure:"api_url"`
	DaysBack int    `mapstructure:"days_back"`
	Limit    int    `mapstructure:"limit"`
}

// ProductHunt reads recently featured launches from the GraphQL API.
type ProductHunt struct {
	base
	params productHuntParams
	now    func() time.Time
}

func init() {
	mustRegister(productHuntName, NewProductHunt)
}

// NewProductHunt builds the Product Hunt adapter. api_token is required.
func NewProductHunt(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &ProductHunt{
		base:   newBase(productHuntName, cfg, deps, "api_token"),
		params: productHuntParams{APIURL: productHuntAPI, DaysBack: 7, Limit: 50},
		now:    time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	return a, nil
}

type productHuntNode struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Tagline       string `json:"tagline"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	Website       string `json:"website"`
	VotesCount    int    `json:"votesCount"`
	CommentsCount int    `json:"commentsCount"`
	FeaturedAt    string `json:"featuredAt"`
	Topics        struct {
		Edges []struct {
			Node struct {
				Name string `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"topics"`
}

type productHuntResponse struct {
	Data struct {
		Posts struct {
			Edges []struct {
				Node productHuntNode `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Collect fetches one ranked page and drops launches featured before the lookback window.
func (a *ProductHunt) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	if ok, missing := a.ValidateConfig(); !ok {
		return nil, fmt.Errorf("product hunt: missing api keys %v", missing)
	}

	body := map[string]any{
		"query":     productHuntQuery,
		"variables": map[string]any{"first": a.params.Limit},
	}
	headers := map[string]string{"Authorization": "Bearer " + a.apiKey("api_token")}

	var resp productHuntResponse
	if err := a.postJSON(ctx, a.params.APIURL, body, headers, &resp); err != nil {
		return nil, fmt.Errorf("product hunt posts: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("product hunt graphql: %s", resp.Errors[0].Message)
	}

	cutoff := a.now().Add(-time.Duration(a.params.DaysBack) * 24 * time.Hour)
	signals := make([]domain.RawSignal, 0, len(resp.Data.Posts.Edges))
	for _, edge := range resp.Data.Posts.Edges {
		node := edge.Node
		if featured, err := time.Parse(time.RFC3339, node.FeaturedAt); err == nil && featured.Before(cutoff) {
			continue
		}

		description := node.Tagline
		if description == "" {
			description = node.Description
		}
		link := node.URL
		if link == "" {
			link = node.Website
		}
		topics := make([]string, 0, len(node.Topics.Edges))
		for _, t := range node.Topics.Edges {
			topics = append(topics, t.Node.Name)
		}

		signals = append(signals, domain.RawSignal{
			Title:       node.Name,
			Description: clip(description, productHuntMaxDescLen, false),
			URL:         link,
			SourceType:  productHuntName,
			Metrics: domain.Metrics{
				domain.MetricVotes:    float64(node.VotesCount),
				domain.MetricComments: float64(node.CommentsCount),
			},
			Metadata: map[string]any{
				"topics":      topics,
				"featured_at": node.FeaturedAt,
				"post_id":     node.ID,
			},
			CollectedAt: a.now().UTC(),
		})
	}
	return signals, nil
}
