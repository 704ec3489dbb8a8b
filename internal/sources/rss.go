package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	rssName       = "rss"
	rssMaxDescLen = 1000
)

var errNoFeeds = errors.New("no feeds configured")

type rssParams struct {
	Feeds    []string `mapstructure:"feeds"`
	DaysBack int      `mapstructure:"days_back"`
}

// RSS reads any RSS or Atom feeds listed in params.feeds.
type RSS struct {
	base
	params rssParams
	parser *gofeed.Parser
	now    func() time.Time
}

func init() {
	mustRegister(rssName, NewRSS)
}

// NewRSS builds the generic feed adapter.
func NewRSS(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &RSS{
		base:   newBase(rssName, cfg, deps),
		params: rssParams{DaysBack: 7},
		parser: gofeed.NewParser(),
		now:    time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	return a, nil
}

// ValidateConfig requires at least one feed.
func (a *RSS) ValidateConfig() (bool, []string) {
	if len(a.params.Feeds) == 0 {
		return false, []string{"params.feeds"}
	}
	return true, nil
}

// Collect fetches and parses every feed, skipping entries older than the lookback window.
func (a *RSS) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	if len(a.params.Feeds) == 0 {
		return nil, errNoFeeds
	}

	cutoff := a.now().Add(-time.Duration(a.params.DaysBack) * 24 * time.Hour)

	var (
		signals []domain.RawSignal
		tally   requestTally
	)
	for _, feedURL := range a.params.Feeds {
		body, err := a.getBody(ctx, feedURL)
		if err == nil {
			var feed *gofeed.Feed
			feed, err = a.parser.ParseString(string(body))
			if err == nil {
				signals = append(signals, a.convert(feed, feedURL, cutoff)...)
			} else {
				err = fmt.Errorf("parse feed %s: %w", feedURL, err)
			}
		}
		tally.record(err)
		if err != nil {
			a.logger.Warn("Feed failed", infralogger.String("feed", feedURL), infralogger.Error(err))
		}
	}

	if err := tally.err(); err != nil {
		return nil, err
	}
	return signals, nil
}

func (a *RSS) convert(feed *gofeed.Feed, feedURL string, cutoff time.Time) []domain.RawSignal {
	out := make([]domain.RawSignal, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := item.Link
		if link == "" {
			continue
		}
		if item.PublishedParsed != nil && item.PublishedParsed.Before(cutoff) {
			continue
		}

		description := item.Description
		if description == "" {
			description = item.Content
		}
		author := ""
		if item.Author != nil {
			author = item.Author.Name
		}

		out = append(out, domain.RawSignal{
			Title:       normalizeText(item.Title),
			Description: clip(stripHTML(description), rssMaxDescLen, false),
			URL:         link,
			SourceType:  rssName,
			Metrics:     domain.Metrics{},
			Metadata: map[string]any{
				"feed":       feedURL,
				"feed_title": feed.Title,
				"author":     author,
				"categories": item.Categories,
			},
			CollectedAt: a.now().UTC(),
		})
	}
	return out
}
