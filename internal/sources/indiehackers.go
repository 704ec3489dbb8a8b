package sources

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	colly "github.com/gocolly/colly/v2"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	indieHackersName      = "indie_hackers"
	indieHackersBaseURL   = "https://www.indiehackers.com"
	indieHackersUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

var revenuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$?[\d,]+/month\s*MRR`),
	regexp.MustCompile(`(?i)\$?[\d,]+/mo\s*MRR`),
	regexp.MustCompile(`(?i)MRR\s*\$?[\d,]+`),
	regexp.MustCompile(`(?i)\$?[\d,]+/month\s*revenue`),
	regexp.MustCompile(`(?i)making\s*\$?[\d,]+/month`),
}

type indieHackersParams struct {
	BaseURL string `mapstructure:"base_url"`
	Limit   int    `mapstructure:"limit"`
}

// IndieHackers scrapes the public product directory, keeping revenue claims as metadata.
type IndieHackers struct {
	base
	params indieHackersParams
	now    func() time.Time
}

func init() {
	mustRegister(indieHackersName, NewIndieHackers)
}

// NewIndieHackers builds the Indie Hackers scraper.
func NewIndieHackers(cfg config.SourceConfig, deps Deps) (Adapter, error) {
	a := &IndieHackers{
		base:   newBase(indieHackersName, cfg, deps),
		params: indieHackersParams{BaseURL: indieHackersBaseURL, Limit: 50},
		now:    time.Now,
	}
	if err := a.decodeParams(&a.params); err != nil {
		return nil, err
	}
	a.params.BaseURL = strings.TrimRight(a.params.BaseURL, "/")
	return a, nil
}

// Collect visits the products page and converts each product card.
func (a *IndieHackers) Collect(ctx context.Context, _ Params) ([]domain.RawSignal, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c := colly.NewCollector(colly.UserAgent(indieHackersUserAgent))
	c.SetClient(a.client)
	c.Context = ctx

	var (
		signals  []domain.RawSignal
		visitErr error
	)
	c.OnHTML("div.product-card", func(e *colly.HTMLElement) {
		if len(signals) >= a.params.Limit {
			return
		}
		title := normalizeText(e.DOM.Find("h3.title, h4.title").First().Text())
		href, hasLink := e.DOM.Find("a[href]").First().Attr("href")
		if title == "" || !hasLink {
			return
		}

		revenue := extractRevenue(e.Text)
		metadata := map[string]any{"has_revenue_proof": revenue != ""}
		if revenue != "" {
			metadata["revenue"] = revenue
		}

		signals = append(signals, domain.RawSignal{
			Title:       title,
			Description: normalizeText(e.DOM.Find("p.description").First().Text()),
			URL:         a.absolute(href),
			SourceType:  indieHackersName,
			Metrics:     domain.Metrics{},
			Metadata:    metadata,
			CollectedAt: a.now().UTC(),
		})
	})
	c.OnError(func(_ *colly.Response, err error) {
		visitErr = err
	})

	if err := c.Visit(a.params.BaseURL + "/products"); err != nil {
		return nil, fmt.Errorf("indie hackers products: %w", err)
	}
	c.Wait()

	if visitErr != nil {
		return nil, fmt.Errorf("indie hackers products: %w", visitErr)
	}
	a.logger.Info("Indie Hackers scrape finished", infralogger.Int("signals", len(signals)))
	return signals, nil
}

func (a *IndieHackers) absolute(href string) string {
	if u, err := url.Parse(href); err == nil && u.IsAbs() {
		return href
	}
	return a.params.BaseURL + "/" + strings.TrimLeft(href, "/")
}

// extractRevenue returns the first revenue claim found in text.
func extractRevenue(text string) string {
	for _, re := range revenuePatterns {
		if m := re.FindString(text); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}
