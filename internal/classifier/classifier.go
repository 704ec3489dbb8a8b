// Package classifier turns raw signals into structured opportunity readings using a language model,
// and proposes matches and clusters for staged signals.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/circuitbreaker"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
)

// Model call operations, used as metric labels.
const (
	opClassify      = "classify"
	opClassifyBatch = "classify_batch"
	opMatch         = "match"
	opCluster       = "cluster"
	opCheck         = "check"

	fallbackClusterConfidence = 0.5
	fallbackClusterNameLen    = 50
	secondsPerMinute          = 60
	defaultCallTimeout        = 30 * time.Second
)

// Classifier wraps a Model with rate limiting, a circuit breaker and a per-call timeout.
// A Classifier built without a model reports ErrNotConfigured from every call.
type Classifier struct {
	model   Model
	breaker *circuitbreaker.Breaker
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
	logger  infralogger.Logger
}

// New creates a Classifier. model may be nil.
func New(model Model, cfg config.ModelConfig, m *metrics.Metrics, logger infralogger.Logger) *Classifier {
	log := logger.With(infralogger.Component("classifier"))

	rpm := cfg.RequestsPerMinute
	limit := rate.Inf
	if rpm > 0 {
		limit = rate.Limit(float64(rpm) / secondsPerMinute)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Classifier{
		model: model,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailures,
			Timeout:          cfg.BreakerCooldown,
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("Model circuit state changed",
					infralogger.String("from", from.String()),
					infralogger.String("to", to.String()))
			},
		}),
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		metrics: m,
		logger:  log,
	}
}

// Configured reports whether a model is available.
func (c *Classifier) Configured() bool {
	return c != nil && c.model != nil
}

// Classify analyzes a single post. It returns nil when the model is unavailable or its answer
// cannot be parsed.
func (c *Classifier) Classify(ctx context.Context, post Post, hints []string) *domain.Classification {
	if !c.Configured() {
		return nil
	}

	text, err := c.complete(ctx, opClassify, buildExtractPrompt(post, hints))
	if err != nil {
		c.logger.Warn("Classification failed", infralogger.Error(err))
		return nil
	}

	result, parseErr := ParseModelJSON[domain.Classification](text)
	if parseErr != nil {
		c.logger.Warn("Classification unparseable", infralogger.Error(parseErr))
		return nil
	}
	return normalize(&result)
}

type batchItem struct {
	Index int `json:"index"`
	domain.Classification
}

// ClassifyBatch analyzes posts with one model call. The result is aligned with posts; a slot is
// nil when the model skipped that post, and every slot is nil when the call fails.
func (c *Classifier) ClassifyBatch(ctx context.Context, posts []Post, hints []string) []*domain.Classification {
	results := make([]*domain.Classification, len(posts))
	if !c.Configured() || len(posts) == 0 {
		return results
	}

	text, err := c.complete(ctx, opClassifyBatch, buildBatchExtractPrompt(posts, hints))
	if err != nil {
		c.logger.Warn("Batch classification failed",
			infralogger.Int("batch_size", len(posts)),
			infralogger.Error(err))
		return results
	}

	items, parseErr := ParseModelJSON[[]batchItem](text)
	if parseErr != nil {
		c.logger.Warn("Batch classification unparseable",
			infralogger.Int("batch_size", len(posts)),
			infralogger.Error(parseErr))
		return results
	}

	for i := range items {
		idx := items[i].Index
		if idx < 0 || idx >= len(posts) || results[idx] != nil {
			continue
		}
		classification := items[i].Classification
		results[idx] = normalize(&classification)
	}
	return results
}

// normalize defaults an omitted is_software_opportunity to true and maps the signal type onto
// the known labels. The category is kept as given so excluded categories can still be matched.
func normalize(c *domain.Classification) *domain.Classification {
	if c.IsSoftwareOpportunity == nil {
		accepted := true
		c.IsSoftwareOpportunity = &accepted
	}
	c.SignalType = domain.NormalizeSignalType(c.SignalType)
	return c
}

// MatchOpportunity is an existing opportunity offered to the matcher.
type MatchOpportunity struct {
	ID          string
	Title       string
	Description string
}

// MatchPost is a staged signal offered to the matcher.
type MatchPost struct {
	ID        string
	Title     string
	PainPoint string
}

// MatchProposal pairs a post with an opportunity.
type MatchProposal struct {
	PostID        string
	OpportunityID string
	Confidence    float64
}

// shortID accepts a prompt id encoded as either a JSON number or a string.
type shortID int

func (s *shortID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*s = shortID(n)
	return nil
}

type matchResponse struct {
	Matches []struct {
		PostID        shortID `json:"post_id"`
		OpportunityID shortID `json:"opportunity_id"`
		Confidence    float64 `json:"confidence"`
	} `json:"matches"`
	UnmatchedPostIDs []shortID `json:"unmatched_post_ids"`
}

// ProposeMatches asks the model which posts describe an existing opportunity. Prompt ids are mapped
// back to real ids; proposals naming ids outside the prompt are dropped.
func (c *Classifier) ProposeMatches(
	ctx context.Context,
	opps []MatchOpportunity,
	posts []MatchPost,
) ([]MatchProposal, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(opps) == 0 || len(posts) == 0 {
		return nil, nil
	}

	text, err := c.complete(ctx, opMatch, buildMatchPrompt(opps, posts))
	if err != nil {
		return nil, err
	}

	resp, parseErr := ParseModelJSON[matchResponse](text)
	if parseErr != nil {
		return nil, parseErr
	}

	proposals := make([]MatchProposal, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		postIdx, oppIdx := int(m.PostID)-1, int(m.OpportunityID)-1
		if postIdx < 0 || postIdx >= len(posts) || oppIdx < 0 || oppIdx >= len(opps) {
			c.logger.Debug("Dropping match with unknown id",
				infralogger.Int("post_id", int(m.PostID)),
				infralogger.Int("opportunity_id", int(m.OpportunityID)))
			continue
		}
		proposals = append(proposals, MatchProposal{
			PostID:        posts[postIdx].ID,
			OpportunityID: opps[oppIdx].ID,
			Confidence:    m.Confidence,
		})
	}
	return proposals, nil
}

// ClusterItem is a staged signal offered to the clusterer.
type ClusterItem struct {
	ID              string
	Title           string
	PainPoint       string
	OpportunityName string
}

// ClusterProposal is a group of posts the model believes share one problem.
type ClusterProposal struct {
	Name       string
	PainPoint  string
	PostIDs    []string
	Confidence float64
}

type clusterResponse struct {
	Clusters []struct {
		Name       string    `json:"name"`
		PainPoint  string    `json:"pain_point"`
		PostIDs    []shortID `json:"post_ids"`
		Confidence float64   `json:"confidence"`
	} `json:"clusters"`
}

// ProposeClusters asks the model to group items by shared problem. When the answer is empty or
// unparseable every item becomes its own low-confidence cluster.
func (c *Classifier) ProposeClusters(ctx context.Context, items []ClusterItem) ([]ClusterProposal, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if len(items) == 0 {
		return nil, nil
	}

	text, err := c.complete(ctx, opCluster, buildClusterPrompt(items))
	if err != nil {
		return nil, err
	}

	resp, parseErr := ParseModelJSON[clusterResponse](text)
	if parseErr != nil || resp.Clusters == nil {
		if parseErr != nil {
			c.logger.Warn("Cluster answer unparseable, using singleton clusters", infralogger.Error(parseErr))
		}
		return singletonClusters(items), nil
	}

	proposals := make([]ClusterProposal, 0, len(resp.Clusters))
	for _, cl := range resp.Clusters {
		ids := make([]string, 0, len(cl.PostIDs))
		for _, sid := range cl.PostIDs {
			idx := int(sid) - 1
			if idx < 0 || idx >= len(items) {
				continue
			}
			ids = append(ids, items[idx].ID)
		}
		proposals = append(proposals, ClusterProposal{
			Name:       cl.Name,
			PainPoint:  cl.PainPoint,
			PostIDs:    ids,
			Confidence: cl.Confidence,
		})
	}
	return proposals, nil
}

func singletonClusters(items []ClusterItem) []ClusterProposal {
	out := make([]ClusterProposal, 0, len(items))
	for _, it := range items {
		name := it.OpportunityName
		if name == "" {
			name = truncate(it.PainPoint, fallbackClusterNameLen)
		}
		out = append(out, ClusterProposal{
			Name:       name,
			PainPoint:  it.PainPoint,
			PostIDs:    []string{it.ID},
			Confidence: fallbackClusterConfidence,
		})
	}
	return out
}

// CheckConnection sends a trivial prompt and returns the model's reply.
func (c *Classifier) CheckConnection(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	reply, err := c.complete(ctx, opCheck, connectionCheckPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (c *Classifier) complete(ctx context.Context, op, prompt string) (string, error) {
	if waitErr := c.limiter.Wait(ctx); waitErr != nil {
		return "", fmt.Errorf("model rate limiter: %w", waitErr)
	}

	start := time.Now()
	var text string
	err := c.breaker.Execute(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var callErr error
		text, callErr = c.model.Complete(callCtx, prompt)
		return callErr
	})

	c.metrics.ObserveModelCall(op, callOutcome(err), time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%s call: %w", op, err)
	}
	return text, nil
}

func callOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
