// Package cluster promotes groups of staged signals that describe the same problem into new
// opportunities once enough independent posts agree.
package cluster

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/lib/pq"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/classifier"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

const (
	maxInitialScore = 100
	minCandidates   = 2
)

// Store is the persistence the clusterer needs.
type Store interface {
	ListClusterCandidates(ctx context.Context, limit int) ([]*domain.PendingSignal, error)
	PromoteCluster(ctx context.Context, promo domain.ClusterPromotion) (string, error)
}

// Proposer groups pain points using a model.
type Proposer interface {
	Configured() bool
	ProposeClusters(ctx context.Context, items []classifier.ClusterItem) ([]classifier.ClusterProposal, error)
}

// Limits bounds one clustering pass.
type Limits struct {
	MaxBatch      int
	MinMembers    int
	MinConfidence float64
}

// Result summarizes one clustering pass.
type Result struct {
	Created        int
	OpportunityIDs []string
	Promoted       int
}

// Service runs clustering passes.
type Service struct {
	store    Store
	proposer Proposer
	logger   infralogger.Logger
	newTag   func() string
}

// NewService creates a clusterer.
func NewService(store Store, proposer Proposer, logger infralogger.Logger) *Service {
	return &Service{
		store:    store,
		proposer: proposer,
		logger:   logger.With(infralogger.Component("cluster")),
		newTag:   func() string { return uuid.NewString() },
	}
}

// Cluster groups classified staged signals and promotes each corroborated group in its own
// transaction. A failed promotion is logged and the remaining clusters still run.
func (s *Service) Cluster(ctx context.Context, limits Limits) (Result, error) {
	if s.proposer == nil || !s.proposer.Configured() {
		return Result{}, nil
	}
	if limits.MinMembers < minCandidates {
		limits.MinMembers = minCandidates
	}

	candidates, err := s.store.ListClusterCandidates(ctx, limits.MaxBatch)
	if err != nil {
		return Result{}, fmt.Errorf("load cluster candidates: %w", err)
	}
	signals := make([]*domain.PendingSignal, 0, len(candidates))
	for _, c := range candidates {
		if c.Classified() {
			signals = append(signals, c)
		}
	}
	if len(signals) < minCandidates {
		return Result{}, nil
	}

	proposals, err := s.proposer.ProposeClusters(ctx, toItems(signals))
	if err != nil {
		return Result{}, fmt.Errorf("propose clusters: %w", err)
	}

	var result Result
	for _, promo := range s.plan(proposals, signals, limits) {
		id, promoteErr := s.store.PromoteCluster(ctx, promo)
		if promoteErr != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			s.logger.Error("Failed to promote cluster",
				infralogger.String("title", promo.Opportunity.Title),
				infralogger.Int("members", len(promo.Members)),
				infralogger.Error(promoteErr))
			continue
		}
		result.Created++
		result.Promoted += len(promo.Members)
		result.OpportunityIDs = append(result.OpportunityIDs, id)
		s.logger.Info("Promoted cluster to opportunity",
			infralogger.String("opportunity_id", id),
			infralogger.String("title", promo.Opportunity.Title),
			infralogger.Int("members", len(promo.Members)))
	}
	return result, nil
}

// plan turns proposals into promotions. Members are resolved in proposal order and a signal
// claimed by an earlier cluster is not counted again.
func (s *Service) plan(
	proposals []classifier.ClusterProposal,
	signals []*domain.PendingSignal,
	limits Limits,
) []domain.ClusterPromotion {
	byID := make(map[string]*domain.PendingSignal, len(signals))
	for _, sig := range signals {
		byID[sig.ID] = sig
	}

	consumed := make(map[string]struct{})
	var out []domain.ClusterPromotion
	for _, p := range proposals {
		if p.Confidence < limits.MinConfidence {
			continue
		}
		members := make([]*domain.PendingSignal, 0, len(p.PostIDs))
		seen := make(map[string]struct{}, len(p.PostIDs))
		for _, id := range p.PostIDs {
			sig, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			if _, taken := consumed[id]; taken {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, sig)
		}
		if len(members) < limits.MinMembers {
			continue
		}
		for _, m := range members {
			consumed[m.ID] = struct{}{}
		}
		out = append(out, domain.ClusterPromotion{
			Opportunity: s.newOpportunity(p, members),
			Members:     members,
		})
	}
	return out
}

func (s *Service) newOpportunity(p classifier.ClusterProposal, members []*domain.PendingSignal) domain.Opportunity {
	first := members[0]

	title := p.Name
	if title == "" {
		title = first.OpportunityName
	}
	if title == "" {
		title = first.Title
	}
	problem := p.PainPoint
	if problem == "" {
		problem = first.PainPoint
	}

	var engagement float64
	var sourceTypes pq.StringArray
	seenTypes := make(map[string]struct{})
	for _, m := range members {
		engagement += m.Metrics.Upvotes() + m.Metrics.Comments()
		if _, ok := seenTypes[m.SourceType]; ok || m.SourceType == "" {
			continue
		}
		seenTypes[m.SourceType] = struct{}{}
		sourceTypes = append(sourceTypes, m.SourceType)
	}
	score := initialScore(engagement)

	return domain.Opportunity{
		Title:        domain.TruncateRunes(title, domain.MaxTitleLength),
		Description:  problem,
		Problem:      problem,
		Category:     first.Category,
		Score:        &score,
		MentionCount: len(members),
		SourceTypes:  sourceTypes,
		ClusterID:    s.newTag(),
	}
}

func toItems(signals []*domain.PendingSignal) []classifier.ClusterItem {
	items := make([]classifier.ClusterItem, len(signals))
	for i, sig := range signals {
		items[i] = classifier.ClusterItem{
			ID:              sig.ID,
			Title:           sig.Title,
			PainPoint:       sig.PainPoint,
			OpportunityName: sig.OpportunityName,
		}
	}
	return items
}

// initialScore bounds summed engagement to the opportunity score range.
func initialScore(engagement float64) int {
	return int(math.Max(0, math.Min(maxInitialScore, engagement)))
}
