// Package matcher attaches newly staged signals to existing opportunities that describe the
// same problem.
package matcher

import (
	"context"
	"fmt"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/classifier"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
)

// Store is the persistence the matcher needs.
type Store interface {
	ListMatchCandidates(ctx context.Context, limit int) ([]*domain.PendingSignal, error)
	ListRecentOpportunities(ctx context.Context, since time.Time, limit int) ([]*domain.Opportunity, error)
	AttachMatches(ctx context.Context, matches []domain.Match) (int, error)
}

// Proposer asks a model which posts match which opportunities.
type Proposer interface {
	Configured() bool
	ProposeMatches(
		ctx context.Context,
		opps []classifier.MatchOpportunity,
		posts []classifier.MatchPost,
	) ([]classifier.MatchProposal, error)
}

// Limits bounds one matching pass.
type Limits struct {
	MaxSignals       int
	MaxOpportunities int
	Window           time.Duration
	MinConfidence    float64
}

// Result summarizes one matching pass.
type Result struct {
	Matched int
	// OpportunityIDs are the opportunities that gained at least one link.
	OpportunityIDs []string
	// Unmatched are the ids of candidate signals left in staging.
	Unmatched []string
}

// Service runs matching passes.
type Service struct {
	store    Store
	proposer Proposer
	logger   infralogger.Logger
	now      func() time.Time
}

// NewService creates a matcher.
func NewService(store Store, proposer Proposer, logger infralogger.Logger) *Service {
	return &Service{
		store:    store,
		proposer: proposer,
		logger:   logger.With(infralogger.Component("matcher")),
		now:      time.Now,
	}
}

// Match proposes matches for the oldest staged signals and applies the accepted ones in one
// transaction. Without a configured model it does nothing.
func (s *Service) Match(ctx context.Context, limits Limits) (Result, error) {
	if s.proposer == nil || !s.proposer.Configured() {
		return Result{}, nil
	}

	candidates, err := s.store.ListMatchCandidates(ctx, limits.MaxSignals)
	if err != nil {
		return Result{}, fmt.Errorf("load match candidates: %w", err)
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	opps, err := s.store.ListRecentOpportunities(ctx, s.now().Add(-limits.Window), limits.MaxOpportunities)
	if err != nil {
		return Result{}, fmt.Errorf("load recent opportunities: %w", err)
	}
	if len(opps) == 0 {
		return Result{Unmatched: signalIDs(candidates)}, nil
	}

	proposals, err := s.proposer.ProposeMatches(ctx, toMatchOpportunities(opps), toMatchPosts(candidates))
	if err != nil {
		return Result{}, fmt.Errorf("propose matches: %w", err)
	}

	matches := accept(proposals, candidates, opps, limits.MinConfidence)
	if len(matches) == 0 {
		return Result{Unmatched: signalIDs(candidates)}, nil
	}

	attached, err := s.store.AttachMatches(ctx, matches)
	if err != nil {
		return Result{}, fmt.Errorf("attach matches: %w", err)
	}

	result := Result{Matched: attached}
	matchedSignals := make(map[string]struct{}, len(matches))
	touched := make(map[string]struct{})
	for _, m := range matches {
		matchedSignals[m.Signal.ID] = struct{}{}
		if _, seen := touched[m.OpportunityID]; !seen {
			touched[m.OpportunityID] = struct{}{}
			result.OpportunityIDs = append(result.OpportunityIDs, m.OpportunityID)
		}
	}
	for _, c := range candidates {
		if _, ok := matchedSignals[c.ID]; !ok {
			result.Unmatched = append(result.Unmatched, c.ID)
		}
	}

	s.logger.Info("Matched staged signals to existing opportunities",
		infralogger.Int("candidates", len(candidates)),
		infralogger.Int("accepted", len(matches)),
		infralogger.Int("attached", attached))
	return result, nil
}

// accept keeps proposals at or above minConfidence whose ids are known. A signal matches at most
// once; the first proposal naming it wins.
func accept(
	proposals []classifier.MatchProposal,
	candidates []*domain.PendingSignal,
	opps []*domain.Opportunity,
	minConfidence float64,
) []domain.Match {
	bySignal := make(map[string]*domain.PendingSignal, len(candidates))
	for _, c := range candidates {
		bySignal[c.ID] = c
	}
	knownOpp := make(map[string]struct{}, len(opps))
	for _, o := range opps {
		knownOpp[o.ID] = struct{}{}
	}

	used := make(map[string]struct{})
	var out []domain.Match
	for _, p := range proposals {
		if p.Confidence < minConfidence {
			continue
		}
		signal, ok := bySignal[p.PostID]
		if !ok {
			continue
		}
		if _, ok := knownOpp[p.OpportunityID]; !ok {
			continue
		}
		if _, dup := used[p.PostID]; dup {
			continue
		}
		used[p.PostID] = struct{}{}
		out = append(out, domain.Match{Signal: signal, OpportunityID: p.OpportunityID, Confidence: p.Confidence})
	}
	return out
}

func toMatchOpportunities(opps []*domain.Opportunity) []classifier.MatchOpportunity {
	out := make([]classifier.MatchOpportunity, len(opps))
	for i, o := range opps {
		description := o.Description
		if description == "" {
			description = o.Problem
		}
		out[i] = classifier.MatchOpportunity{ID: o.ID, Title: o.Title, Description: description}
	}
	return out
}

func toMatchPosts(signals []*domain.PendingSignal) []classifier.MatchPost {
	out := make([]classifier.MatchPost, len(signals))
	for i, s := range signals {
		out[i] = classifier.MatchPost{ID: s.ID, Title: s.Title, PainPoint: s.PainPoint}
	}
	return out
}

func signalIDs(signals []*domain.PendingSignal) []string {
	ids := make([]string, len(signals))
	for i, s := range signals {
		ids[i] = s.ID
	}
	return ids
}
