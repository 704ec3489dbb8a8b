// Package scan runs the ingestion pipeline: collect, enrich, dedup and filter, classify, stage,
// match, cluster, expire and score, recording each step on a Scan record.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/classifier"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/cluster"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/database"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/matcher"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/staging"
)

// Progress checkpoints.
const (
	progressStarted   = 5
	progressCollected = 15
	progressEnriched  = 25
	progressFiltered  = 30
	progressClassify  = 32
	progressClassEnd  = 75
	progressMatched   = 78
	progressClustered = 85
	progressExpired   = 92
	progressScoring   = 95
	progressDone      = 100
)

// ScanStore persists scan records.
type ScanStore interface {
	CreateScan(ctx context.Context) (*domain.Scan, error)
	MarkScanRunning(ctx context.Context, id string) error
	UpdateScanProgress(ctx context.Context, id string, progress int, message string) error
	UpdateScanSources(ctx context.Context, id string, results domain.SourceResults) error
	CompleteScan(ctx context.Context, id string, stats domain.ScanStats, results domain.SourceResults) error
	FailScan(ctx context.Context, id, message string, stats domain.ScanStats, results domain.SourceResults) error
	GetScan(ctx context.Context, id string) (*domain.Scan, error)
	FailStaleScans(ctx context.Context, before time.Time, message string) ([]string, error)
}

// SourceCatalog resolves source names to runnable adapters.
type SourceCatalog interface {
	Select(names []string) ([]sources.Adapter, error)
	Infos() []sources.Info
}

// RulesSource provides the current filter rules.
type RulesSource interface {
	FilterRules(ctx context.Context) (domain.FilterRules, error)
}

// Classifier labels batches of posts.
type Classifier interface {
	ClassifyBatch(ctx context.Context, posts []classifier.Post, hints []string) []*domain.Classification
}

// Staging holds classified signals awaiting corroboration.
type Staging interface {
	Duplicates(ctx context.Context, urls []string) (map[string]struct{}, error)
	Add(ctx context.Context, signals []domain.PendingSignal) (int, error)
	Expire(ctx context.Context, ttl time.Duration) (int, error)
	Count(ctx context.Context) (int, error)
}

// Matcher attaches staged signals to existing opportunities.
type Matcher interface {
	Match(ctx context.Context, limits matcher.Limits) (matcher.Result, error)
}

// Clusterer promotes corroborated groups.
type Clusterer interface {
	Cluster(ctx context.Context, limits cluster.Limits) (cluster.Result, error)
}

// Scorer scores opportunities touched by a scan.
type Scorer interface {
	Config(ctx context.Context) (domain.ScoringConfig, error)
	ScoreWith(ctx context.Context, ids []string, cfg domain.ScoringConfig) (scoring.Summary, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Scans      ScanStore
	Catalog    SourceCatalog
	Rules      RulesSource
	Classifier Classifier
	Staging    Staging
	Matcher    Matcher
	Clusterer  Clusterer
	Scorer     Scorer
	Engagement *sources.EngagementScorer
	// Progress and Lock default to in-process implementations when nil.
	Progress ProgressStore
	Lock     Locker
	Metrics  *metrics.Metrics
	// DefaultSources is used when a scan names no sources. Empty means every runnable source.
	DefaultSources []string
}

// Summary is the outcome of a finished scan.
type Summary struct {
	ScanID             string               `json:"scan_id"`
	Status             domain.ScanStatus    `json:"status"`
	Stats              domain.ScanStats     `json:"stats"`
	Sources            domain.SourceResults `json:"sources"`
	OpportunitiesFound int                  `json:"opportunities_found"`
	Error              string               `json:"error,omitempty"`
}

// Status is what a status poll returns.
type Status struct {
	ScanID             string               `json:"scan_id"`
	Status             domain.ScanStatus    `json:"status"`
	Progress           int                  `json:"progress"`
	Message            string               `json:"message"`
	OpportunitiesFound int                  `json:"opportunities_found"`
	Stats              domain.ScanStats     `json:"stats"`
	Sources            domain.SourceResults `json:"sources,omitempty"`
	Error              string               `json:"error,omitempty"`
	StartedAt          *time.Time           `json:"started_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// Orchestrator drives scans.
type Orchestrator struct {
	scans          ScanStore
	catalog        SourceCatalog
	rules          RulesSource
	classifier     Classifier
	staging        Staging
	matcher        Matcher
	clusterer      Clusterer
	scorer         Scorer
	engagement     *sources.EngagementScorer
	progress       ProgressStore
	lock           Locker
	metrics        *metrics.Metrics
	defaultSources []string

	cfg    config.ScanConfig
	logger infralogger.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, cfg config.ScanConfig, logger infralogger.Logger) *Orchestrator {
	o := &Orchestrator{
		scans:          deps.Scans,
		catalog:        deps.Catalog,
		rules:          deps.Rules,
		classifier:     deps.Classifier,
		staging:        deps.Staging,
		matcher:        deps.Matcher,
		clusterer:      deps.Clusterer,
		scorer:         deps.Scorer,
		engagement:     deps.Engagement,
		progress:       deps.Progress,
		lock:           deps.Lock,
		metrics:        deps.Metrics,
		defaultSources: deps.DefaultSources,
		cfg:            cfg,
		logger:         logger.With(infralogger.Component("scan")),
		now:            time.Now,
	}
	if o.progress == nil {
		o.progress = nopProgress{}
	}
	if o.lock == nil {
		o.lock = &LocalLocker{}
	}
	if o.engagement == nil {
		o.engagement = sources.NewEngagementScorer(nil, nil)
	}
	return o
}

// RunScan runs a full scan and blocks until it finishes. An empty source list runs the default
// sources. The returned error is non-nil only when the scan could not start or failed.
func (o *Orchestrator) RunScan(ctx context.Context, sourceNames []string) (*Summary, error) {
	job, err := o.prepare(ctx, sourceNames)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, job)
}

// StartScan creates the scan and runs it in the background, returning its id immediately.
func (o *Orchestrator) StartScan(ctx context.Context, sourceNames []string) (string, error) {
	job, err := o.prepare(ctx, sourceNames)
	if err != nil {
		return "", err
	}

	runCtx := context.WithoutCancel(ctx)
	o.wg.Go(func() {
		if _, runErr := o.execute(runCtx, job); runErr != nil {
			o.logger.Error("Background scan failed",
				infralogger.ScanID(job.scanID),
				infralogger.Error(runErr))
		}
	})
	return job.scanID, nil
}

// Wait blocks until background scans finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type job struct {
	scanID    string
	requested []string
	adapters  []sources.Adapter
	lease     Lease
}

// prepare resolves sources, takes the scan lock and creates the pending scan record.
func (o *Orchestrator) prepare(ctx context.Context, sourceNames []string) (*job, error) {
	requested := sourceNames
	if len(requested) == 0 {
		requested = o.defaultSources
	}
	adapters, err := o.catalog.Select(requested)
	if err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}

	lease, err := o.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	scan, err := o.scans.CreateScan(ctx)
	if err != nil {
		o.release(lease)
		return nil, fmt.Errorf("create scan: %w", err)
	}
	return &job{scanID: scan.ID, requested: requested, adapters: adapters, lease: lease}, nil
}

func (o *Orchestrator) release(lease Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		o.logger.Warn("Failed to release scan lock", infralogger.Error(err))
	}
}

// keepLease extends the lock until stop is closed.
func (o *Orchestrator) keepLease(ctx context.Context, lease Lease, stop <-chan struct{}) {
	interval := o.cfg.LockTTL / 3
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lease.Extend(ctx); err != nil {
				o.logger.Warn("Failed to extend scan lock", infralogger.Error(err))
			}
		}
	}
}

// run tracks the mutable state of one scan.
type run struct {
	o       *Orchestrator
	scanID  string
	stats   domain.ScanStats
	sources domain.SourceResults
	logger  infralogger.Logger
}

func (o *Orchestrator) execute(ctx context.Context, j *job) (*Summary, error) {
	defer o.release(j.lease)
	stop := make(chan struct{})
	defer close(stop)
	go o.keepLease(ctx, j.lease, stop)

	start := o.now()
	r := &run{
		o:       o,
		scanID:  j.scanID,
		sources: domain.SourceResults{},
		logger:  o.logger.With(infralogger.ScanID(j.scanID)),
	}

	err := r.pipeline(ctx, j)
	elapsed := o.now().Sub(start)
	if err != nil {
		r.fail(ctx, err)
		o.metrics.ObserveScan(string(domain.ScanFailed), elapsed)
		return r.summary(domain.ScanFailed, err), err
	}

	o.metrics.ObserveScan(string(domain.ScanCompleted), elapsed)
	r.logger.Info("Scan completed",
		infralogger.Duration("duration", elapsed),
		infralogger.Int("collected", r.stats.Collected),
		infralogger.Int("pending_added", r.stats.PendingAdded),
		infralogger.Int("matched", r.stats.MatchedToExisting),
		infralogger.Int("new_opportunities", r.stats.NewOpportunities))
	return r.summary(domain.ScanCompleted, nil), nil
}

func (r *run) pipeline(ctx context.Context, j *job) error {
	o := r.o
	if err := o.scans.MarkScanRunning(ctx, r.scanID); err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	if err := r.stage(ctx, progressStarted, "Initializing scan"); err != nil {
		return err
	}

	rc, err := o.buildRunConfig(ctx)
	if err != nil {
		return err
	}

	// Collect.
	recordSkipped(r.sources, o.catalog.Infos(), j.requested, j.adapters)
	signals, results := o.collect(ctx, j.adapters, sources.Params{SignalPhrases: rc.SignalPhrases}, rc.CollectConcurrency)
	for name, res := range results {
		r.sources[name] = res
	}
	r.stats.Collected = len(signals)
	o.metrics.AddSignals(metrics.StageCollected, len(signals))
	if err = o.scans.UpdateScanSources(ctx, r.scanID, r.sources); err != nil {
		return fmt.Errorf("record source results: %w", err)
	}
	if err = r.stage(ctx, progressCollected,
		fmt.Sprintf("Collected %d signals from %d sources", len(signals), len(j.adapters))); err != nil {
		return err
	}

	// Enrich.
	o.engagement.Enrich(signals)
	if err = r.stage(ctx, progressEnriched, "Scored engagement"); err != nil {
		return err
	}

	// Dedup and filter.
	survivors, err := r.dedupAndFilter(ctx, signals, rc)
	if err != nil {
		return err
	}
	if err = r.stage(ctx, progressFiltered,
		fmt.Sprintf("%d signals passed dedup and filters", len(survivors))); err != nil {
		return err
	}

	// Classify.
	pending, err := r.classify(ctx, survivors, rc)
	if err != nil {
		return err
	}

	// Stage.
	added, err := o.staging.Add(ctx, pending)
	if err != nil {
		return fmt.Errorf("stage signals: %w", err)
	}
	r.stats.PendingAdded = added
	o.metrics.AddSignals(metrics.StageStaged, added)

	// Match.
	var scoreIDs []string
	matched, matchErr := o.matcher.Match(ctx, rc.Match)
	if matchErr != nil {
		r.logger.Warn("Matching failed, continuing", infralogger.Error(matchErr))
		matched = matcher.Result{}
	}
	r.stats.MatchedToExisting = matched.Matched
	o.metrics.AddPromotions("matched", matched.Matched)
	scoreIDs = append(scoreIDs, matched.OpportunityIDs...)
	if err = r.stage(ctx, progressMatched,
		fmt.Sprintf("Matched %d signals to existing opportunities", matched.Matched)); err != nil {
		return err
	}

	// Cluster.
	clustered, clusterErr := o.clusterer.Cluster(ctx, rc.Cluster)
	if clusterErr != nil {
		r.logger.Warn("Clustering failed, continuing", infralogger.Error(clusterErr))
		clustered = cluster.Result{}
	}
	r.stats.NewOpportunities = clustered.Created
	o.metrics.AddPromotions("clustered", clustered.Promoted)
	scoreIDs = append(scoreIDs, clustered.OpportunityIDs...)
	if err = r.stage(ctx, progressClustered,
		fmt.Sprintf("Created %d new opportunities", clustered.Created)); err != nil {
		return err
	}

	// Expire.
	expired, err := o.staging.Expire(ctx, rc.PendingTTL)
	if err != nil {
		return fmt.Errorf("expire pending signals: %w", err)
	}
	r.stats.Expired = expired
	o.metrics.AddSignals(metrics.StageExpired, expired)
	if err = r.stage(ctx, progressExpired, fmt.Sprintf("Expired %d stale signals", expired)); err != nil {
		return err
	}

	// Score.
	if rc.ScoreAfterScan && len(scoreIDs) > 0 {
		if err = r.stage(ctx, progressScoring, "Scoring opportunities"); err != nil {
			return err
		}
		summary, scoreErr := o.scorer.ScoreWith(ctx, scoreIDs, rc.Scoring)
		if scoreErr != nil {
			r.logger.Warn("Post-scan scoring failed", infralogger.Error(scoreErr))
		}
		r.stats.Scored = summary.Rescored
	}

	remaining, err := o.staging.Count(ctx)
	if err != nil {
		return fmt.Errorf("count pending signals: %w", err)
	}
	r.stats.PendingRemaining = remaining
	o.metrics.SetPending(remaining)

	if err = o.scans.CompleteScan(ctx, r.scanID, r.stats, r.sources); err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	r.publish(ctx, domain.ScanCompleted, progressDone, fmt.Sprintf("Scan complete: %d new, %d matched, %d scored",
		r.stats.NewOpportunities, r.stats.MatchedToExisting, r.stats.Scored))
	return nil
}

// dedupAndFilter drops signals without a usable URL, repeats within the batch, URLs already
// staged or linked, and signals the filter rejects.
func (r *run) dedupAndFilter(ctx context.Context, signals []domain.RawSignal, rc *RunConfig) ([]domain.RawSignal, error) {
	seen := make(map[string]struct{}, len(signals))
	unique := make([]domain.RawSignal, 0, len(signals))
	for i := range signals {
		u := signals[i].URL
		if u == "" {
			r.stats.Filtered++
			continue
		}
		if len(u) > domain.MaxURLLength {
			r.stats.Filtered++
			r.logger.Warn("Signal URL too long",
				infralogger.String("source", signals[i].SourceType),
				infralogger.Int("length", len(u)))
			continue
		}
		if _, dup := seen[u]; dup {
			r.stats.Duplicates++
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, signals[i])
	}

	urls := make([]string, len(unique))
	for i := range unique {
		urls[i] = unique[i].URL
	}
	known, err := r.o.staging.Duplicates(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("check duplicates: %w", err)
	}

	survivors := make([]domain.RawSignal, 0, len(unique))
	for i := range unique {
		if _, dup := known[unique[i].URL]; dup {
			r.stats.Duplicates++
			continue
		}
		if ok, reason := rc.Filter.Passes(&unique[i]); !ok {
			r.stats.Filtered++
			r.logger.Debug("Signal filtered",
				infralogger.String("url", unique[i].URL),
				infralogger.String("reason", reason))
			continue
		}
		survivors = append(survivors, unique[i])
	}

	r.o.metrics.AddSignals(metrics.StageDuplicate, r.stats.Duplicates)
	r.o.metrics.AddSignals(metrics.StageFiltered, r.stats.Filtered)
	return survivors, nil
}

// classify labels survivors in sequential batches. Signals the model rejects, or whose category
// is excluded, are dropped; the rest become pending rows, with or without a classification.
func (r *run) classify(ctx context.Context, survivors []domain.RawSignal, rc *RunConfig) ([]domain.PendingSignal, error) {
	pending := make([]domain.PendingSignal, 0, len(survivors))
	total := len(survivors)
	if total == 0 {
		return pending, r.stage(ctx, progressClassEnd, "No signals to classify")
	}

	filteredBefore := r.stats.Filtered
	for start := 0; start < total; start += rc.ClassifyBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+rc.ClassifyBatchSize, total)
		batch := survivors[start:end]

		posts := make([]classifier.Post, len(batch))
		for i := range batch {
			posts[i] = classifier.Post{Title: batch[i].Title, Content: batch[i].Description}
		}
		labels := r.o.classifier.ClassifyBatch(ctx, posts, rc.SignalPhrases)

		for i := range batch {
			var label *domain.Classification
			if i < len(labels) {
				label = labels[i]
			}
			if label != nil {
				r.stats.AIAnalyzed++
				if label.Rejected() {
					r.stats.AIRejected++
					continue
				}
				if rc.Filter.ExcludedCategory(label.Category) {
					r.stats.Filtered++
					continue
				}
			}
			pending = append(pending, staging.FromRaw(&batch[i], label, r.scanID))
		}

		pct := progressClassify + (progressClassEnd-progressClassify)*end/total
		if err := r.stage(ctx, pct, fmt.Sprintf("Classified %d of %d signals", end, total)); err != nil {
			return nil, err
		}
	}

	r.o.metrics.AddSignals(metrics.StageClassified, r.stats.AIAnalyzed)
	r.o.metrics.AddSignals(metrics.StageRejected, r.stats.AIRejected)
	r.o.metrics.AddSignals(metrics.StageFiltered, r.stats.Filtered-filteredBefore)
	return pending, nil
}

// stage records progress in the database and the progress cache.
func (r *run) stage(ctx context.Context, progress int, message string) error {
	if err := r.o.scans.UpdateScanProgress(ctx, r.scanID, progress, message); err != nil {
		return fmt.Errorf("update scan progress: %w", err)
	}
	r.publish(ctx, domain.ScanRunning, progress, message)
	r.logger.Info("Scan stage", infralogger.Int("progress", progress), infralogger.String("message", message))
	return nil
}

func (r *run) publish(ctx context.Context, status domain.ScanStatus, progress int, message string) {
	err := r.o.progress.Set(ctx, r.scanID, Progress{
		Status:    status,
		Progress:  progress,
		Message:   message,
		Stats:     r.stats,
		UpdatedAt: r.o.now(),
	})
	if err != nil {
		r.logger.Warn("Failed to publish scan progress", infralogger.Error(err))
	}
}

// fail records the error on the scan. Work already committed is kept. A scan that already
// reached a terminal state, for example through the stale-scan watchdog, keeps that state.
func (r *run) fail(ctx context.Context, cause error) {
	if errors.Is(cause, database.ErrScanNotRunning) {
		r.logger.Warn("Scan no longer running, stopping", infralogger.Error(cause))
		return
	}

	writeCtx := context.WithoutCancel(ctx)
	msg := cause.Error()
	if err := r.o.scans.FailScan(writeCtx, r.scanID, msg, r.stats, r.sources); err != nil {
		if errors.Is(err, database.ErrScanNotRunning) {
			r.logger.Warn("Scan already finished, failure not recorded", infralogger.Error(cause))
			return
		}
		r.logger.Error("Failed to record scan failure", infralogger.Error(err))
	}
	r.publish(writeCtx, domain.ScanFailed, 0, msg)
	r.logger.Error("Scan failed", infralogger.Error(cause))
}

func (r *run) summary(status domain.ScanStatus, err error) *Summary {
	s := &Summary{
		ScanID:             r.scanID,
		Status:             status,
		Stats:              r.stats,
		Sources:            r.sources,
		OpportunitiesFound: r.stats.OpportunitiesFound(),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// GetScanStatus reads live progress from the cache, falling back to the scan record.
func (o *Orchestrator) GetScanStatus(ctx context.Context, id string) (*Status, error) {
	if p, ok, err := o.progress.Get(ctx, id); err != nil {
		o.logger.Warn("Progress cache unavailable, reading scan record",
			infralogger.ScanID(id), infralogger.Error(err))
	} else if ok && !p.Status.Terminal() {
		return &Status{
			ScanID:             id,
			Status:             p.Status,
			Progress:           p.Progress,
			Message:            p.Message,
			OpportunitiesFound: p.Stats.OpportunitiesFound(),
			Stats:              p.Stats,
			UpdatedAt:          p.UpdatedAt,
		}, nil
	}

	scan, err := o.scans.GetScan(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
		}
		return nil, fmt.Errorf("load scan: %w", err)
	}

	status := &Status{
		ScanID:             scan.ID,
		Status:             scan.Status,
		Progress:           scan.Progress,
		Message:            scan.Message,
		OpportunitiesFound: scan.OpportunitiesFound,
		Stats:              scan.Stats,
		Sources:            scan.SourcesProcessed,
		StartedAt:          scan.StartedAt,
		CompletedAt:        scan.CompletedAt,
		UpdatedAt:          scan.UpdatedAt,
	}
	if scan.ErrorMessage != nil {
		status.Error = *scan.ErrorMessage
	}
	return status, nil
}

// FailStaleScans fails running scans whose last progress update is older than maxAge.
func (o *Orchestrator) FailStaleScans(ctx context.Context, maxAge time.Duration) ([]string, error) {
	msg := fmt.Sprintf("scan exceeded %s without progress", maxAge)
	ids, err := o.scans.FailStaleScans(ctx, o.now().Add(-maxAge), msg)
	if err != nil {
		return nil, fmt.Errorf("fail stale scans: %w", err)
	}
	for _, id := range ids {
		if setErr := o.progress.Set(ctx, id, Progress{Status: domain.ScanFailed, Message: msg, UpdatedAt: o.now()}); setErr != nil {
			o.logger.Warn("Failed to publish stale scan failure", infralogger.ScanID(id), infralogger.Error(setErr))
		}
		o.metrics.ObserveScan(string(domain.ScanFailed), maxAge)
		o.logger.Warn("Failed stale scan", infralogger.ScanID(id), infralogger.Duration("max_age", maxAge))
	}
	return ids, nil
}
