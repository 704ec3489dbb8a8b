// Package scheduler runs periodic scans, scoring passes and the stale-scan watchdog on cron specs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scan"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/scoring"
)

// Job names.
const (
	JobScan     = "scan"
	JobScoring  = "scoring"
	JobWatchdog = "watchdog"
)

// Scanner runs scans and fails stuck ones.
type Scanner interface {
	RunScan(ctx context.Context, sources []string) (*scan.Summary, error)
	FailStaleScans(ctx context.Context, maxAge time.Duration) ([]string, error)
}

// Scorer scores opportunities that have never been scored.
type Scorer interface {
	ScoreUnscored(ctx context.Context, limit int) (scoring.Summary, error)
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron       *cron.Cron
	parser     cron.Parser
	scanner    Scanner
	scorer     Scorer
	specs      config.ScheduleConfig
	staleAfter time.Duration
	scoreLimit int
	logger     infralogger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a scheduler. Jobs are registered by Start.
func New(scanner Scanner, scorer Scorer, specs config.ScheduleConfig, scanCfg config.ScanConfig, logger infralogger.Logger) *Scheduler {
	log := logger.With(infralogger.Component("scheduler"))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	adapter := cronLogger{logger: log}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		parser:     parser,
		scanner:    scanner,
		scorer:     scorer,
		specs:      specs,
		staleAfter: scanCfg.StaleAfter,
		scoreLimit: scanCfg.ScoreBatchLimit,
		logger:     log,
		entries:    make(map[string]cron.EntryID),
	}
}

// Start registers every job that is not switched off and starts the cron loop. Jobs run with a
// context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{name: JobScan, spec: s.specs.Scan, run: s.runScan},
		{name: JobScoring, spec: s.specs.Scoring, run: s.runScoring},
		{name: JobWatchdog, spec: s.specs.Watchdog, run: s.runWatchdog},
	}
	for _, j := range jobs {
		if disabled(j.spec) {
			s.logger.Info("Job disabled", infralogger.String("job", j.name))
			continue
		}
		if err := s.add(j.name, j.spec, j.run); err != nil {
			s.cancel()
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", infralogger.Int("jobs", len(s.entries)))
	return nil
}

func (s *Scheduler) add(name, spec string, run func(context.Context)) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse %s schedule %q: %w", name, spec, err)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() { run(s.ctx) }))

	s.mu.Lock()
	s.entries[name] = id
	s.mu.Unlock()

	s.logger.Info("Job scheduled",
		infralogger.String("job", name),
		infralogger.String("schedule", spec),
		infralogger.Time("next_run", schedule.Next(time.Now())))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// NextRuns reports when each registered job fires next.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) runScan(ctx context.Context) {
	summary, err := s.scanner.RunScan(ctx, nil)
	switch {
	case errors.Is(err, scan.ErrScanInProgress):
		s.logger.Info("Scheduled scan skipped, another scan is running")
	case err != nil:
		s.logger.Error("Scheduled scan failed", infralogger.Error(err))
	default:
		s.logger.Info("Scheduled scan finished",
			infralogger.ScanID(summary.ScanID),
			infralogger.Int("opportunities_found", summary.OpportunitiesFound))
	}
}

func (s *Scheduler) runScoring(ctx context.Context) {
	summary, err := s.scorer.ScoreUnscored(ctx, s.scoreLimit)
	if err != nil {
		s.logger.Error("Scheduled scoring failed", infralogger.Error(err))
		return
	}
	if summary.Total > 0 {
		s.logger.Info("Scored new opportunities",
			infralogger.Int("scored", summary.Rescored),
			infralogger.Int("validated", summary.Validated))
	}
}

func (s *Scheduler) runWatchdog(ctx context.Context) {
	ids, err := s.scanner.FailStaleScans(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("Stale scan check failed", infralogger.Error(err))
		return
	}
	if len(ids) > 0 {
		s.logger.Warn("Failed stale scans", infralogger.Strings("scan_ids", ids))
	}
}

func disabled(spec string) bool {
	return spec == "" || spec == "off"
}

// cronLogger routes cron's own logging through the service logger.
type cronLogger struct {
	logger infralogger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append(kvFields(keysAndValues), infralogger.Error(err))...)
}

func kvFields(kv []any) []infralogger.Field {
	fields := make([]infralogger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, infralogger.Any(key, kv[i+1]))
	}
	return fields
}
