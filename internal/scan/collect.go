package scan

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/domain"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/sources"
)

// collect runs every adapter with bounded concurrency. A failing or panicking adapter is
// recorded in the results and never aborts the others. Signals are returned in adapter order.
func (o *Orchestrator) collect(
	ctx context.Context,
	adapters []sources.Adapter,
	params sources.Params,
	concurrency int,
) ([]domain.RawSignal, domain.SourceResults) {
	results := make(domain.SourceResults, len(adapters))
	batches := make([][]domain.RawSignal, len(adapters))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, adapter := range adapters {
		g.Go(func() error {
			name := adapter.Name()
			start := o.now()
			items, err := safeCollect(gctx, adapter, params)
			elapsed := o.now().Sub(start)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = domain.SourceResult{
					Status:     domain.SourceFailed,
					Message:    err.Error(),
					DurationMS: elapsed.Milliseconds(),
				}
				o.metrics.ObserveSource(name, domain.SourceFailed, 0)
				o.logger.Warn("Source collection failed",
					infralogger.Source(name),
					infralogger.Duration("duration", elapsed),
					infralogger.Error(err))
				return nil
			}

			batches[i] = items
			results[name] = domain.SourceResult{
				Status:     domain.SourceCompleted,
				Count:      len(items),
				DurationMS: elapsed.Milliseconds(),
			}
			o.metrics.ObserveSource(name, domain.SourceCompleted, len(items))
			o.logger.Info("Source collected",
				infralogger.Source(name),
				infralogger.Int("items", len(items)),
				infralogger.Duration("duration", elapsed))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Error("Source collection aborted", infralogger.Error(err))
	}

	var all []domain.RawSignal
	for _, batch := range batches {
		all = append(all, batch...)
	}
	return all, results
}

// safeCollect turns an adapter panic into an error for that source.
func safeCollect(ctx context.Context, adapter sources.Adapter, params sources.Params) (items []domain.RawSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Collect(ctx, params)
}

// recordSkipped adds a skipped entry for each requested source that will not run.
func recordSkipped(results domain.SourceResults, infos []sources.Info, requested []string, selected []sources.Adapter) {
	running := make(map[string]struct{}, len(selected))
	for _, a := range selected {
		running[a.Name()] = struct{}{}
	}
	wanted := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		wanted[name] = struct{}{}
	}

	for _, info := range infos {
		if _, ok := running[info.Name]; ok {
			continue
		}
		if _, ok := wanted[info.Name]; len(requested) > 0 && !ok {
			continue
		}
		results[info.Name] = domain.SourceResult{Status: domain.SourceSkipped, Message: skipReason(info)}
	}
}

func skipReason(info sources.Info) string {
	switch {
	case info.Error != "":
		return info.Error
	case !info.Enabled:
		return "disabled"
	case !info.ConfigValid:
		return "missing configuration"
	default:
		return "not selected"
	}
}
