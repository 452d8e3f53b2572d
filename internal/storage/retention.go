package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
)

// Retainer evicts superseded runs. Runs are always removed whole: the run
// directory is renamed into {root}/.trash first, which atomically removes the
// entire run from discovery, then deleted at leisure. A crash mid-delete
// leaves garbage only under .trash, never a half-visible manifest.
type Retainer struct {
	root    string
	keep    int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRetainer creates a Retainer keeping the newest keep runs per
// model/region. keep is clamped to at least 1.
func NewRetainer(root string, keep int, metrics *observability.Metrics, logger *slog.Logger) *Retainer {
	if keep < 1 {
		keep = 1
	}
	return &Retainer{root: root, keep: keep, logger: logger, metrics: metrics}
}

// EvictStale removes runs beyond the retention count for one model/region.
// Failures are collected as *domain.RetentionError values and never stop the
// remaining evictions; the next cycle retries whatever is left. It also
// sweeps any trash left by earlier interrupted cycles.
func (r *Retainer) EvictStale(model, region string) error {
	regionDir := filepath.Join(r.root, model, region)
	entries, err := os.ReadDir(regionDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &domain.RetentionError{
			Run: domain.RunKey{Model: model, Region: region},
			Err: err,
		}
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() && !Hidden(e.Name()) {
			runs = append(runs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))

	var errs []error
	for _, run := range runs[min(r.keep, len(runs)):] {
		key := domain.RunKey{Model: model, Region: region, Run: run}
		if err := r.evictRun(key); err != nil {
			r.metrics.RetentionErrors.Inc()
			errs = append(errs, err)
			continue
		}
		r.metrics.RunsEvicted.Inc()
		r.logger.Info("run evicted", "model", model, "region", region, "run", run)
	}

	r.sweepTrash()
	return errors.Join(errs...)
}

func (r *Retainer) evictRun(key domain.RunKey) error {
	trash := filepath.Join(r.root, trashDir)
	if err := os.MkdirAll(trash, 0o755); err != nil {
		return &domain.RetentionError{Run: key, Err: err}
	}

	// The rename is the eviction; deletion below is cleanup.
	staged := filepath.Join(trash, fmt.Sprintf("%s-%s-%s-%d",
		key.Model, key.Region, key.Run, domain.Now().UnixNano()))
	if err := os.Rename(RunDir(r.root, key), staged); err != nil {
		return &domain.RetentionError{Run: key, Err: err}
	}

	if err := os.RemoveAll(staged); err != nil {
		// Already invisible; the trash sweep retries the delete next cycle.
		r.logger.Warn("trash delete failed, will retry",
			"run", key.Run, "error", err)
	}
	return nil
}

// sweepTrash retries deletion of anything stranded in .trash by a previous
// crash or failed RemoveAll.
func (r *Retainer) sweepTrash() {
	trash := filepath.Join(r.root, trashDir)
	entries, err := os.ReadDir(trash)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(trash, e.Name())); err != nil {
			r.logger.Warn("trash sweep failed", "entry", e.Name(), "error", err)
		}
	}
}
