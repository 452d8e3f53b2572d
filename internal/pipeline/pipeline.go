// Package pipeline orchestrates the encode-and-publish loop for one model
// run. Each frame is handled in isolation: a frame that fails to encode or
// publish is logged and counted, and the rest of the run proceeds.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/encoder"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"
)

// Job is one frame awaiting encode and publish.
type Job struct {
	Key  domain.FrameKey
	Grid encoder.Grid
	Spec palette.Spec
}

// Source yields the jobs of a run in publish order. It returns io.EOF once
// the run is drained.
type Source interface {
	Next(ctx context.Context) (Job, error)
}

// Sink persists an encoded frame into the raster tree.
type Sink interface {
	PublishFrame(ctx context.Context, key domain.FrameKey, levels []raster.Plane, meta domain.FrameMeta) error
}

// Result summarizes one run of the pipeline.
type Result struct {
	Published int
	Failed    int
}

// Pipeline drives jobs from a source through the encoder into a sink.
type Pipeline struct {
	source  Source
	sink    Sink
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Pipeline with the given stages and observability.
func New(source Source, sink Sink, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{source: source, sink: sink, logger: logger, metrics: metrics}
}

// Run processes jobs until the source drains or the context is cancelled.
// The returned error reports source failures and cancellation only; per-frame
// failures land in Result.Failed.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	var res Result

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("pipeline stopping", "reason", err)
			return res, err
		}

		job, err := p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Info("run drained", "published", res.Published, "failed", res.Failed)
			return res, nil
		}
		if err != nil {
			return res, err
		}

		levels, meta, err := encoder.EncodeFrame(job.Key, job.Grid, job.Spec)
		if err != nil {
			p.logger.Warn("encode failed, skipping frame", "frame", job.Key.String(), "error", err)
			p.metrics.EncodeErrors.Inc()
			res.Failed++
			continue
		}
		p.metrics.FramesEncoded.Inc()

		if err := p.publishWithRetry(ctx, job.Key, levels, meta); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.logger.Error("publish failed, skipping frame", "frame", job.Key.String(), "error", err)
			p.metrics.PublishErrors.Inc()
			res.Failed++
			continue
		}
		p.metrics.FramesPublished.Inc()
		res.Published++
	}
}

// publishWithRetry retries transient publish failures with exponential
// backoff: start at 200ms, double each retry, cap at 5s.
func (p *Pipeline) publishWithRetry(ctx context.Context, key domain.FrameKey, levels []raster.Plane, meta domain.FrameMeta) error {
	const attempts = 4
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	var err error
	for i := 0; i < attempts; i++ {
		err = p.sink.PublishFrame(ctx, key, levels, meta)
		if err == nil || ctx.Err() != nil {
			return err
		}
		if i < attempts-1 {
			p.logger.Warn("publish attempt failed, retrying",
				"frame", key.String(), "attempt", i+1, "backoff", backoff, "error", err)
			if !sleepWithContext(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
