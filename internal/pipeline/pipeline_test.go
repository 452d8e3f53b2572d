package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hawkstwelve/twf-models-sub001/internal/domain"
	"github.com/hawkstwelve/twf-models-sub001/internal/encoder"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/palette"
	"github.com/hawkstwelve/twf-models-sub001/internal/raster"
)

type sliceSource struct {
	jobs []Job
	err  error
}

func (s *sliceSource) Next(_ context.Context) (Job, error) {
	if len(s.jobs) == 0 {
		if s.err != nil {
			return Job{}, s.err
		}
		return Job{}, io.EOF
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

type captureSink struct {
	published []domain.FrameKey
	attempts  int
	failFirst int
}

func (s *captureSink) PublishFrame(_ context.Context, key domain.FrameKey, _ []raster.Plane, _ domain.FrameMeta) error {
	s.attempts++
	if s.attempts <= s.failFirst {
		return errors.New("disk full")
	}
	s.published = append(s.published, key)
	return nil
}

func testJob(hour int) Job {
	grid := encoder.Grid{
		Data: make([]float64, 16),
		W:    4, H: 4,
		BBox: domain.BBox{West: -110, South: 30, East: -90, North: 50},
	}
	for i := range grid.Data {
		grid.Data[i] = 50
	}
	spec, _ := palette.Builtin("tmp2m")
	return Job{
		Key:  domain.FrameKey{Model: "hrrr", Region: "conus", Run: "2026083112", Variable: "tmp2m", Hour: hour},
		Grid: grid,
		Spec: spec,
	}
}

func newPipeline(source Source, sink Sink) *Pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(source, sink, logger, observability.NewMetricsForTesting())
}

func TestRunPublishesAllFrames(t *testing.T) {
	source := &sliceSource{jobs: []Job{testJob(0), testJob(1), testJob(2)}}
	sink := &captureSink{}

	res, err := newPipeline(source, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 3}, res)
	require.Len(t, sink.published, 3)
	assert.Equal(t, 0, sink.published[0].Hour)
	assert.Equal(t, 2, sink.published[2].Hour)
}

func TestRunIsolatesFailedFrames(t *testing.T) {
	bad := testJob(1)
	bad.Grid.Data = bad.Grid.Data[:3] // length no longer matches W*H
	source := &sliceSource{jobs: []Job{testJob(0), bad, testJob(2)}}
	sink := &captureSink{}

	res, err := newPipeline(source, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 2, Failed: 1}, res)
	require.Len(t, sink.published, 2)
	assert.Equal(t, 0, sink.published[0].Hour)
	assert.Equal(t, 2, sink.published[1].Hour)
}

func TestRunRetriesTransientPublish(t *testing.T) {
	source := &sliceSource{jobs: []Job{testJob(0)}}
	sink := &captureSink{failFirst: 2}

	res, err := newPipeline(source, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 1}, res)
	assert.Equal(t, 3, sink.attempts)
}

func TestRunCountsExhaustedRetries(t *testing.T) {
	source := &sliceSource{jobs: []Job{testJob(0)}}
	sink := &captureSink{failFirst: 100}

	res, err := newPipeline(source, sink).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, res)
	assert.Empty(t, sink.published)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &sliceSource{jobs: []Job{testJob(0)}}
	sink := &captureSink{}

	_, err := newPipeline(source, sink).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.published)
}

func TestRunPropagatesSourceErrors(t *testing.T) {
	source := &sliceSource{err: errors.New("descriptor unreadable")}
	sink := &captureSink{}

	_, err := newPipeline(source, sink).Run(context.Background())
	assert.EqualError(t, err, "descriptor unreadable")
}
