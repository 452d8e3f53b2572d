// Command publish encodes one model run's grids into the raster tree. It is
// invoked by the orchestrator after the decode layer has dumped grid files
// and a frame-set descriptor:
//
//	go run ./cmd/publish -descriptor /data/hrrr/2026083112/frameset.json
//
// The run is declared via run.json before any frame publishes, each frame is
// encoded and published in isolation, and stale runs are evicted afterwards
// per RETENTION_RUNS. The exit code is nonzero only when no frame at all
// could be published.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	kafkaadapter "github.com/hawkstwelve/twf-models-sub001/internal/adapter/kafka"
	"github.com/hawkstwelve/twf-models-sub001/internal/config"
	"github.com/hawkstwelve/twf-models-sub001/internal/observability"
	"github.com/hawkstwelve/twf-models-sub001/internal/pipeline"
	"github.com/hawkstwelve/twf-models-sub001/internal/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("publish failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	descriptorPath := flag.String("descriptor", "", "path to the frame-set descriptor JSON")
	flag.Parse()

	if *descriptorPath == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -descriptor")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	desc, err := pipeline.LoadDescriptor(*descriptorPath)
	if err != nil {
		return err
	}

	var notifier storage.Notifier
	if cfg.KafkaEnabled {
		kn := kafkaadapter.NewNotifier(cfg, metrics, logger)
		defer kn.Close() //nolint:errcheck
		notifier = kn
		logger.Info("frame-published notifications enabled", "topic", cfg.KafkaPublishTopic)
	}

	pub := storage.NewPublisher(cfg.RasterRoot, notifier, logger)
	if err := pub.BeginRun(desc.RunKey(), desc.Expected()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := pipeline.NewDescriptorSource(desc, filepath.Dir(*descriptorPath), logger)
	res, err := pipeline.New(source, pub, logger, metrics).Run(ctx)
	if err != nil {
		return err
	}

	retainer := storage.NewRetainer(cfg.RasterRoot, cfg.RetentionRuns, metrics, logger)
	if err := retainer.EvictStale(desc.Model, desc.Region); err != nil {
		// Retention failures never fail the publish: the next run retries.
		logger.Error("retention eviction failed", "error", err)
	}

	failed := res.Failed + source.Skipped
	logger.Info("run complete",
		"model", desc.Model, "region", desc.Region, "run", desc.Run,
		"published", res.Published, "failed", failed)
	if res.Published == 0 && failed > 0 {
		return fmt.Errorf("no frame published: %d failed", failed)
	}
	return nil
}
