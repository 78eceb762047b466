package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docscan/internal/async"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/detect"
	"github.com/joseph-ayodele/docscan/internal/export"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/pipeline"
	"github.com/joseph-ayodele/docscan/internal/registry"
	"github.com/joseph-ayodele/docscan/internal/render"
	"github.com/joseph-ayodele/docscan/internal/review"
	"github.com/joseph-ayodele/docscan/internal/server"
	"github.com/joseph-ayodele/docscan/internal/services/jobs"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// app is the fully wired processing stack shared by serve, process and batch.
type app struct {
	cfg      *common.Config
	logger   *slog.Logger
	layout   *storage.Layout
	registry *registry.Registry
	detector *detect.HTTPDetector
	pool     *async.Pool
	jobs     *jobs.Service
	reports  *export.Service

	closeStore func()
}

func policyFrom(cfg *common.Config) review.Policy {
	return review.Policy{
		LowConfidence:     cfg.Review.LowConfidence,
		DisplayThreshold:  cfg.Review.DisplayThreshold,
		TreatEmptyAsClear: cfg.Review.TreatEmptyAsClear,
	}
}

func newApp(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*app, error) {
	layout, err := storage.NewLayout(cfg.Media.Root, cfg.Media.URLPrefix, logger)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := server.ConnectStore(ctx, cfg.Store, layout, logger)
	if err != nil {
		return nil, err
	}

	policy := policyFrom(cfg)
	reg := registry.New(policy, logger, registry.WithStore(store))
	if _, err := reg.Rehydrate(ctx); err != nil {
		closeStore()
		return nil, err
	}

	detector, err := detect.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout, logger,
		detect.WithRateLimit(cfg.Detector.RPS),
	)
	if err != nil {
		closeStore()
		return nil, err
	}
	analyzer := detect.NewOrchestrator(detector, detect.NewZXingDecoder(logger), logger,
		detect.WithMinConfidence(cfg.Detector.MinConfidence),
		detect.WithQRStrict(cfg.Detector.QRStrict),
	)
	renderer := render.NewRenderer(logger,
		render.WithOpacity(cfg.Render.Opacity),
		render.WithHeatmap(cfg.Render.Heatmap),
	)
	rasterizer := ingest.NewFileRasterizer(ingest.Config{
		Pdftoppm: cfg.Raster.Pdftoppm,
		DPI:      cfg.Raster.DPI,
		MaxPages: cfg.Raster.MaxPages,
	}, logger)

	processor := pipeline.NewProcessor(logger, reg, layout, rasterizer, analyzer, renderer, policy, render.EncodePNG)
	pool := async.NewPool(processor, logger,
		async.WithWorkers(cfg.Workers.Count),
		async.WithQueueSize(cfg.Workers.QueueSize),
		async.WithProcessTimeout(cfg.Workers.JobTimeout),
	)

	return &app{
		cfg:        cfg,
		logger:     logger,
		layout:     layout,
		registry:   reg,
		detector:   detector,
		pool:       pool,
		jobs:       jobs.NewService(reg, layout, pool.Enqueue, logger),
		reports:    export.NewService(reg, policy.DisplayThreshold, logger),
		closeStore: closeStore,
	}, nil
}

// close drains the pool, then releases the store.
func (a *app) close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.pool.Shutdown(ctx)
	a.closeStore()
}
