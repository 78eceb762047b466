package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docscan/internal/events"
	"github.com/joseph-ayodele/docscan/internal/ingest"
	"github.com/joseph-ayodele/docscan/internal/server"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run the HTTP API and the background workers",
	Long: `Start the HTTP API (uploads, job polling, reports, artifacts and the
websocket stream), the worker pool, the grpc health endpoint and, when
configured, the drop-folder watcher, the AMQP event relay and the object
storage mirror.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.http_addr)")
	serveCmd.Flags().String("inbox", "", "Drop folder to watch (overrides watch.inbox)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if inbox, _ := cmd.Flags().GetString("inbox"); inbox != "" {
		cfg.Watch.Inbox = inbox
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.close(30 * time.Second)

	relay, closeRelay, err := buildRelay(ctx, a)
	if err != nil {
		logger.Error("failed to start event relay", "error", err)
		return err
	}
	defer closeRelay()

	monitor := server.NewHealthMonitor(a.detector, 30*time.Second, logger)
	gin.SetMode(gin.ReleaseMode)
	router := server.NewServer(a.jobs, a.reports, a.registry, a.layout, server.Health{
		QueueDepth: a.pool.Depth,
		Detector:   monitor.Status,
	}, logger).Router()
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docscan listening", "addr", cfg.Server.HTTPAddr, "media_root", a.layout.Root)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return monitor.Run(gctx) })
	if cfg.Server.GRPCHealthAddr != "" {
		g.Go(func() error { return monitor.Serve(gctx, cfg.Server.GRPCHealthAddr) })
	}

	snapshots, unsubscribe := a.registry.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		if err := relay.Run(gctx, snapshots); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.Watch.Inbox != "" {
		g.Go(func() error { return watchInbox(gctx, a) })
	}

	err = g.Wait()
	logger.Info("shutting down", "error", err)
	return err
}

// buildRelay attaches the AMQP publisher and the object storage mirror
// when they are configured.
func buildRelay(ctx context.Context, a *app) (*events.Relay, func(), error) {
	var opts []events.RelayOption
	closeFn := func() {}

	if a.cfg.Events.AMQPURL != "" {
		pub, err := events.DialRabbit(a.cfg.Events.AMQPURL, a.cfg.Events.Exchange, a.logger)
		if err != nil {
			return nil, closeFn, err
		}
		opts = append(opts, events.WithPublisher(pub))
		closeFn = func() {
			if err := pub.Close(); err != nil {
				a.logger.Warn("close event publisher", "error", err)
			}
		}
	}
	if a.cfg.Mirror.Endpoint != "" {
		mirror, err := storage.NewMinioMirror(ctx, storage.MirrorOptions{
			Endpoint:  a.cfg.Mirror.Endpoint,
			Bucket:    a.cfg.Mirror.Bucket,
			AccessKey: a.cfg.Mirror.AccessKey,
			SecretKey: a.cfg.Mirror.SecretKey,
			Secure:    a.cfg.Mirror.Secure,
		}, a.layout, a.logger)
		if err != nil {
			closeFn()
			return nil, func() {}, err
		}
		opts = append(opts, events.WithTerminalHook(mirror.MirrorJob))
	}
	return events.NewRelay(a.logger, opts...), closeFn, nil
}

// watchInbox submits every document that settles in the drop folder.
func watchInbox(ctx context.Context, a *app) error {
	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{a.cfg.Watch.Inbox},
		InitialScan: true,
		Debounce:    a.cfg.Watch.Debounce,
		Logger:      a.logger,
	})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok {
				a.logger.Warn("watch.error", "error", err)
			} else {
				errs = nil
			}
		case p, ok := <-paths:
			if !ok {
				return nil
			}
			job, err := a.jobs.SubmitPath(ctx, p)
			if err != nil {
				a.logger.Warn("watch.submit.failed", "path", p, "error", err)
				continue
			}
			a.logger.Info("watch.submitted", "path", p, "job_id", job.ID)
		}
	}
}
