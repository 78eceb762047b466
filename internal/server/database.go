package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/registry"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// ConnectStore opens the durable job store named by cfg.Driver. The
// returned close func is never nil.
func ConnectStore(ctx context.Context, cfg common.StoreConfig, layout *storage.Layout, logger *slog.Logger) (registry.Store, func(), error) {
	if cfg.Driver == "" || cfg.Driver == "file" {
		logger.Info("using manifest job store", "root", layout.Root)
		return registry.NewManifestStore(layout, logger), func() {}, nil
	}

	logger.Info("connecting to database", "driver", cfg.Driver)
	db, err := repo.Open(ctx, repo.Config{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, func() {}, err
	}
	if err := db.HealthCheck(ctx, 3*time.Second, logger); err != nil {
		db.Close(logger)
		return nil, func() {}, err
	}

	jobs := repo.NewJobRepository(db, logger)
	if err := jobs.Migrate(ctx); err != nil {
		logger.Error("failed to migrate job table", "error", err)
		db.Close(logger)
		return nil, func() {}, err
	}
	logger.Info("successfully connected to database")
	return jobs, func() { db.Close(logger) }, nil
}
