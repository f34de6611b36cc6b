package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusflow/technews/internal/config"
	"github.com/deusflow/technews/internal/retry"
	"github.com/deusflow/technews/internal/storage"
)

// OpenStore opens the backend selected by STORE_DRIVER. Postgres connects
// with retries since the database often starts alongside the bot.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		var st *storage.SQLStore
		err := retry.Do(ctx, retry.Config{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     true,
		}, func(ctx context.Context) error {
			var err error
			st, err = storage.OpenPostgres(ctx, cfg.DatabaseURL, log)
			if err != nil {
				log.Warn("postgres not ready", "error", err)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil

	case config.DriverFile:
		st, err := storage.OpenFileStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return st, nil

	default:
		st, err := storage.OpenSQLite(cfg.DatabaseURL, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	}
}
