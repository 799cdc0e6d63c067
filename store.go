package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/combo-overlay/backend/config"
	"github.com/onnwee/combo-overlay/backend/db"
	"github.com/onnwee/combo-overlay/backend/persist"
	"github.com/onnwee/combo-overlay/backend/server"
)

var errNATSDisconnected = errors.New("nats disconnected")

// openStore builds the configured state store with its readiness check and
// a close function.
func openStore(ctx context.Context, cfg *config.Config) (persist.Store, []server.ReadyCheck, func(), error) {
	switch cfg.StateBackend {
	case config.BackendPostgres:
		database, err := db.Connect(cfg.DBDsn)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}
		// Versioned migrations first; embedded SQL when the migrations directory is not shipped.
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
			if err := db.Migrate(ctx, database); err != nil {
				closeDB()
				return nil, nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		store := db.NewStateStore(database)
		return store, []server.ReadyCheck{{Name: "database", Fn: store.Ping}}, closeDB, nil

	case config.BackendRedis:
		store, err := persist.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		store.TTL = cfg.RedisTTL
		closeRedis := func() {
			if err := store.Close(); err != nil {
				slog.Error("failed to close redis", slog.Any("err", err))
			}
		}
		return store, []server.ReadyCheck{{Name: "redis", Fn: store.Ping}}, closeRedis, nil

	default:
		slog.Warn("using in-memory state store; overlay state is lost on restart")
		return persist.NewMemoryStore(), nil, func() {}, nil
	}
}
