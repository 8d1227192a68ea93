package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	_ "modernc.org/sqlite"

	audithook "github.com/xraph/bridge/audit_hook"
	"github.com/xraph/bridge/backend"
	"github.com/xraph/bridge/backend/httpclient"
	"github.com/xraph/bridge/backend/stub"
	"github.com/xraph/bridge/engine"
	"github.com/xraph/bridge/internal/config"
	"github.com/xraph/bridge/store"
	bunstore "github.com/xraph/bridge/store/bun"
	"github.com/xraph/bridge/store/memory"
	"github.com/xraph/bridge/store/mongo"
	"github.com/xraph/bridge/store/postgres"
	"github.com/xraph/bridge/store/redis"
)

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore connects the configured driver. The returned cleanup releases
// whatever the store does not own.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.New(), func() {}, nil

	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.StoreDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), func() { _ = db.Close() }, nil

	case config.DriverBunPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.StoreDSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), func() { _ = db.Close() }, nil

	case config.DriverRedis:
		opts, err := goredis.ParseURL(cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return redis.New(client, redis.WithLogger(logger)), func() { _ = client.Close() }, nil

	case config.DriverMongo:
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.StoreDSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		cleanup := func() { _ = client.Disconnect(context.Background()) }
		return mongo.New(client.Database(cfg.MongoDatabase), mongo.WithLogger(logger)), cleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newClient(cfg *config.Config, logger *slog.Logger) backend.Client {
	if cfg.BackendStub {
		logger.Warn("using the stub backend; no jobs reach a compute service")
		return stub.New()
	}
	opts := []httpclient.Option{
		httpclient.WithCodec(backend.GetCodec(cfg.BackendCodec)),
		httpclient.WithLogger(logger),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, httpclient.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.BackendToken != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "Bearer "+cfg.BackendToken))
	}
	return httpclient.New(cfg.BackendEndpoint, opts...)
}

// app is everything a command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   store.Store
	engine  *engine.Engine
	cleanup func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	opts := []engine.Option{
		engine.WithConfig(cfg.Bridge),
		engine.WithLogger(logger),
	}
	if !cfg.Watchdog {
		opts = append(opts, engine.WithoutWatchdog())
	}
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(newAuditHook(logger)))
	}
	eng, err := engine.New(st, newClient(cfg, logger), opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st, engine: eng, cleanup: cleanup}, nil
}

// newAuditHook writes audit events to the "audit" logger group.
func newAuditHook(logger *slog.Logger) *audithook.Extension {
	audit := logger.WithGroup("audit")
	rec := audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityCritical:
			level = slog.LevelError
		}
		audit.Log(ctx, level, evt.Action,
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
	return audithook.New(rec, audithook.WithLogger(logger))
}
