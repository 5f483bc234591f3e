package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/checkpoint"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/config"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/engine"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// #region checkpoints
// openCheckpoints builds the opener for the configured backend and checks
// that it is reachable before the engine starts.
func openCheckpoints(ctx context.Context, cfg config.CheckpointConfig, cl *closers) (checkpoint.Opener, error) {
	switch cfg.Backend {
	case "sqlite":
		s, err := checkpoint.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("checkpoint sqlite: %w", err)
		}
		if err := s.Close(); err != nil {
			return nil, fmt.Errorf("checkpoint sqlite: %w", err)
		}
		return checkpoint.SQLiteOpener(cfg.Path), nil
	case "file":
		if _, err := checkpoint.NewFileStore(cfg.Dir); err != nil {
			return nil, fmt.Errorf("checkpoint dir: %w", err)
		}
		return checkpoint.FileOpener(cfg.Dir), nil
	case "redis":
		rdb, err := dialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("checkpoint redis: %w", err)
		}
		cl.add(rdb.Close)
		return checkpoint.RedisOpener(rdb, cfg.RedisPrefix), nil
	case "memory":
		return checkpoint.NewMemStore().Opener(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// #endregion checkpoints

// #region sinks
// buildSinks returns the telemetry sinks the config enables.
func buildSinks(ctx context.Context, cfg config.TelemetryConfig, log *zap.Logger, cl *closers) ([]telemetry.Sink, error) {
	var sinks []telemetry.Sink
	if cfg.Log {
		sinks = append(sinks, telemetry.NewZapSink(log.Named("telemetry")))
	}
	if cfg.SQLitePath != "" {
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("telemetry sqlite: %w", err)
		}
		p, err := telemetry.NewProvenanceSink(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		cl.add(db.Close)
		sinks = append(sinks, p)
	}
	if cfg.RedisAddr != "" {
		rdb, err := dialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("telemetry redis: %w", err)
		}
		cl.add(rdb.Close)
		sinks = append(sinks, telemetry.NewRedisSink(rdb, cfg.RedisChannel, log))
	}
	return sinks, nil
}

// #endregion sinks

// #region helpers
func dialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping %s: %w", addr, err)
	}
	return rdb, nil
}

func newEngine(cfg config.Config, log *zap.Logger, open checkpoint.Opener, pub telemetry.Publisher) (*engine.Engine, error) {
	opts := engine.DefaultOptions()
	opts.Bounds = cfg.Bounds()
	opts.PolicyDefaults = cfg.PolicyDefaults()
	opts.HistoryLimit = cfg.Engine.HistoryLimit
	opts.Checkpoints = open
	opts.Telemetry = pub
	opts.Logger = log
	return engine.New(opts)
}

// #endregion helpers
