package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
	// LogQueries enables statement tracing at debug level.
	LogQueries bool
}

func NewPool(ctx context.Context, cfg PoolConfig, logger zerolog.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.HealthCheckPeriod = time.Minute

	if cfg.LogQueries {
		pcfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zerologAdapter{logger: logger.With().Str("component", "pgx").Logger()},
			LogLevel: tracelog.LogLevelDebug,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// zerologAdapter forwards pgx trace events to zerolog.
type zerologAdapter struct {
	logger zerolog.Logger
}

func (a zerologAdapter) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var evt *zerolog.Event
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		evt = a.logger.Debug()
	case tracelog.LogLevelInfo:
		evt = a.logger.Info()
	case tracelog.LogLevelWarn:
		evt = a.logger.Warn()
	default:
		evt = a.logger.Error()
	}
	evt.Fields(data).Msg(msg)
}
