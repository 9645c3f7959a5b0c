package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// Pinger is a named dependency checked by the health endpoint.
type Pinger struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler pings the database and every extra dependency. Any failure
// turns the response into a 503.
func HealthHandler(pool *pgxpool.Pool, extra ...Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{}

		if err := pool.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
		for _, p := range extra {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks[p.Name] = err.Error()
				continue
			}
			checks[p.Name] = "ok"
		}

		label := "healthy"
		if status != http.StatusOK {
			label = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status": label,
			"checks": checks,
			"pool":   GetPoolStats(pool),
		})
	}
}
