package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is a point-in-time view of the pgx pool.
type PoolStats struct {
	Total        int32   `json:"total"`
	Idle         int32   `json:"idle"`
	Acquired     int32   `json:"acquired"`
	Max          int32   `json:"max"`
	Acquires     int64   `json:"acquires"`
	AvgAcquireMS float64 `json:"avg_acquire_ms"`
}

func poolStats(stat *pgxpool.Stat) PoolStats {
	s := PoolStats{
		Total:    stat.TotalConns(),
		Idle:     stat.IdleConns(),
		Acquired: stat.AcquiredConns(),
		Max:      stat.MaxConns(),
		Acquires: stat.AcquireCount(),
	}
	if s.Acquires > 0 {
		s.AvgAcquireMS = float64(stat.AcquireDuration().Microseconds()) / float64(s.Acquires) / 1000
	}
	return s
}

// StoreHealth is the /health/db body. SnapshotTable tells whether the default
// tenant's feature_snapshots table exists, i.e. whether scoring can persist.
type StoreHealth struct {
	Status        string    `json:"status"`
	Tenant        string    `json:"tenant"`
	SnapshotTable bool      `json:"snapshot_table"`
	Detail        string    `json:"detail,omitempty"`
	Pool          PoolStats `json:"pool"`
}

// classify maps the snapshot table probe onto a status and HTTP code.
func classify(ready bool, err error) (status string, code int, detail string) {
	switch {
	case err != nil:
		return "unhealthy", http.StatusServiceUnavailable, err.Error()
	case !ready:
		return "unmigrated", http.StatusServiceUnavailable, provisionedTable + " missing, run `rcm-server migrate up`"
	default:
		return "healthy", http.StatusOK, ""
	}
}

// HealthHandler serves /health/db. The table lookup doubles as the ping.
func HealthHandler(pool *pgxpool.Pool, defaultTenant string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		ready, err := snapshotTableExists(ctx, pool, SchemaName(defaultTenant))
		body := StoreHealth{Tenant: defaultTenant, SnapshotTable: ready, Pool: poolStats(pool.Stat())}
		var code int
		body.Status, code, body.Detail = classify(ready, err)
		return c.JSON(code, body)
	}
}
