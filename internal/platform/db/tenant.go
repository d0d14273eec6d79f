package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
)

// provisionedTable marks a tenant schema as ready for scoring.
const provisionedTable = "feature_snapshots"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func snapshotTableExists(ctx context.Context, q rowQuerier, schema string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL",
		pgx.Identifier{schema, provisionedTable}.Sanitize()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("look up %s.%s: %w", schema, provisionedTable, err)
	}
	return ok, nil
}

// searchPath scopes unqualified table names to the tenant's schema.
func searchPath(tenantID string) string {
	return pgx.Identifier{SchemaName(tenantID)}.Sanitize() + ", public"
}

// TenantMiddleware pins one pooled connection to the request with its
// search_path set to the tenant schema. Tenants whose schema lacks
// feature_snapshots get a 404; a schema seen once is not checked again.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	var ready sync.Map

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID, source := resolveTenant(c, defaultTenant)
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, seen := ready.Load(tenantID); !seen {
				ok, err := snapshotTableExists(ctx, conn, SchemaName(tenantID))
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
				}
				if !ok {
					return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("tenant %q is not provisioned", tenantID))
				}
				ready.Store(tenantID, struct{}{})
			}

			if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", searchPath(tenantID)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}

			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			c.Set("tenant_source", source)

			return next(c)
		}
	}
}

// resolveTenant picks the tenant from the token claim, then X-Tenant-ID, then
// the tenant_id query parameter, then the default, and names where it came from.
func resolveTenant(c echo.Context, defaultTenant string) (tenantID, source string) {
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "" {
		return tid, "token"
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid, "header"
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid, "query"
	}
	return defaultTenant, "default"
}

// ConnFromContext returns the request's tenant-scoped connection, or nil
// outside TenantMiddleware.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// WithTenant attaches tenantID outside the HTTP path, e.g. in the CLI.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

func ValidTenantID(tenantID string) bool {
	return tenantIDPattern.MatchString(tenantID)
}

// ProvisionTenant creates the tenant schema and migrates it so scoring can
// persist snapshots there. It returns the number of migrations applied; nil
// files only creates the schema.
func ProvisionTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, files fs.FS, logger zerolog.Logger) (int, error) {
	if !ValidTenantID(tenantID) {
		return 0, fmt.Errorf("invalid tenant identifier %q", tenantID)
	}
	schema := SchemaName(tenantID)

	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return 0, fmt.Errorf("create schema %s: %w", schema, err)
	}
	logger.Info().Str("tenant_id", tenantID).Str("schema", schema).Msg("tenant schema ready")

	if files == nil {
		return 0, nil
	}
	applied, err := NewMigrator(pool, files, logger).Up(ctx, schema)
	if err != nil {
		return len(applied), fmt.Errorf("migrate %s: %w", schema, err)
	}
	return len(applied), nil
}
