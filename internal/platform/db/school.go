package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SchoolIDKey contextKey = "school_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

var schoolIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a school's data.
func SchemaName(schoolID string) string {
	return fmt.Sprintf("school_%s", schoolID)
}

// SchoolMiddleware pins every request to its school's schema: it acquires a
// connection, sets search_path and stores the connection in the request
// context for the repositories to pick up.
func SchoolMiddleware(pool *pgxpool.Pool, defaultSchool string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			schoolID := extractSchoolID(c, defaultSchool)

			if !schoolIDPattern.MatchString(schoolID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid school identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(schoolID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "school resolution failed").SetInternal(err)
			}

			ctx = context.WithValue(ctx, SchoolIDKey, schoolID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("school_id", schoolID)

			return next(c)
		}
	}
}

func extractSchoolID(c echo.Context, defaultSchool string) string {
	if sid, ok := c.Get("jwt_school_id").(string); ok && sid != "" {
		return sid
	}

	if sid := c.Request().Header.Get("X-School-ID"); sid != "" {
		return sid
	}

	if sid := c.QueryParam("school_id"); sid != "" {
		return sid
	}

	return defaultSchool
}

// ConnFromContext retrieves the school-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// SchoolFromContext retrieves the school ID from context.
func SchoolFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SchoolIDKey).(string)
	return sid
}

// CreateSchoolSchema creates the schema for a school and, when migrator is
// non-nil, applies all migrations to it.
func CreateSchoolSchema(ctx context.Context, pool *pgxpool.Pool, schoolID string, migrator *Migrator) error {
	if !schoolIDPattern.MatchString(schoolID) {
		return fmt.Errorf("invalid school identifier: %s", schoolID)
	}

	schema := SchemaName(schoolID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
