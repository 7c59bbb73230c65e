//go:build integration

// Package pgtest starts a disposable Postgres for integration tests and
// prepares school schemas in it.
package pgtest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/migrations"
)

type Handle struct {
	Pool    *pgxpool.Pool
	ConnStr string
	stop    func(context.Context) error
}

// Start runs postgres:16-alpine and opens a pool against it.
func Start(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("vaxportal"),
		postgres.WithUsername("vaxportal"),
		postgres.WithPassword("vaxportal"),
		tc.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(context.Background())
		return nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{DatabaseURL: connStr, MaxConns: 10, MinConns: 1, MaxConnLifetime: time.Hour})
	if err != nil {
		_ = pg.Terminate(context.Background())
		return nil, err
	}
	return &Handle{Pool: pool, ConnStr: connStr, stop: pg.Terminate}, nil
}

func (h *Handle) Close() {
	if h.Pool != nil {
		h.Pool.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
}

// NewSchool creates a uniquely named school with all migrations applied and
// drops it when the test ends.
func (h *Handle) NewSchool(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	schoolID := "t_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")

	migrator := db.NewMigrator(h.Pool, migrations.Files)
	if err := db.CreateSchoolSchema(ctx, h.Pool, schoolID, migrator); err != nil {
		t.Fatalf("create school %s: %v", schoolID, err)
	}
	t.Cleanup(func() {
		_, err := h.Pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", db.SchemaName(schoolID)))
		if err != nil {
			t.Logf("drop school %s: %v", schoolID, err)
		}
	})
	return schoolID
}

// SchoolContext acquires a connection pinned to the school's schema, the way
// the request middleware does, and releases it when the test ends.
func (h *Handle) SchoolContext(t *testing.T, schoolID string) context.Context {
	t.Helper()
	ctx := context.Background()
	conn, err := h.Pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	t.Cleanup(conn.Release)

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", db.SchemaName(schoolID))); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	ctx = context.WithValue(ctx, db.SchoolIDKey, schoolID)
	return context.WithValue(ctx, db.DBConnKey, conn)
}
