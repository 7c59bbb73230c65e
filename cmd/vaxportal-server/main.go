package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vaxportal/vaxportal/internal/config"
	"github.com/vaxportal/vaxportal/internal/domain/drive"
	"github.com/vaxportal/vaxportal/internal/domain/student"
	"github.com/vaxportal/vaxportal/internal/domain/vaccination"
	"github.com/vaxportal/vaxportal/internal/platform/auth"
	"github.com/vaxportal/vaxportal/internal/platform/db"
	"github.com/vaxportal/vaxportal/internal/platform/metrics"
	"github.com/vaxportal/vaxportal/internal/platform/middleware"
	"github.com/vaxportal/vaxportal/internal/platform/reporting"
	"github.com/vaxportal/vaxportal/migrations"
	"github.com/vaxportal/vaxportal/pkg/calendar"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "vaxportal-server",
		Short:         "School vaccination portal API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schoolCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for a school schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			school, _ := cmd.Flags().GetString("school")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				school = schoolOrDefault(school, cfg)
				migrator := db.NewMigrator(pool, migrationSource(cfg))
				count, err := migrator.Up(ctx, db.SchemaName(school))
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s.\n", count, db.SchemaName(school))
				return nil
			})
		},
	}
	upCmd.Flags().String("school", "", "School identifier (defaults to DEFAULT_SCHOOL)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			school, _ := cmd.Flags().GetString("school")
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				school = schoolOrDefault(school, cfg)
				migrator := db.NewMigrator(pool, migrationSource(cfg))
				statuses, err := migrator.Status(ctx, db.SchemaName(school))
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), db.SchemaName(school), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("school", "", "School identifier (defaults to DEFAULT_SCHOOL)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func schoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "school",
		Short: "Manage schools",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a school schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				migrator := db.NewMigrator(pool, migrationSource(cfg))
				if err := db.CreateSchoolSchema(ctx, pool, name, migrator); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "School %s ready in schema %s.\n", name, db.SchemaName(name))
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "School identifier (letters, digits, underscore)")
	cmd.AddCommand(createCmd)

	return cmd
}

func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

// rateLimitConfig overrides the defaults with RATE_LIMIT_RPS and
// RATE_LIMIT_BURST when they are set.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL:     cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	}
}

// migrationSource prefers MIGRATIONS_DIR when set, otherwise the SQL files
// compiled into the binary.
func migrationSource(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.Files
}

func schoolOrDefault(school string, cfg *config.Config) string {
	if school == "" {
		return cfg.DefaultSchool
	}
	return school
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "vaxportal").Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the router: operational endpoints at the root and the
// portal API under /api/v1, pinned per request to the caller's school.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := calendar.NewClock(loc, nil)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader, "X-School-ID"},
		ExposeHeaders: []string{echo.HeaderContentDisposition, middleware.RequestIDHeader},
	}))
	e.Use(middleware.SecurityHeaders())

	if cfg.IsDev() && cfg.AuthJWKSURL == "" && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("development mode: authentication disabled, all requests act as admin")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.Skipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api/v1",
		middleware.RateLimit(rateLimitConfig(cfg)),
		middleware.BodyLimit(cfg.BodyLimit),
		middleware.RequestTimeout(cfg.RequestTimeout),
		db.SchoolMiddleware(pool, cfg.DefaultSchool),
	)

	tx := db.NewTransactor(pool)
	studentRepo := student.NewRepoPG(pool)
	driveRepo := drive.NewRepoPG(pool)
	vaccinationRepo := vaccination.NewRepoPG(pool)

	student.NewHandler(student.NewService(studentRepo, tx)).RegisterRoutes(api)
	drive.NewHandler(drive.NewService(driveRepo, tx, clock, cfg.UpcomingWindowDays)).RegisterRoutes(api)
	vaccination.NewHandler(vaccination.NewService(vaccinationRepo, studentRepo, driveRepo, tx, clock)).RegisterRoutes(api)
	reporting.NewHandler(reporting.NewService(reporting.NewRepoPG(pool), clock, cfg.UpcomingWindowDays)).RegisterRoutes(api)

	return e, nil
}
