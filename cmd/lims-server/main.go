package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medlab/lims/internal/config"
	"github.com/medlab/lims/internal/domain/account"
	"github.com/medlab/lims/internal/domain/catalog"
	"github.com/medlab/lims/internal/domain/inventory"
	"github.com/medlab/lims/internal/domain/invoice"
	"github.com/medlab/lims/internal/domain/patient"
	"github.com/medlab/lims/internal/domain/purchase"
	"github.com/medlab/lims/internal/domain/queue"
	"github.com/medlab/lims/internal/domain/reporting"
	"github.com/medlab/lims/internal/domain/sample"
	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/db"
	"github.com/medlab/lims/internal/platform/keylock"
	"github.com/medlab/lims/internal/platform/metrics"
	"github.com/medlab/lims/internal/platform/middleware"
	"github.com/medlab/lims/internal/platform/session"
	"github.com/medlab/lims/internal/platform/validate"
	"github.com/medlab/lims/internal/platform/websocket"
	"github.com/medlab/lims/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "lims-server",
		Short:        "Medical laboratory API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:        cfg.DatabaseURL,
		MaxConns:   cfg.DBMaxConns,
		MinConns:   cfg.DBMinConns,
		LogQueries: cfg.DBLogQueries,
	}, logger)
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

// newMigrator reads the directory named by --dir or MIGRATIONS_DIR,
// falling back to the schema compiled into the binary.
func newMigrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewMigrator(pool, dir)
	}
	return db.NewMigratorFS(pool, migrations.Files)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg.Env, os.Stderr))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := newMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg, newLogger(cfg.Env, os.Stderr))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := newMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			fullName, _ := cmd.Flags().GetString("full-name")
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			if fullName == "" {
				fullName = username
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env, os.Stderr)
			ctx := context.Background()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			users := account.NewUserRepo(pool)
			epochs := session.NewEpochStore(users, nil, cfg.SessionCacheTTL, logger)
			tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)
			revoked := session.NewMemoryRevocationStore(time.Hour)
			defer revoked.Close()

			svc := account.NewService(users, tokens, epochs, revoked, logger)
			u, err := svc.CreateAdmin(ctx, username, password, fullName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created administrator %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	createAdmin.Flags().String("username", "", "Login name")
	createAdmin.Flags().String("password", "", "Initial password")
	createAdmin.Flags().String("full-name", "", "Display name")
	cmd.AddCommand(createAdmin)

	return cmd
}

// server bundles the echo instance with what must be released on shutdown.
type server struct {
	echo    *echo.Echo
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer wires repositories, services and routes. rdb may be nil, in
// which case session state stays in process memory.
func newServer(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) *server {
	srv := &server{}
	metrics.Init()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.ErrorHandler
	srv.echo = e

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.Metrics())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Session state
	users := account.NewUserRepo(pool)
	epochs := session.NewEpochStore(users, rdb, cfg.SessionCacheTTL, logger)
	var revoked session.RevocationStore
	if rdb != nil {
		revoked = session.NewRedisRevocationStore(rdb)
	} else {
		mem := session.NewMemoryRevocationStore(5 * time.Minute)
		srv.closers = append(srv.closers, mem.Close)
		revoked = mem
	}
	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)

	// Auth middleware
	authMW := auth.JWTMiddleware(auth.JWTConfig{
		Tokens:  tokens,
		Epochs:  epochs,
		Revoked: revoked,
		Skipper: auth.AuthSkipper,
		Logger:  logger,
	})
	if cfg.DevAuthActive() {
		logger.Warn().Msg("DEV_AUTH enabled: unauthenticated requests run as admin")
		authMW = auth.DevAuthMiddleware(authMW)
	}
	e.Use(authMW)

	// Audit middleware
	e.Use(middleware.Audit(logger))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	var pingers []db.Pinger
	if rdb != nil {
		pingers = append(pingers, db.Pinger{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	e.GET("/health/db", db.HealthHandler(pool, pingers...))
	e.GET("/metrics", metrics.Handler())

	// Live queue board
	hub := websocket.NewHub(logger)
	wsHandler := websocket.NewHandler(hub, cfg.CORSOrigins, func(topic string) bool {
		return strings.HasPrefix(topic, queue.TopicPrefix)
	})
	e.GET("/ws/queue", wsHandler.Serve)

	tx := db.NewTransactor(pool)
	loc := cfg.Location()

	// Accounts
	accountSvc := account.NewService(users, tokens, epochs, revoked, logger)
	account.NewHandler(accountSvc).RegisterRoutes(apiV1)

	// Patients
	patientSvc := patient.NewService(patient.NewPatientRepo(pool), logger)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Test catalog
	catalogSvc := catalog.NewService(catalog.NewCategoryRepo(pool), catalog.NewTestRepo(pool))
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)

	// Assignments and samples
	sampleSvc := sample.NewService(sample.NewAssignmentRepo(pool), sample.NewSampleRepo(pool), tx,
		catalogSvc, patientSvc, keylock.New(), logger)
	sample.NewHandler(sampleSvc).RegisterRoutes(apiV1)

	// Patient invoices
	invoiceSvc := invoice.NewService(invoice.NewInvoiceRepo(pool), tx, catalogSvc, patientSvc, sampleSvc, logger)
	printer := &invoice.Printer{LabName: cfg.LabName, Currency: cfg.Currency, Location: loc}
	invoice.NewHandler(invoiceSvc, printer).RegisterRoutes(apiV1)

	// Inventory and purchasing
	inventorySvc := inventory.NewService(inventory.NewMaterialRepo(pool), inventory.NewMovementRepo(pool), tx, loc, logger)
	inventory.NewHandler(inventorySvc).RegisterRoutes(apiV1)
	purchaseSvc := purchase.NewService(purchase.NewPurchaseRepo(pool), tx, inventorySvc, logger)
	purchase.NewHandler(purchaseSvc).RegisterRoutes(apiV1)

	// Queue
	queueSvc := queue.NewService(queue.NewEntryRepo(pool), tx, patientSvc, hub, loc, logger)
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)

	// Dashboard and reports
	reportSvc := reporting.NewService(reporting.NewSource(pool), loc, logger)
	reporting.NewHandler(reportSvc).RegisterRoutes(apiV1)

	return srv
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)

	ctx := context.Background()
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = session.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set: session cache and token revocations are local to this instance")
	}

	srv := newServer(cfg, pool, rdb, logger)
	defer srv.close()
	e := srv.echo

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

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
