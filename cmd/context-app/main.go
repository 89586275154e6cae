package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/contextapp/internal/app"
	"github.com/ehr/contextapp/internal/ccow"
	"github.com/ehr/contextapp/internal/config"
	"github.com/ehr/contextapp/internal/contextsync"
	"github.com/ehr/contextapp/internal/directory"
	"github.com/ehr/contextapp/internal/domain/patient"
	"github.com/ehr/contextapp/internal/platform/db"
	"github.com/ehr/contextapp/internal/platform/display"
	"github.com/ehr/contextapp/internal/platform/metrics"
	"github.com/ehr/contextapp/internal/platform/middleware"
	"github.com/ehr/contextapp/internal/platform/session"
	"github.com/ehr/contextapp/internal/platform/transport"
	"github.com/ehr/contextapp/pkg/pagination"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "context-app",
		Short: "Clinical context participant and patient viewer",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(patientsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Join the common context and serve the patient viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg == nil || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if cfg != nil {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			logger = logger.Level(lvl)
		}
	}
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
}

// patientStore returns the Postgres repository when DATABASE_URL is set and
// the demo population otherwise. The pool is nil in the latter case.
func patientStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (patient.Repository, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return patient.NewMemoryRepo(patient.DemoPatients()...), nil, nil
	}
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return patient.NewRepo(pool), pool, nil
}

func sessionSecret(cfg *config.Config) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	// Patient API store
	repo, pool, err := patientStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}
	patientSvc := patient.NewService(repo, logger)

	mapping := directory.DefaultMapping()
	if cfg.ContextMapFile != "" {
		if mapping, err = directory.LoadMapping(cfg.ContextMapFile); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.ContextMapFile).Msg("failed to load context map")
		}
	}

	secret, err := sessionSecret(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare session secret")
	}
	sessions, err := session.NewManager(secret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session manager")
	}

	// Context participant
	httpClient := transport.New(&http.Client{Timeout: cfg.ContextCallTimeout}, logger)
	contextor := ccow.NewHTTPClient(httpClient, cfg.ContextorURL, cfg.ParticipantURL, logger)
	syncer := contextsync.New(contextor, contextsync.Config{
		ApplicationName: cfg.ApplicationName,
		Surveyable:      cfg.Surveyable,
		UserKey:         ccow.Key(cfg.ApplicationKey),
		PatientKey:      ccow.Key(cfg.PatientContextKey),
		CallTimeout:     cfg.ContextCallTimeout,
	}, logger, contextsync.WithResponder(app.SurveyResponder(cfg.SurveyResponse)))

	hub := display.NewHub(logger)
	view := display.New(hub, logger)
	dir := directory.New(httpClient, cfg.PatientAPIURL, cfg.PatientCacheTTL, logger)
	application := app.New(syncer, dir, view, httpClient, sessions, app.Options{
		Mapping:       mapping,
		Origin:        cfg.Origin(),
		LogoutURL:     cfg.LogoutURL,
		LogoutFormURL: cfg.LogoutFormURL,
		LoginRedirect: cfg.LoginURL(),
	}, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, cfg.AppURL("ccow"), cfg.AppURL("health"), cfg.AppURL("metrics")))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	root := e.Group(strings.TrimSuffix(cfg.AppURL(), "/"))

	root.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"state":  syncer.State().String(),
		})
	})
	if pool != nil {
		root.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.StatsOf(pool) }))
	}
	root.GET("/metrics", metrics.Handler())

	ccow.NewParticipantHandler(syncer, logger).RegisterRoutes(root.Group("/ccow"))
	display.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(root)

	api := root.Group("/api")
	patient.NewHandler(patientSvc).RegisterRoutes(api)
	app.NewHandler(application, sessions, cfg.SessionUserHeader).RegisterRoutes(api)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("contextor", cfg.ContextorURL).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return application.Run(gctx)
	})

	g.Go(func() error {
		// the patient list is served by this process
		if err := waitReady(gctx, httpClient, cfg.Origin()+cfg.AppURL("health")); err != nil {
			return nil
		}
		if err := application.Init(gctx); err != nil {
			logger.Error().Err(err).Msg("failed to initialize context application")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if st, err := syncer.Leave(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to leave common context")
		} else {
			logger.Info().Str("status", st.String()).Msg("left common context")
		}
		syncer.Close()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// waitReady polls url until it answers 200 or ctx ends.
func waitReady(ctx context.Context, client *transport.Client, url string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := client.Get(ctx, url, nil)
		if err == nil && resp.OK() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := connect(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, patient.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := connect(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, patient.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Inspect and seed the patient API store",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients served by the patient API",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			repo, pool, err := patientStore(ctx, cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			list, total, err := patient.NewService(repo, zerolog.Nop()).ListSummaries(ctx, pagination.Params{Limit: limit})
			if err != nil {
				return err
			}
			for _, s := range list {
				fmt.Printf("%-12s %s\n", s.ID, s.Name)
			}
			fmt.Printf("%d of %d patient(s)\n", len(list), total)
			return nil
		},
	}
	listCmd.Flags().Int("limit", 0, "Maximum number of patients to print (0 = all)")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Insert the demo patients into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			logger := newLogger(cfg)
			pool, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			n, err := patient.NewService(patient.NewRepo(pool), logger).Seed(ctx, patient.DemoPatients())
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Printf("Seeded %d patient(s).\n", n)
			return nil
		},
	})

	return cmd
}
