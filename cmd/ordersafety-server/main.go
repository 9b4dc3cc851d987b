package main

import (
	"context"
	"fmt"
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

	"github.com/ehr/ordersafety/internal/config"
	"github.com/ehr/ordersafety/internal/domain/cds"
	"github.com/ehr/ordersafety/internal/domain/clinical"
	"github.com/ehr/ordersafety/internal/domain/delegation"
	"github.com/ehr/ordersafety/internal/domain/escalation"
	"github.com/ehr/ordersafety/internal/domain/identity"
	"github.com/ehr/ordersafety/internal/domain/inbox"
	"github.com/ehr/ordersafety/internal/domain/orders"
	"github.com/ehr/ordersafety/internal/platform/auth"
	"github.com/ehr/ordersafety/internal/platform/db"
	"github.com/ehr/ordersafety/internal/platform/fhirstore"
	"github.com/ehr/ordersafety/internal/platform/httperr"
	"github.com/ehr/ordersafety/internal/platform/lock"
	"github.com/ehr/ordersafety/internal/platform/middleware"
	"github.com/ehr/ordersafety/internal/platform/queue"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ordersafety-server",
		Short: "Clinical order safety and escalation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(escalationCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
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

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
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
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := db.NewMigrator(pool, db.Migrations).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
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
	}
	statusCmd.Flags().String("schema", db.SchemaName("default"), "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, pool, name); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func escalationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escalation",
		Short: "Escalation engine tasks",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate escalation rules once for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			if tenant == "" {
				tenant = cfg.DefaultTenant
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			a, err := buildApp(ctx, cfg, pool, logger)
			if err != nil {
				return err
			}
			defer a.close()

			return db.WithTenant(ctx, pool, tenant, func(ctx context.Context) error {
				report, err := a.engine.Run(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("tenant=%s skipped=%t rules=%d candidates=%d escalated=%d no_target=%d duplicates=%d message_failures=%d errors=%d\n",
					tenant, report.Skipped, report.RulesEvaluated, report.Candidates, report.Escalated,
					report.NoTarget, report.Duplicates, report.MessageFailures, report.Errors)
				return nil
			})
		},
	}
	runCmd.Flags().String("tenant", "", "Tenant identifier (defaults to DEFAULT_TENANT)")

	cmd.AddCommand(runCmd)
	return cmd
}

type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

// app holds the wired services and the optional integrations that need
// closing on shutdown.
type app struct {
	handlers []routeRegistrar
	engine   *escalation.Engine
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires repositories, services and handlers. The resource store,
// the broker and Redis are only dialled when configured.
func buildApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	a := &app{}
	tx := db.NewTxRunner(pool)

	identitySvc := identity.NewService(identity.NewUserRepo(pool), identity.NewPatientRepo(pool))
	clinicalSvc := clinical.NewService(clinical.NewMedicationRepo(pool), clinical.NewAllergyRepo(pool), identitySvc, tx, logger)
	delegationSvc := delegation.NewService(delegation.NewDelegationRepo(pool), delegation.NewOutOfOfficeRepo(pool), identitySvc, logger)
	inboxSvc := inbox.NewService(inbox.NewMessageRepo(pool), delegationSvc, logger)

	orderRepo := orders.NewOrderRepo(pool)
	checker := cds.NewChecker(cds.NewPatientState(clinicalSvc, orderRepo))

	var creator orders.ResourceCreator
	if cfg.FHIRSyncEnabled() {
		creator = fhirstore.New(fhirstore.Options{
			BaseURL:      cfg.FHIRBaseURL,
			Timeout:      cfg.FHIRTimeout,
			MaxRetries:   cfg.FHIRMaxRetries,
			RetryWait:    cfg.FHIRRetryWait,
			RetryMaxWait: cfg.FHIRRetryMaxWait,
		}, logger)
		logger.Info().Str("base_url", cfg.FHIRBaseURL).Msg("order sync to resource store enabled")
	}

	var publisher orders.Publisher
	if cfg.QueueEnabled() {
		p, err := queue.Dial(cfg.AMQPURL, cfg.OrderQueue, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := p.Close(); err != nil {
				logger.Warn().Err(err).Msg("close broker connection")
			}
		})
		publisher = p
		logger.Info().Str("queue", cfg.OrderQueue).Msg("order publishing enabled")
	}

	var locker escalation.Locker
	if cfg.EscalationLockEnabled() {
		rdb, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		locker = lock.NewRedisLocker(rdb)
	}

	ordersSvc := orders.NewService(orders.Deps{
		Orders:   orderRepo,
		Patients: identitySvc,
		Checker:  checker,
		Sync:     orders.NewFHIRSync(creator, logger),
		Publisher: orders.NewQueuePublish(publisher, orders.Endpoints{
			SendingApp:        cfg.HL7SendingApp,
			SendingFacility:   cfg.HL7SendingFacility,
			ReceivingApp:      cfg.HL7ReceivingApp,
			ReceivingFacility: cfg.HL7ReceivingFacility,
		}, logger),
		Messages:    inboxSvc,
		Tx:          tx,
		SignerRoles: cfg.SignerRoles,
	}, logger)

	ruleRepo := escalation.NewRuleRepo(pool)
	eventRepo := escalation.NewEventRepo(pool)
	escalationSvc := escalation.NewService(ruleRepo, eventRepo, identitySvc, logger)
	a.engine = escalation.NewEngine(escalation.EngineDeps{
		Rules:                  ruleRepo,
		Events:                 eventRepo,
		Results:                ordersSvc,
		Messages:               inboxSvc,
		Users:                  identitySvc,
		Resolver:               delegationSvc,
		Inbox:                  inboxSvc,
		Locker:                 locker,
		LockTTL:                cfg.EscalationLockTTL,
		Deduplicate:            cfg.EscalationDeduplicate,
		SkipEscalationMessages: cfg.EscalationSkipAlerts,
	}, logger)

	a.handlers = []routeRegistrar{
		identity.NewHandler(identitySvc),
		clinical.NewHandler(clinicalSvc),
		cds.NewHandler(checker),
		delegation.NewHandler(delegationSvc),
		inbox.NewHandler(inboxSvc),
		orders.NewHandler(ordersSvc),
		escalation.NewHandler(escalationSvc, a.engine),
	}
	return a, nil
}

// newServer builds the echo instance. Health endpoints sit outside the
// authenticated, tenant-scoped API group.
func newServer(cfg *config.Config, pool db.Pinger, tenant echo.MiddlewareFunc, a *app, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.Handler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", auth.DevUserIDHeader, auth.DevUserRolesHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		logger.Warn().Msg("development auth enabled: identity is taken from request headers")
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1", authMW)
	if tenant != nil {
		apiV1.Use(tenant)
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	for _, h := range a.handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		l := newLogger(nil)
		l.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := buildApp(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialise services")
		return err
	}
	defer a.close()

	e := newServer(cfg, pool, db.TenantMiddleware(pool, cfg.DefaultTenant), a, logger)

	if cfg.EscalationInterval > 0 {
		go a.engine.RunEvery(ctx, cfg.EscalationInterval, func(ctx context.Context, run func(context.Context) error) error {
			return db.WithTenant(ctx, pool, cfg.DefaultTenant, run)
		})
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
