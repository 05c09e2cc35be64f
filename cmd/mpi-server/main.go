package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mpi/mpi/internal/config"
	"github.com/mpi/mpi/internal/domain/contact"
	"github.com/mpi/mpi/internal/domain/demographic"
	"github.com/mpi/mpi/internal/domain/identifier"
	"github.com/mpi/mpi/internal/domain/link"
	"github.com/mpi/mpi/internal/domain/matching"
	"github.com/mpi/mpi/internal/domain/patient"
	"github.com/mpi/mpi/internal/platform/audit"
	"github.com/mpi/mpi/internal/platform/auth"
	"github.com/mpi/mpi/internal/platform/crypto"
	"github.com/mpi/mpi/internal/platform/db"
	"github.com/mpi/mpi/internal/platform/middleware"
	"github.com/mpi/mpi/internal/platform/temporal"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mpi-server",
		Short: "Master Patient Index API Server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MPI API server",
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
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	hasher, encryptor, err := buildPIIKeys(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PII keys")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewStructValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	runner := &db.PoolRunner{Pool: pool}

	// Audit trail
	auditor := audit.NewEmitter(audit.NewPGStore(pool), cfg.AuditBufferSize, logger)
	auditCtx, auditCancel := context.WithCancel(ctx)
	defer auditCancel()
	auditDone := make(chan struct{})
	go func() {
		auditor.Run(auditCtx)
		close(auditDone)
	}()

	// Patient anchors
	patientRepo := patient.NewPatientRepoPG(pool)
	patientSvc := patient.NewService(patientRepo)
	patientSvc.SetAuditor(auditor)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)

	// Versioned demographics
	nameStore := temporal.NewStore("patient_name", demographic.NewNameRepoPG(pool), runner, logger)
	demoStore := temporal.NewStore("patient_demographics", demographic.NewDemographicsRepoPG(pool), runner, logger)
	demoSvc := demographic.NewService(nameStore, demoStore)
	demoSvc.SetAuditor(auditor)
	demographic.NewHandler(demoSvc).RegisterRoutes(apiV1)

	// Versioned identifiers
	identRepo := identifier.NewIdentifierRepoPG(pool)
	identStore := temporal.NewStore[*identifier.Identifier]("patient_identifier", identRepo, runner, logger)
	identSvc := identifier.NewService(identStore, identRepo, hasher, encryptor)
	identSvc.SetAuditor(auditor)
	identifier.NewHandler(identSvc).RegisterRoutes(apiV1)

	// Versioned contact details
	pointStore := temporal.NewStore("patient_contact_point", contact.NewContactPointRepoPG(pool), runner, logger)
	addressStore := temporal.NewStore("patient_address", contact.NewAddressRepoPG(pool), runner, logger)
	contactSvc := contact.NewService(pointStore, addressStore)
	contactSvc.SetAuditor(auditor)
	contact.NewHandler(contactSvc).RegisterRoutes(apiV1)

	// Probabilistic matching and the candidate ledger
	matchSvc := matching.NewService(
		matching.NewCandidateIndexPG(pool),
		matching.NewLedgerRepoPG(pool),
		matching.NewConfigRepoPG(pool),
		matching.NewSubjectLoader(demoSvc, identSvc),
		runner, logger)
	matchSvc.SetAuditor(auditor)
	matchSvc.SetDefaultThresholds(
		decimal.NewFromFloat(cfg.MatchMinConfidence),
		decimal.NewFromFloat(cfg.MatchAutoLinkThreshold))
	if err := matchSvc.LoadConfig(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load match configuration")
	}
	matching.NewHandler(matchSvc).RegisterRoutes(apiV1)

	// Link graph
	linkSvc := link.NewService(link.NewLinkRepoPG(pool), patientRepo, runner, logger)
	linkSvc.SetAuditor(auditor)
	link.NewHandler(linkSvc).RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting MPI server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Stop the audit worker last so in-flight events drain.
	auditCancel()
	<-auditDone

	return nil
}

// buildPIIKeys decodes the configured hash and encryption keys. In
// development with no keys set, throwaway keys are generated so the
// server still runs; identifiers encrypted with them do not survive a
// restart.
func buildPIIKeys(cfg *config.Config) (*crypto.Hasher, *crypto.Encryptor, error) {
	hashKey, err := decodeOrGenerate(cfg.PIIHashKey, cfg.IsDev())
	if err != nil {
		return nil, nil, fmt.Errorf("PII_HASH_KEY: %w", err)
	}
	encKey, err := decodeOrGenerate(cfg.PIIEncryptionKey, cfg.IsDev())
	if err != nil {
		return nil, nil, fmt.Errorf("PII_ENCRYPTION_KEY: %w", err)
	}

	hasher, err := crypto.NewHasher(hashKey)
	if err != nil {
		return nil, nil, err
	}
	encryptor, err := crypto.NewEncryptor(encKey)
	if err != nil {
		return nil, nil, err
	}
	return hasher, encryptor, nil
}

func decodeOrGenerate(hexKey string, dev bool) ([]byte, error) {
	if hexKey != "" {
		return hex.DecodeString(hexKey)
	}
	if !dev {
		return nil, fmt.Errorf("key is required outside development")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
