package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"factory-telemetry/internal/auth"
	"factory-telemetry/internal/config"
	"factory-telemetry/internal/observability/logging"
	"factory-telemetry/internal/storage/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "factory-telemetry",
		Short:         "Telemetry ingestion and rule evaluation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the MQTT subscriber, ingestion pipeline and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return migrate(cmd.Context(), cfg, logger)
		},
	})

	root.AddCommand(newTokenCmd(&configPath))
	return root
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		tenant  string
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("token: auth jwt secret is not configured")
			}
			normalized, ok := auth.NormalizeRole(role)
			if !ok {
				return fmt.Errorf("token: unknown role %q", role)
			}
			token, err := auth.IssueJWT([]byte(cfg.Auth.JWTSecret), tenant, normalized, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant slug")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func bootstrap(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:          cfg.Log.Level,
		Format:         cfg.Log.Format,
		ServiceName:    cfg.Log.ServiceName,
		FilePath:       cfg.Log.FilePath,
		FileMaxSizeMB:  cfg.Log.FileMaxSizeMB,
		FileMaxBackups: cfg.Log.FileMaxBackups,
		FileMaxAgeDays: cfg.Log.FileMaxAgeDays,
	})
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Storage.Driver != config.DriverPostgres {
		logger.Info("migrate skipped", zap.String("driver", cfg.Storage.Driver))
		return nil
	}
	db, err := postgres.Open(ctx, postgresOptions(cfg.Storage))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func postgresOptions(cfg config.StorageConfig) postgres.Options {
	return postgres.Options{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}
