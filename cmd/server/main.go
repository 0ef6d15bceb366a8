package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/logging"
	"github.com/KevinKickass/OpenWardCore/internal/provision"
	"github.com/KevinKickass/OpenWardCore/internal/storage"
	"github.com/KevinKickass/OpenWardCore/internal/system"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "openwardcore",
		Short: "Bed lifecycle and turnover orchestration engine",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(provisionCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "openwardcore")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects the configured backend. Postgres schemas are migrated
// when migrate is set.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (ward.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory storage, ward state is lost on exit")
		return storage.NewMemoryStore(), nil
	}

	db, err := storage.NewPostgresClient(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected successfully")

	if migrate {
		applied, err := db.Migrate(ctx)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Database migrations applied", zap.Int("count", applied))
	}
	return db, nil
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST, websocket and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			store, err := openStore(ctx, cfg, logger, migrate)
			if err != nil {
				return err
			}
			defer store.Close()

			lifecycle, err := system.NewLifecycleManager(store, cfg, logger)
			if err != nil {
				return err
			}
			if err := lifecycle.Start(ctx); err != nil {
				lifecycle.Shutdown(ctx)
				return fmt.Errorf("failed to start system: %w", err)
			}

			logger.Info("OpenWardCore started successfully")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigChan:
				logger.Info("Shutdown signal received")
			case <-lifecycle.Done():
				logger.Info("Shutdown requested via API")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := lifecycle.Shutdown(shutdownCtx); err != nil {
				logger.Error("Shutdown failed", zap.Error(err))
				return err
			}

			logger.Info("OpenWardCore stopped successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending database migrations on startup")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	connect := func(ctx context.Context) (*storage.PostgresClient, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Driver != "postgres" {
			return nil, fmt.Errorf("migrations need the postgres driver, config uses %q", cfg.Database.Driver)
		}
		return storage.NewPostgresClient(ctx, cfg.Database)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s)\n", applied)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := db.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied " + st.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%03d  %-30s %s\n", st.Version, st.Name, state)
			}
			return nil
		},
	})

	return cmd
}

func provisionCmd() *cobra.Command {
	var layoutPath string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Register the beds of a ward layout file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if layoutPath == "" {
				layoutPath = cfg.Provision.LayoutPath
			}
			if layoutPath == "" {
				return fmt.Errorf("no layout file given and provision.layout_path is not set")
			}

			loader, err := provision.NewLoader(logger)
			if err != nil {
				return err
			}
			layout, err := loader.LoadFile(layoutPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := bed.NewRegistry(store, clockwork.NewRealClock(), logger)
			if err := registry.Load(ctx); err != nil {
				return err
			}

			res, err := loader.Apply(ctx, layout, registry)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ward %s: %d bed(s) created, %d already present\n",
				layout.Ward, res.Created, res.Existing)
			return nil
		},
	}

	cmd.Flags().StringVarP(&layoutPath, "layout", "l", "", "ward layout file (defaults to provision.layout_path)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Auth.IsProductionReady() {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: signing with the development secret")
			}

			token, err := auth.NewAuthService(cfg.Auth, zap.NewNop()).IssueToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. a staff id")
	cmd.Flags().StringVar(&role, "role", "viewer", "viewer, nurse or admin")
	cmd.MarkFlagRequired("subject")
	return cmd
}
