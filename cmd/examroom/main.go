package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"examroom/internal/app"
	"examroom/internal/config"
	dbconfig "examroom/pkg/database"
	"examroom/pkg/logging"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "examroom",
		Short:         "Live spoken-language assessment server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(flags.envFile)
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("EXAMROOM_CONFIG_FILE"), "YAML config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading EXAMROOM_* variables")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newMigrateCmd(flags))
	return cmd
}

// loadEnvFile loads path into the environment. A missing file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "examroom %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(flags.configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log.Level)

			application, err := app.NewApplication(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return application.Run(gctx)
			})
			g.Go(func() error {
				return application.RunMaintenance(gctx, app.DefaultMaintenanceInterval)
			})
			err = g.Wait()
			if ctx.Err() != nil {
				logger.Info("shutdown signal received")
			}
			return err
		},
	}
}

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Password != "" {
				cfg.Redis.Password = "redacted"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply archive migrations and validate the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithPrecedence(flags.configPath)
			if err != nil {
				return err
			}
			db, err := dbconfig.Open(&cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			migrations := dbconfig.NewMigrationManager(db)
			if err := migrations.ApplyMigrations(); err != nil {
				return err
			}
			if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
				return err
			}
			versions, err := migrations.AppliedVersions()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive %s at schema %v\n", cfg.Database.DatabasePath, versions)
			return nil
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "examroom:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
