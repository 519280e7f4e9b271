// @title       PrintFlow Reminder Engine API
// @version     1.0
// @description Project reminders for print production: scheduling, stage triggers and acknowledgements.
// @BasePath    /
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"printflow/internal/app"
	"printflow/internal/config"
	"printflow/internal/logger"
	"printflow/internal/middleware"
	"printflow/internal/repositories"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "printflow",
		Short:         "Project reminder engine for print production",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), dispatchCmd(), projectStatusCmd(), tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the dispatcher and the stage watcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			log := logger.New("printflow", cfg.Log.Level)
			db, err := repositories.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := repositories.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.Database.Driver).Msg("schema applied")
			return nil
		},
	}
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run a single dispatcher pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				res, err := a.DispatchOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "due=%d delivered=%d sent=%d failed=%d deferred=%d\n",
					res.Due, res.Delivered, res.Sent, res.Failed, res.Deferred)
				return nil
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	var (
		projectID int64
		status    string
	)
	cmd := &cobra.Command{
		Use:   "project-status",
		Short: "Set a project's status in the local projects table and arm matching reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				return a.SetProjectStatus(cmd.Context(), projectID, status)
			})
		},
	}
	cmd.Flags().Int64VarP(&projectID, "project", "p", 0, "Project ID (required)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "New status, matched exactly (required)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		roleID int
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			tok, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), userID, roleID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "User ID (required)")
	cmd.Flags().IntVarP(&roleID, "role", "r", 0, "Role ID (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
