package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"movie-match/internal/bootstrap"
	"movie-match/internal/infra/setup"
)

// newRootCommand 创建 movie-match 命令行入口
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movie-match",
		Short: "Group movie matching service",
		Long: `movie-match runs the room, invite and voting API together with the
background precache worker.

Configuration is read from environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if port != "" {
				cfg.ServerPort = port
			}

			app, err := bootstrap.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			app.Start()

			// 设置优雅关闭
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			app.Log.Info("Shutdown signal received...")
			app.Shutdown()
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "override SERVER_PORT")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL tables used by STORE_BACKEND=mysql",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.StoreBackend != bootstrap.BackendMySQL {
				return fmt.Errorf("migrate requires STORE_BACKEND=%s, got %q", bootstrap.BackendMySQL, cfg.StoreBackend)
			}
			bootstrap.NewLogger(cfg)

			db, err := setup.InitDB(cfg.DB)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := setup.MigrateDB(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}
