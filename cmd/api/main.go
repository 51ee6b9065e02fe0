package main

// @title           Entitler API
// @version         1.0
// @description     Subscription entitlement reconciliation for App Store and Google Play purchases.

// @host      localhost:8888
// @BasePath  /

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the receipt, webhook, entitlement and admin HTTP APIs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			return os.Setenv("APP_CONFIG_FILE", configFile)
		}
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	a := fx.New(app.Module)
	startCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStartTimeout)
	defer cancel()
	if err := a.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// SIGINT/SIGTERM, or a fatal server error through fx.Shutdowner
	sig := <-a.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if sig.ExitCode != 0 {
		return fmt.Errorf("server exited with code %d", sig.ExitCode)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (overrides APP_CONFIG_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// The app logger may not exist yet.
		zap.NewExample().Sugar().Errorw("api_failed", "error", err)
		os.Exit(1)
	}
}
