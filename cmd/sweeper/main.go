// Command sweeper runs the reconciliation maintenance sweeps (grace period
// expiry, trial reminders, lapsed subscriptions, pending acknowledgements)
// once or on an interval. Every sweep is idempotent, so overlapping runs and
// restarts are safe.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/entitler/internal/app"
	"github.com/fatflowers/entitler/internal/app/service/reconciliation"
)

type sweepRunner interface {
	RunSweep(ctx context.Context, name string) (*reconciliation.SweepReport, error)
}

var rootCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Run entitlement reconciliation sweeps",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			return os.Setenv("APP_CONFIG_FILE", configFile)
		}
		return nil
	},
}

var (
	configFile string
	interval   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [sweep...]",
	Short: "Run the named sweeps, or all of them",
	Args: func(cmd *cobra.Command, args []string) error {
		for _, a := range args {
			if !knownSweep(a) {
				return fmt.Errorf("%w: %q", reconciliation.ErrUnknownSweep, a)
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			engine *reconciliation.Engine
			log    *zap.SugaredLogger
		)
		a := fx.New(app.CoreModule, fx.Populate(&engine, &log), fx.NopLogger)
		startCtx, cancel := context.WithTimeout(ctx, app.DefaultStartTimeout)
		defer cancel()
		if err := a.Start(startCtx); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), app.DefaultStopTimeout)
			defer cancel()
			if err := a.Stop(stopCtx); err != nil {
				log.Errorw("sweeper_stop_failed", "error", err)
			}
		}()

		names := args
		if len(names) == 0 {
			names = reconciliation.SweepNames
		}
		return loop(ctx, engine, names, interval, cmd.OutOrStdout(), log)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available sweeps in run order",
	Run: func(cmd *cobra.Command, args []string) {
		for _, n := range reconciliation.SweepNames {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (overrides APP_CONFIG_FILE)")
	runCmd.Flags().DurationVar(&interval, "interval", 0, "repeat the sweeps on this interval until interrupted; 0 runs once")
	rootCmd.AddCommand(runCmd, listCmd)
}

func knownSweep(name string) bool {
	for _, n := range reconciliation.SweepNames {
		if n == name {
			return true
		}
	}
	return false
}

// loop runs the sweeps once, then every interval until ctx is done. A failed
// sweep is logged and does not stop the others.
func loop(ctx context.Context, r sweepRunner, names []string, every time.Duration, out io.Writer, log *zap.SugaredLogger) error {
	if err := runOnce(ctx, r, names, out, log); err != nil && every <= 0 {
		return err
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_ = runOnce(ctx, r, names, out, log)
		}
	}
}

func runOnce(ctx context.Context, r sweepRunner, names []string, out io.Writer, log *zap.SugaredLogger) error {
	enc := json.NewEncoder(out)
	var failed int
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report, err := r.RunSweep(ctx, name)
		if err != nil {
			failed++
			log.Errorw("sweep_failed", "sweep", name, "error", err)
			continue
		}
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sweeps failed", failed, len(names))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
