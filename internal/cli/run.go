package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kis-trader/internal/broker"
	"kis-trader/internal/report"
	"kis-trader/internal/risk"
	"kis-trader/internal/signals"
	"kis-trader/internal/trading"
)

// addRunCommand adds the trading daemon command.
func addRunCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the automated trading loop",
		Long: `Run the trading loop until interrupted.

Each tick the loop reconciles the position ledger against remote
holdings, evaluates exit rules for every open position, and opens new
positions from the candidate scan, all under the configured risk policy.
Outside market hours the loop idles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initBroker(cmd); err != nil {
				return err
			}
			if err := app.initJournal(); err != nil {
				return err
			}
			defer app.Journal.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Broker.Authenticate(ctx); err != nil {
				return err
			}

			controller, ledger := buildController(app)

			if realtime, _ := cmd.Flags().GetBool("realtime"); realtime {
				ticker := startTicker(ctx, app, ledger)
				if ticker != nil {
					defer ticker.Disconnect()
				}
			}

			color.New(color.FgCyan, color.Bold).Fprintf(cmd.OutOrStdout(),
				"kis-trader %s (%s mode)\n", Version, app.Config.Mode)
			color.New(color.FgYellow).Fprintln(cmd.OutOrStdout(), "press Ctrl+C to stop")

			if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			// A stopped session still deserves its report.
			gen := report.NewGenerator(app.Journal, app.Config.Report.Dir)
			if mdPath, _, err := gen.WriteDaily(time.Now()); err == nil {
				app.Logger.Info().Str("path", mdPath).Msg("session report written")
			}
			return nil
		},
	}

	cmd.Flags().Bool("realtime", false, "stream real-time prices over the websocket feed")
	rootCmd.AddCommand(cmd)
}

// buildController wires the full trading stack.
func buildController(app *App) (*trading.Controller, *trading.Ledger) {
	ledger := trading.NewLedger()
	executor := trading.NewExecutor(app.Broker, ledger, app.Journal, app.Config.Loop, app.Logger)
	reconciler := trading.NewReconciler(app.Broker, ledger, app.Journal, app.Config.Risk, app.Logger)
	riskEngine := risk.NewEngine(app.Config.Risk)
	selector := signals.NewSelector(app.Broker, app.Config.Selector, app.Logger)

	return trading.NewController(app.Broker, ledger, executor, reconciler, riskEngine, selector, *app.Config, app.Logger), ledger
}

// startTicker connects the real-time price feed and keeps it subscribed
// to whatever the ledger currently holds. Streamed prices raise the
// high-water marks between loop ticks, tightening trailing stops. The
// feed is best-effort: a failed connection degrades to quote polling.
func startTicker(ctx context.Context, app *App, ledger *trading.Ledger) *broker.KISTicker {
	ticker := broker.NewKISTicker(app.Config.Gateway, app.Config.Credentials, app.Config.IsPaperTrading(), app.Logger)
	ticker.OnPrice(func(code string, price float64) {
		ledger.UpdateHighest(code, price)
	})
	ticker.OnError(func(err error) {
		app.Logger.Warn().Err(err).Msg("price feed error")
	})

	if err := ticker.Connect(ctx); err != nil {
		app.Logger.Warn().Err(err).Msg("price feed unavailable, polling only")
		return nil
	}

	go func() {
		t := time.NewTicker(app.Config.Loop.TickInterval)
		defer t.Stop()
		subscribed := make(map[string]bool)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				var fresh []string
				for _, pos := range ledger.All() {
					if !subscribed[pos.Code] {
						fresh = append(fresh, pos.Code)
						subscribed[pos.Code] = true
					}
				}
				if len(fresh) > 0 {
					if err := ticker.Subscribe(fresh); err != nil {
						app.Logger.Warn().Err(err).Msg("feed subscribe failed")
					}
				}
			}
		}
	}()
	return ticker
}
