// Package cli provides the command-line interface for the trading application.
package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kis-trader/internal/broker"
	"kis-trader/internal/config"
	"kis-trader/internal/gateway"
	"kis-trader/internal/logging"
	"kis-trader/internal/report"
)

// Version information.
const (
	Version = "0.3.0"
)

// App holds the application dependencies shared across commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Broker  broker.Broker
	Journal *report.Journal
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "kis-trader",
		Short: "Automated day trading for the Korean stock market",
		Long: `kis-trader is an automated day trading daemon for the Korean stock
market, built on the Korea Investment & Securities open API.

It scans the most actively traded stocks, opens positions on technical
signals, and manages exits with stop-loss, take-profit, and trailing-stop
rules. Paper trading against the simulated account is the default mode.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("paper", false, "simulate fills locally instead of using the broker account")

	addRunCommand(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addSelectCommand(rootCmd, app)
	addReportCommand(rootCmd, app)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// initBroker builds the broker for commands that talk to the API. With
// --paper, account state and fills are simulated locally while market
// data still comes from the API.
func (app *App) initBroker(cmd *cobra.Command) error {
	if app.Broker != nil {
		return nil
	}

	creds := app.Config.Credentials
	if creds.AppKey == "" || creds.AppSecret == "" {
		return fmt.Errorf("no API credentials for %s mode; set %s", app.Config.Mode, credentialHint(app.Config.Mode))
	}

	client := gateway.NewClient(app.Config.Gateway, creds, app.Logger)
	kis := broker.NewKISBroker(client, creds, app.Config.IsPaperTrading(), app.Logger)

	if local, _ := cmd.Flags().GetBool("paper"); local {
		app.Broker = broker.NewPaperBroker(kis, broker.DefaultPaperCash, app.Logger)
		app.Logger.Info().Msg("local paper account enabled")
		return nil
	}
	app.Broker = kis
	return nil
}

// initJournal opens the trade journal database.
func (app *App) initJournal() error {
	if app.Journal != nil {
		return nil
	}
	j, err := report.OpenJournal(app.Config.Report.DBPath)
	if err != nil {
		return fmt.Errorf("opening trade journal: %w", err)
	}
	app.Journal = j
	return nil
}

func credentialHint(mode config.TradingMode) string {
	if mode == config.ModeReal {
		return "REAL_APP_KEY / REAL_APP_SECRET / REAL_ACCOUNT_NUMBER"
	}
	return "SIMULATION_APP_KEY / SIMULATION_APP_SECRET / SIMULATION_ACCOUNT_NUMBER"
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kis-trader %s\n", Version)
		},
	}
}
