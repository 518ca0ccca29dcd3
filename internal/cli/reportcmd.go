package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kis-trader/internal/report"
	"kis-trader/pkg/utils"
)

// addReportCommand adds the daily report command.
func addReportCommand(rootCmd *cobra.Command, app *App) {
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the daily trading report",
		Long: `Aggregate the trade journal for one day and write the markdown
report plus a CSV export of the day's events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initJournal(); err != nil {
				return err
			}
			defer app.Journal.Close()

			date := time.Now()
			if dateFlag != "" {
				parsed, err := time.ParseInLocation("2006-01-02", dateFlag, utils.KoreaLocation)
				if err != nil {
					return fmt.Errorf("bad --date, want YYYY-MM-DD: %w", err)
				}
				date = parsed
			}

			gen := report.NewGenerator(app.Journal, app.Config.Report.Dir)
			mdPath, csvPath, err := gen.WriteDaily(date)
			if err != nil {
				return err
			}

			summary, err := gen.Summarize(date)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d closed trade(s), P&L %s, win rate %.1f%%\n",
				summary.Trades, utils.FormatWon(summary.TotalPnL), summary.WinRate())
			fmt.Fprintf(out, "report: %s\n", mdPath)
			fmt.Fprintf(out, "export: %s\n", csvPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dateFlag, "date", "", "report date (YYYY-MM-DD), default today")
	rootCmd.AddCommand(cmd)
}
