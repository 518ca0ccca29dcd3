package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kis-trader/pkg/utils"
)

// addAccountCommands adds the balance and positions commands.
func addAccountCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBalanceCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
}

func newBalanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initBroker(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Broker.Authenticate(ctx); err != nil {
				return err
			}

			bal, err := app.Broker.GetBalance(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			color.New(color.Bold).Fprintf(out, "Account balance (%s mode)\n\n", app.Config.Mode)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Available cash\t%s\n", utils.FormatWon(bal.AvailableCash))
			fmt.Fprintf(w, "Stock value\t%s\n", utils.FormatWon(bal.StockEvalAmount))
			fmt.Fprintf(w, "Total assets\t%s\n", utils.FormatWon(bal.TotalAssets))
			fmt.Fprintf(w, "Unrealized P&L\t%s\n", pnlColor(bal.ProfitLoss).Sprint(utils.FormatWon(bal.ProfitLoss)))
			return w.Flush()
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show current holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initBroker(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Broker.Authenticate(ctx); err != nil {
				return err
			}

			positions, err := app.Broker.GetPositions(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(positions) == 0 {
				fmt.Fprintln(out, "no open positions")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tQTY\tAVG\tCURRENT\tP&L\tP&L%")
			for _, p := range positions {
				c := pnlColor(p.PnL)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Code, p.Name,
					utils.FormatQuantity(p.Quantity),
					utils.FormatWon(p.AvgPrice),
					utils.FormatWon(p.CurrentPrice),
					c.Sprint(utils.FormatWon(p.PnL)),
					c.Sprint(utils.FormatPercent(p.PnLPercent)))
			}
			return w.Flush()
		},
	}
}

// pnlColor follows the Korean market convention: red for gains, blue for
// losses.
func pnlColor(v float64) *color.Color {
	switch {
	case v > 0:
		return color.New(color.FgRed)
	case v < 0:
		return color.New(color.FgBlue)
	default:
		return color.New(color.Reset)
	}
}
