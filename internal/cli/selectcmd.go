package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"kis-trader/internal/signals"
	"kis-trader/pkg/utils"
)

// addSelectCommand adds the one-shot candidate scan command.
func addSelectCommand(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "select",
		Short: "Scan for buy candidates without trading",
		Long: `Run one candidate scan and print the qualifying stocks with their
scores and the signals each one hit. Nothing is bought.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initBroker(cmd); err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Broker.Authenticate(ctx); err != nil {
				return err
			}

			selector := signals.NewSelector(app.Broker, app.Config.Selector, app.Logger)
			candidates, err := selector.Select(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(candidates) == 0 {
				fmt.Fprintf(out, "no candidates reached score %d\n", app.Config.Selector.MinScore)
				return nil
			}

			color.New(color.Bold).Fprintf(out, "%d candidate(s)\n\n", len(candidates))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tPRICE\tCHANGE\tSCORE\tSIGNALS")
			for _, c := range candidates {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					c.Code, c.Name,
					utils.FormatWon(c.Price),
					utils.FormatPercent(c.ChangePct),
					c.Score,
					signalList(c.Signals))
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(cmd)
}

func signalList(hits map[string]bool) string {
	names := make([]string, 0, len(hits))
	for name, hit := range hits {
		if hit {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
