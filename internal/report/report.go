package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
	"kis-trader/pkg/utils"
)

// Summary aggregates one trading day's results.
type Summary struct {
	Date       time.Time
	Trades     int // closed round trips
	Wins       int
	Losses     int
	TotalPnL   float64
	BestTrade  *models.TradeEvent
	WorstTrade *models.TradeEvent
	Events     []models.TradeEvent
}

// WinRate returns the winning percentage of closed trades.
func (s *Summary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// Generator builds daily reports from the journal.
type Generator struct {
	journal *Journal
	dir     string
}

// NewGenerator creates a report generator writing into dir.
func NewGenerator(journal *Journal, dir string) *Generator {
	return &Generator{journal: journal, dir: dir}
}

// Summarize aggregates the journal for the calendar day containing date,
// in exchange-local time.
func (g *Generator) Summarize(date time.Time) (*Summary, error) {
	local := date.In(utils.KoreaLocation)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, utils.KoreaLocation)
	to := from.AddDate(0, 0, 1)

	events, err := g.journal.EventsBetween(from, to)
	if err != nil {
		return nil, err
	}

	s := &Summary{Date: from, Events: events}
	for i := range events {
		e := &events[i]
		if e.Type != models.EventClosed {
			continue
		}
		s.Trades++
		s.TotalPnL += e.PnL
		if e.PnL >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if s.BestTrade == nil || e.PnL > s.BestTrade.PnL {
			s.BestTrade = e
		}
		if s.WorstTrade == nil || e.PnL < s.WorstTrade.PnL {
			s.WorstTrade = e
		}
	}
	return s, nil
}

// WriteDaily writes the markdown report and the CSV event export for the
// day, returning the two file paths.
func (g *Generator) WriteDaily(date time.Time) (mdPath, csvPath string, err error) {
	s, err := g.Summarize(date)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", "", apperrors.Wrap(err, "creating report directory")
	}

	stamp := s.Date.Format("2006-01-02")
	mdPath = filepath.Join(g.dir, fmt.Sprintf("daily-%s.md", stamp))
	csvPath = filepath.Join(g.dir, fmt.Sprintf("trades-%s.csv", stamp))

	if err := os.WriteFile(mdPath, []byte(Render(s)), 0o644); err != nil {
		return "", "", apperrors.Wrap(err, "writing markdown report")
	}
	if err := writeCSV(csvPath, s.Events); err != nil {
		return "", "", err
	}
	return mdPath, csvPath, nil
}

func writeCSV(path string, events []models.TradeEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return apperrors.Wrap(err, "creating csv export")
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&events, f); err != nil {
		return apperrors.Wrap(err, "writing csv export")
	}
	return nil
}

// Render formats the summary as markdown.
func Render(s *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Daily Trading Report (%s)\n\n", s.Date.Format("2006-01-02 (Mon)"))
	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Closed trades | %d |\n", s.Trades)
	fmt.Fprintf(&b, "| Wins / Losses | %d / %d |\n", s.Wins, s.Losses)
	fmt.Fprintf(&b, "| Win rate | %.1f%% |\n", s.WinRate())
	fmt.Fprintf(&b, "| Realized P&L | %s |\n", utils.FormatWon(s.TotalPnL))

	if s.BestTrade != nil {
		fmt.Fprintf(&b, "| Best trade | %s %s (%s) |\n",
			s.BestTrade.Code, utils.FormatWon(s.BestTrade.PnL), utils.FormatPercent(s.BestTrade.PnLPct))
	}
	if s.WorstTrade != nil {
		fmt.Fprintf(&b, "| Worst trade | %s %s (%s) |\n",
			s.WorstTrade.Code, utils.FormatWon(s.WorstTrade.PnL), utils.FormatPercent(s.WorstTrade.PnLPct))
	}

	if len(s.Events) > 0 {
		fmt.Fprintf(&b, "\n## Events\n\n")
		fmt.Fprintf(&b, "| Time | Type | Code | Side | Qty | Price | P&L | Reason |\n")
		fmt.Fprintf(&b, "|---|---|---|---|---|---|---|---|\n")
		for _, e := range s.Events {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s | %s | %s |\n",
				e.Timestamp.In(utils.KoreaLocation).Format("15:04:05"),
				e.Type, e.Code, e.Side, e.Quantity,
				utils.FormatWon(e.Price), utils.FormatWon(e.PnL), e.Reason)
		}
	} else {
		fmt.Fprintf(&b, "\nNo trading activity recorded.\n")
	}

	return b.String()
}
