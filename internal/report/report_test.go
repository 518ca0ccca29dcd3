package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
	"kis-trader/pkg/utils"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func eventAt(day time.Time, hour int, typ models.TradeEventType, code string, pnl float64) models.TradeEvent {
	return models.TradeEvent{
		Timestamp: time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, utils.KoreaLocation),
		Type:      typ,
		Code:      code,
		Side:      models.OrderSideSell,
		Quantity:  10,
		Price:     10000,
		PnL:       pnl,
		PnLPct:    pnl / 1000,
		Reason:    "TAKE_PROFIT",
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := openTestJournal(t)
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, utils.KoreaLocation)

	require.NoError(t, j.Record(eventAt(day, 10, models.EventConfirmed, "005930", 0)))
	require.NoError(t, j.Record(eventAt(day, 14, models.EventClosed, "005930", 15000)))

	events, err := j.EventsBetween(day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 2)

	// ULID primary keys keep chronological order.
	assert.Equal(t, models.EventConfirmed, events[0].Type)
	assert.Equal(t, models.EventClosed, events[1].Type)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Equal(t, 15000.0, events[1].PnL)
}

func TestJournalWindowExcludesOtherDays(t *testing.T) {
	j := openTestJournal(t)
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, utils.KoreaLocation)

	require.NoError(t, j.Record(eventAt(day, 10, models.EventClosed, "A", 100)))
	require.NoError(t, j.Record(eventAt(day.AddDate(0, 0, 1), 10, models.EventClosed, "B", 200)))

	events, err := j.EventsBetween(day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "A", events[0].Code)
}

func TestJournalClosedRejectsWrites(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Close())

	err := j.Record(models.TradeEvent{Type: models.EventClosed, Code: "A"})
	assert.ErrorIs(t, err, apperrors.ErrJournalClosed)
}

func TestSummarizeCountsClosedTradesOnly(t *testing.T) {
	j := openTestJournal(t)
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, utils.KoreaLocation)

	require.NoError(t, j.Record(eventAt(day, 9, models.EventSubmitted, "005930", 0)))
	require.NoError(t, j.Record(eventAt(day, 9, models.EventConfirmed, "005930", 0)))
	require.NoError(t, j.Record(eventAt(day, 11, models.EventClosed, "005930", 15000)))
	require.NoError(t, j.Record(eventAt(day, 13, models.EventClosed, "000660", -8000)))
	require.NoError(t, j.Record(eventAt(day, 14, models.EventAdopted, "035720", 0)))

	g := NewGenerator(j, t.TempDir())
	s, err := g.Summarize(day)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 7000.0, s.TotalPnL)
	assert.Equal(t, 50.0, s.WinRate())
	require.NotNil(t, s.BestTrade)
	assert.Equal(t, "005930", s.BestTrade.Code)
	require.NotNil(t, s.WorstTrade)
	assert.Equal(t, "000660", s.WorstTrade.Code)
	assert.Len(t, s.Events, 5)
}

func TestWriteDailyProducesMarkdownAndCSV(t *testing.T) {
	j := openTestJournal(t)
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, utils.KoreaLocation)
	require.NoError(t, j.Record(eventAt(day, 11, models.EventClosed, "005930", 15000)))

	dir := t.TempDir()
	g := NewGenerator(j, dir)

	mdPath, csvPath, err := g.WriteDaily(day)
	require.NoError(t, err)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Daily Trading Report")
	assert.Contains(t, string(md), "005930")
	assert.Contains(t, string(md), "100.0%")

	csv, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "pnl_pct")
	assert.Contains(t, lines[1], "005930")
}

func TestRenderEmptyDay(t *testing.T) {
	out := Render(&Summary{Date: time.Date(2026, 9, 7, 0, 0, 0, 0, utils.KoreaLocation)})
	assert.Contains(t, out, "No trading activity recorded")
	assert.Contains(t, out, "| Closed trades | 0 |")
}
