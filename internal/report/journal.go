// Package report persists trade events and generates daily trading
// reports from them.
package report

import (
	"database/sql"
	"math/rand"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_events (
	id         TEXT PRIMARY KEY,
	timestamp  DATETIME NOT NULL,
	type       TEXT NOT NULL,
	code       TEXT NOT NULL,
	name       TEXT,
	side       TEXT,
	quantity   INTEGER,
	price      REAL,
	pnl        REAL,
	pnl_pct    REAL,
	order_ref  TEXT,
	reason     TEXT
);
CREATE INDEX IF NOT EXISTS idx_trade_events_timestamp ON trade_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_trade_events_code ON trade_events(code);
`

// Journal is the durable record of trade events, backed by SQLite. It is
// the executor's event sink: every lifecycle transition lands here before
// reports are built from it.
type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
	closed  bool
}

// OpenJournal opens (creating if needed) the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.Wrap(err, "opening journal")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, "creating journal schema")
	}
	return &Journal{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	return j.db.Close()
}

// Record inserts one event, assigning a ULID when the event has no ID.
// ULIDs sort lexicographically by time, so the primary key doubles as a
// chronological ordering.
func (j *Journal) Record(event models.TradeEvent) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return apperrors.ErrJournalClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = ulid.MustNew(ulid.Timestamp(event.Timestamp), j.entropy).String()
	}
	j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO trade_events (id, timestamp, type, code, name, side, quantity, price, pnl, pnl_pct, order_ref, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UTC(), string(event.Type), event.Code, event.Name,
		string(event.Side), event.Quantity, event.Price, event.PnL, event.PnLPct,
		event.OrderRef, event.Reason,
	)
	if err != nil {
		return apperrors.Wrapf(err, "recording %s event for %s", event.Type, event.Code)
	}
	return nil
}

// EventsBetween returns events in [from, to), oldest first.
func (j *Journal) EventsBetween(from, to time.Time) ([]models.TradeEvent, error) {
	rows, err := j.db.Query(`
		SELECT id, timestamp, type, code, name, side, quantity, price, pnl, pnl_pct, order_ref, reason
		FROM trade_events
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY id`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "querying journal")
	}
	defer rows.Close()

	var events []models.TradeEvent
	for rows.Next() {
		var e models.TradeEvent
		var typ, side string
		if err := rows.Scan(&e.ID, &e.Timestamp, &typ, &e.Code, &e.Name, &side,
			&e.Quantity, &e.Price, &e.PnL, &e.PnLPct, &e.OrderRef, &e.Reason); err != nil {
			return nil, apperrors.Wrap(err, "scanning journal row")
		}
		e.Type = models.TradeEventType(typ)
		e.Side = models.OrderSide(side)
		events = append(events, e)
	}
	return events, rows.Err()
}
