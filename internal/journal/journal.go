// Package journal keeps an all-time record of closed trades in SQLite. The status store
// holds the operational copy; the journal is for reporting and survives store resets.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"

	_ "modernc.org/sqlite" // Import the pure Go sqlite driver
)

// SQLiteJournal appends closed trades to a SQLite table.
type SQLiteJournal struct {
	db *sql.DB
}

// Open initializes the database connection and creates the table.
func Open(dataSourceName string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers; sqlite would otherwise report SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// createTables creates the trades table if it doesn't exist.
func createTables(db *sql.DB) error {
	// One row per closed position; the unique key makes a repeated Record harmless.
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		profit_pct REAL NOT NULL,
		entry_time INTEGER NOT NULL,
		exit_time INTEGER NOT NULL,
		close_reason TEXT NOT NULL,
		UNIQUE(symbol, exit_time)
	);`
	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);`)
	return err
}

// Record inserts trade. Recording the same trade twice keeps one row.
func (j *SQLiteJournal) Record(ctx context.Context, trade models.ClosedTrade) error {
	query := `
	INSERT OR IGNORE INTO trades (symbol, entry_price, exit_price, quantity, profit_pct, entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		trade.Symbol, trade.EntryPrice, trade.ExitPrice, trade.Quantity, trade.ProfitPct,
		trade.EntryTime.UnixMilli(), trade.ExitTime.UnixMilli(), string(trade.CloseReason),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.Symbol, err)
	}
	return nil
}

// Trades returns the trades that exited at or after since, oldest first.
func (j *SQLiteJournal) Trades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error) {
	query := `
	SELECT symbol, entry_price, exit_price, quantity, profit_pct, entry_time, exit_time, close_reason
	FROM trades
	WHERE exit_time >= ?
	ORDER BY exit_time, id`

	rows, err := j.db.QueryContext(ctx, query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ClosedTrade
	for rows.Next() {
		var trade models.ClosedTrade
		var entryMs, exitMs int64
		var reason string
		if err := rows.Scan(
			&trade.Symbol, &trade.EntryPrice, &trade.ExitPrice, &trade.Quantity, &trade.ProfitPct,
			&entryMs, &exitMs, &reason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trade.EntryTime = time.UnixMilli(entryMs)
		trade.ExitTime = time.UnixMilli(exitMs)
		trade.CloseReason = models.CloseReason(reason)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
