package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ta-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Entry is one candle tagged with its interval in seconds. Base feed
// candles and resampled candles flow through the same recorder channel.
type Entry struct {
	Interval int
	Candle   model.Candle
}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer discipline: one connection, serialized commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// Prices are stored as decimal strings, not floats. Re-reading a candle
// must reproduce the exact value that was computed, digit for digit.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			interval_s INTEGER NOT NULL,
			ts         INTEGER NOT NULL,
			open       TEXT    NOT NULL,
			high       TEXT    NOT NULL,
			low        TEXT    NOT NULL,
			close      TEXT    NOT NULL,
			volume     TEXT    NOT NULL,
			PRIMARY KEY (symbol, interval_s, ts)
		);

		CREATE TABLE IF NOT EXISTS results (
			pipeline_id TEXT    NOT NULL,
			stage_id    TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			value       TEXT    NOT NULL,
			components  TEXT,
			created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			PRIMARY KEY (pipeline_id, stage_id, ts)
		);
	`)
	return err
}

// Run reads entries from entryCh and inserts them in batched transactions.
// Flushes every batchSize entries OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or entryCh is closed.
func (w *Writer) Run(ctx context.Context, entryCh <-chan Entry) {
	batch := make([]Entry, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case entry, ok := <-entryCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of entries in a single transaction.
func (w *Writer) insertBatch(entries []Entry) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, interval_s, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		c := e.Candle
		_, err := stmt.Exec(c.Symbol, e.Interval, c.TS.Unix(),
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String())
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveResults persists one run's stage results in a single transaction,
// keyed by pipeline and stage. Composite component values are stored as
// a JSON object of decimal strings.
func (w *Writer) SaveResults(pipelineID string, stageResults map[string][]model.IndicatorResult) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO results (pipeline_id, stage_id, ts, value, components)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	total := 0
	for stageID, results := range stageResults {
		for _, res := range results {
			var components any
			if len(res.Values) > 0 {
				data, err := json.Marshal(res.Values)
				if err != nil {
					tx.Rollback()
					return fmt.Errorf("marshal components for %s: %w", stageID, err)
				}
				components = string(data)
			}
			if _, err := stmt.Exec(pipelineID, stageID, res.TS.Unix(), res.Value.String(), components); err != nil {
				tx.Rollback()
				return err
			}
			total++
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("[sqlite] saved %d results for pipeline %s", total, pipelineID)
	return nil
}

// LastTimestamp returns the last stored candle timestamp for a symbol
// at the given interval. Returns 0 if no candles exist.
func (w *Writer) LastTimestamp(symbol string, interval int) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND interval_s = ?`,
		symbol, interval,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
