package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"ta-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Reader provides read-only access to SQLite for history and replay.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles reads candles for a symbol at the given interval within
// [from, to]. Results are ordered by timestamp ascending.
func (r *Reader) ReadCandles(symbol string, interval int, from, to int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval_s = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// ReadAllCandles reads every candle for a symbol at the given interval
// after afterTS, ordered by timestamp for correct replay order.
func (r *Reader) ReadAllCandles(symbol string, interval int, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval_s = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, interval, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		var open, high, low, close_, volume string
		if err := rows.Scan(&c.Symbol, &tsUnix, &open, &high, &low, &close_, &volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()

		var err error
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("parse open %q: %w", open, err)
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("parse high %q: %w", high, err)
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("parse low %q: %w", low, err)
		}
		if c.Close, err = decimal.NewFromString(close_); err != nil {
			return nil, fmt.Errorf("parse close %q: %w", close_, err)
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume %q: %w", volume, err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
