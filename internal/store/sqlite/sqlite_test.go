package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ta-enginev1/internal/model"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func testCandle(t *testing.T, symbol string, ts int64, close_ string) model.Candle {
	t.Helper()
	return model.Candle{
		Symbol: symbol,
		TS:     time.Unix(ts, 0).UTC(),
		Open:   mustDecimal(t, "100.1"),
		High:   mustDecimal(t, "101.5"),
		Low:    mustDecimal(t, "99.9"),
		Close:  mustDecimal(t, close_),
		Volume: mustDecimal(t, "1000"),
	}
}

func TestWriterReader_RoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "candles.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	entryCh := make(chan Entry)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), entryCh)
		close(done)
	}()

	// Base candles at 1s plus one resampled 60s candle for the same symbol.
	entryCh <- Entry{Interval: 1, Candle: testCandle(t, "RELIANCE", 1000, "100.45678901")}
	entryCh <- Entry{Interval: 1, Candle: testCandle(t, "RELIANCE", 1001, "100.5")}
	entryCh <- Entry{Interval: 60, Candle: testCandle(t, "RELIANCE", 960, "100.5")}
	entryCh <- Entry{Interval: 1, Candle: testCandle(t, "TCS", 1000, "3500")}
	close(entryCh)
	<-done

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	candles, err := r.ReadAllCandles("RELIANCE", 1, 0)
	if err != nil {
		t.Fatalf("ReadAllCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 base candles for RELIANCE, got %d", len(candles))
	}
	if candles[0].TS.Unix() != 1000 || candles[1].TS.Unix() != 1001 {
		t.Errorf("candles out of order: %v, %v", candles[0].TS, candles[1].TS)
	}
	// Decimal values must survive the round trip digit for digit.
	if got := candles[0].Close.String(); got != "100.45678901" {
		t.Errorf("close round trip: got %s, want 100.45678901", got)
	}

	ranged, err := r.ReadCandles("RELIANCE", 1, 1001, 2000)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(ranged) != 1 || ranged[0].TS.Unix() != 1001 {
		t.Fatalf("range query: expected single candle at ts=1001, got %d", len(ranged))
	}

	resampled, err := r.ReadAllCandles("RELIANCE", 60, 0)
	if err != nil {
		t.Fatalf("ReadAllCandles 60s: %v", err)
	}
	if len(resampled) != 1 {
		t.Fatalf("expected 1 resampled candle, got %d", len(resampled))
	}

	last, err := w.LastTimestamp("RELIANCE", 1)
	if err != nil {
		t.Fatalf("LastTimestamp: %v", err)
	}
	if last != 1001 {
		t.Errorf("LastTimestamp: got %d, want 1001", last)
	}
	if last, _ := w.LastTimestamp("UNKNOWN", 1); last != 0 {
		t.Errorf("LastTimestamp for unknown symbol: got %d, want 0", last)
	}
}

func TestWriter_ReplacesDuplicates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "candles.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	entryCh := make(chan Entry)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), entryCh)
		close(done)
	}()

	entryCh <- Entry{Interval: 1, Candle: testCandle(t, "INFY", 500, "1500")}
	entryCh <- Entry{Interval: 1, Candle: testCandle(t, "INFY", 500, "1501.25")}
	close(entryCh)
	<-done

	r, err := NewReader(dbPath)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	candles, err := r.ReadAllCandles("INFY", 1, 0)
	if err != nil {
		t.Fatalf("ReadAllCandles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected replace on duplicate key, got %d rows", len(candles))
	}
	if got := candles[0].Close.String(); got != "1501.25" {
		t.Errorf("expected last write to win, got close=%s", got)
	}
}

func TestWriter_SaveResults(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")

	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ts := time.Unix(2000, 0).UTC()
	stageResults := map[string][]model.IndicatorResult{
		"sma_fast": {
			{Value: mustDecimal(t, "101.5"), TS: ts},
		},
		"macd_main": {
			{
				Value: mustDecimal(t, "1.25"),
				Values: map[string]decimal.Decimal{
					"macd":      mustDecimal(t, "1.25"),
					"signal":    mustDecimal(t, "1.10"),
					"histogram": mustDecimal(t, "0.15"),
				},
				TS: ts,
			},
		},
	}

	if err := w.SaveResults("pipe-1", stageResults); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	var count int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM results WHERE pipeline_id = ?`, "pipe-1").Scan(&count); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 result rows, got %d", count)
	}

	var value string
	var components *string
	err = w.DB().QueryRow(
		`SELECT value, components FROM results WHERE pipeline_id = ? AND stage_id = ?`,
		"pipe-1", "macd_main",
	).Scan(&value, &components)
	if err != nil {
		t.Fatalf("query macd row: %v", err)
	}
	if value != "1.25" {
		t.Errorf("value: got %s, want 1.25", value)
	}
	if components == nil {
		t.Fatal("expected components JSON for composite result")
	}

	err = w.DB().QueryRow(
		`SELECT components FROM results WHERE pipeline_id = ? AND stage_id = ?`,
		"pipe-1", "sma_fast",
	).Scan(&components)
	if err != nil {
		t.Fatalf("query sma row: %v", err)
	}
	if components != nil {
		t.Errorf("expected NULL components for single-value result, got %q", *components)
	}
}
