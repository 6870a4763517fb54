package model

// CandleReader reads candle history in replay order. The SQLite reader
// satisfies it; tests substitute in-memory fixtures.
type CandleReader interface {
	// ReadAllCandles returns every candle for a symbol at the given
	// interval with TS strictly after afterTS (Unix seconds; 0 = all),
	// ordered by timestamp ascending.
	ReadAllCandles(symbol string, interval int, afterTS int64) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
