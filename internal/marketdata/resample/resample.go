// Package resample provides an incremental timeframe resampler.
// It consumes base-interval candles and maintains forming bucket states
// that are updated in O(1) per candle per interval. When a bucket closes
// (a candle arrives in a new bucket), the merged candle is finalized and
// emitted; partial buckets are only emitted by an explicit flush.
package resample

import (
	"context"
	"log"
	"time"

	"ta-enginev1/internal/model"
)

// Resampled pairs a merged candle with the interval (seconds) that
// produced it.
type Resampled struct {
	Interval int
	Candle   model.Candle
}

// bucketState holds the forming candle state for one (symbol, interval) pair.
type bucketState struct {
	bucket  int64 // bucket start = ts - ts%interval (Unix seconds)
	candle  model.Candle
	started bool
}

// Resampler merges base candles into multiple higher intervals.
// Designed to run in a single goroutine (single consumer).
type Resampler struct {
	intervals []int // interval durations in seconds

	// Per-interval per-symbol state.
	// Key structure: states[intervalIdx][symbol] → *bucketState
	states []map[string]*bucketState

	// Staleness validation: reject candles whose bucket is behind the
	// forming bucket by more than the tolerance. Default: 2s. Set to 0
	// to disable.
	StaleTolerance time.Duration

	// Metrics hooks
	OnResampled func(r Resampled) // called on every finalized candle (optional)
	OnStale     func()            // called when a stale candle is rejected (optional)
}

// New creates a resampler for the given intervals (in seconds).
func New(intervals []int) *Resampler {
	states := make([]map[string]*bucketState, len(intervals))
	for i := range states {
		states[i] = make(map[string]*bucketState, 16)
	}
	return &Resampler{
		intervals:      intervals,
		states:         states,
		StaleTolerance: 2 * time.Second,
	}
}

// Run consumes base candles from candleCh, resamples them, and sends
// finalized candles to outCh. Blocks until ctx is cancelled or the input
// closes. Forming buckets are flushed only on input close (deliberate
// end-of-stream); cancellation abandons them so a shutdown never records
// a partial bucket as a finished candle.
func (r *Resampler) Run(ctx context.Context, candleCh <-chan model.Candle, outCh chan<- Resampled) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				r.Flush(outCh)
				return
			}
			r.ProcessOne(c, outCh)
		}
	}
}

// ProcessOne handles a single base candle against all intervals.
// This is the hot path — O(1) per interval.
func (r *Resampler) ProcessOne(c model.Candle, outCh chan<- Resampled) {
	ts := c.TS.Unix()

	for i, interval := range r.intervals {
		iv64 := int64(interval)
		bucket := ts - (ts % iv64) // align to interval boundary

		st, exists := r.states[i][c.Symbol]

		// Staleness check: a candle whose bucket is behind the forming
		// bucket by more than the tolerance would corrupt an already
		// advanced bucket, so it is rejected for this interval.
		if r.StaleTolerance > 0 && exists && bucket < st.bucket {
			lag := time.Duration(st.bucket-bucket) * time.Second
			if lag > r.StaleTolerance {
				if r.OnStale != nil {
					r.OnStale()
				}
				continue
			}
		}

		if exists && bucket > st.bucket {
			// New bucket — finalize the forming candle
			r.emit(outCh, Resampled{Interval: interval, Candle: st.candle})
			exists = false
		}

		if !exists {
			// Start a new forming candle for this bucket
			r.states[i][c.Symbol] = &bucketState{
				bucket:  bucket,
				started: true,
				candle: model.Candle{
					Symbol: c.Symbol,
					TS:     time.Unix(bucket, 0).UTC(),
					Open:   c.Open,
					High:   c.High,
					Low:    c.Low,
					Close:  c.Close,
					Volume: c.Volume,
				},
			}
			continue
		}

		// Same bucket — merge OHLCV (O(1))
		fc := &st.candle
		if c.High.GreaterThan(fc.High) {
			fc.High = c.High
		}
		if c.Low.LessThan(fc.Low) {
			fc.Low = c.Low
		}
		fc.Close = c.Close
		fc.Volume = fc.Volume.Add(c.Volume)
	}
}

// Flush finalizes and emits all forming candles and resets the state.
func (r *Resampler) Flush(outCh chan<- Resampled) {
	for i, interval := range r.intervals {
		for symbol, st := range r.states[i] {
			if st.started {
				r.emit(outCh, Resampled{Interval: interval, Candle: st.candle})
			}
			delete(r.states[i], symbol)
		}
	}
}

// emit sends a resampled candle to the output channel. Non-blocking to
// avoid deadlocks against a stalled consumer.
func (r *Resampler) emit(outCh chan<- Resampled, rc Resampled) {
	if r.OnResampled != nil {
		r.OnResampled(rc)
	}
	select {
	case outCh <- rc:
	default:
		log.Printf("[resample] outCh full, dropping candle %s interval=%d ts=%v",
			rc.Candle.Symbol, rc.Interval, rc.Candle.TS)
	}
}

// Intervals returns the configured interval list.
func (r *Resampler) Intervals() []int {
	return r.intervals
}
