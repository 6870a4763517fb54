package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/pipeline"
)

// pendingWrite is a write that was buffered during circuit-open state.
type pendingWrite struct {
	kind     string // "tick" or "candle"
	interval int    // candle interval, unused for ticks
	data     []byte // JSON-encoded payload
}

// BufferedWriter wraps a Redis Writer with a circuit breaker. While the
// circuit is open, writes are buffered locally (drop-oldest beyond maxBuf)
// and flushed in order when the circuit closes again.
type BufferedWriter struct {
	writer *Writer
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// Callbacks for metrics.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
// A flush is chained onto the breaker's OnStateChange, after any callback
// already registered.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteTick writes one tick's stage results through the circuit breaker.
// If the circuit is open, the results are buffered locally.
func (bw *BufferedWriter) WriteTick(pipelineID string, tick *pipeline.TickResult) error {
	msgs := BuildMessages(pipelineID, tick)
	if len(msgs) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error {
		return bw.writer.writeMessages(bw.ctx, msgs)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("tick", 0, msgs)
		return nil // buffered, not lost
	}
	return err
}

// WriteCandle writes one candle through the circuit breaker.
func (bw *BufferedWriter) WriteCandle(interval int, candle model.Candle) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteCandle(bw.ctx, interval, candle)
	})
	if err == ErrCircuitOpen {
		bw.bufferWrite("candle", interval, candle)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(kind string, interval int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[buffered-writer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{kind: kind, interval: interval, data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed, failed := 0, 0
	for _, pw := range toFlush {
		var err error
		switch pw.kind {
		case "tick":
			var msgs []ResultMessage
			if json.Unmarshal(pw.data, &msgs) == nil {
				err = bw.writer.writeMessages(bw.ctx, msgs)
			}
		case "candle":
			var c model.Candle
			if json.Unmarshal(pw.data, &c) == nil {
				err = bw.writer.WriteCandle(bw.ctx, pw.interval, c)
			}
		}
		if err != nil {
			failed++
			continue
		}
		flushed++
	}

	log.Printf("[buffered-writer] flushed %d buffered writes (%d failed)", flushed, failed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped Redis writer for direct access.
func (bw *BufferedWriter) Underlying() *Writer {
	return bw.writer
}
