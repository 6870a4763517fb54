// Package ws provides the WebSocket candle feed client. It connects to a
// plain-JSON candle server (e.g. cmd/feedsim or any upstream publishing the
// model.Candle wire format), absorbs read bursts in a lock-free ring so the
// socket reader never blocks, and drains candles into the engine pipeline.
//
// The expected JSON message format on the wire is model.Candle:
//
//	{"symbol":"NIFTY","ts":"2024-06-03T09:15:00Z","open":"22500.5", ...}
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"ta-enginev1/internal/model"
	"ta-enginev1/internal/ringbuf"
)

// Config holds configuration for the candle feed.
type Config struct {
	// URL of the candle WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// RingSize is the SPSC ring capacity between the socket reader and
	// the drainer. Defaults to 4096 (rounded up to a power of two).
	RingSize int
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.RingSize == 0 {
		c.RingSize = 4096
	}
}

// Feed connects to a candle WebSocket server and pushes model.Candle values
// downstream. Reconnects with exponential backoff.
type Feed struct {
	cfg  Config
	ring *ringbuf.Ring

	// Optional hooks.
	OnReconnect func()             // called each time a reconnection happens
	OnCandle    func(model.Candle) // called for every accepted candle
}

// New creates a Feed. Returns an error if the URL is unparseable.
func New(cfg Config) (*Feed, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Feed{
		cfg:  cfg,
		ring: ringbuf.New(cfg.RingSize),
	}, nil
}

// Overflow reports candles dropped because the ring was full.
func (f *Feed) Overflow() uint64 {
	return f.ring.Overflow()
}

// Start connects to the WebSocket and streams candles into candleCh.
// Blocks until ctx is cancelled. Reconnects automatically on disconnect.
func (f *Feed) Start(ctx context.Context, candleCh chan<- model.Candle) error {
	go f.drain(ctx, candleCh)

	delay := f.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := f.runOnce(ctx)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. The read loop only parses and pushes into the ring.
func (f *Feed) runOnce(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", f.cfg.URL)

	// Context watcher — closes the connection when ctx is cancelled so the
	// blocking ReadMessage returns. The done channel keeps one watcher per
	// connection instead of accumulating one per reconnect.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Check if it's a context cancellation
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var candle model.Candle
		if err := json.Unmarshal(raw, &candle); err != nil {
			log.Printf("[ws] parse error: %v (raw: %s)", err, raw)
			continue
		}

		if candle.Symbol == "" {
			log.Printf("[ws] skipping candle with empty symbol")
			continue
		}
		if err := candle.Validate(); err != nil {
			log.Printf("[ws] skipping invalid candle %s@%s: %v", candle.Symbol, candle.TS, err)
			continue
		}

		// Push never blocks; overflow is counted in the ring.
		f.ring.Push(candle)
	}
}

// drain pops candles from the ring and forwards them downstream. Unlike the
// socket reader it may block on candleCh.
func (f *Feed) drain(ctx context.Context, candleCh chan<- model.Candle) {
	batch := make([]model.Candle, 256)
	for {
		n := f.ring.PopBatch(batch)
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		for _, c := range batch[:n] {
			if f.OnCandle != nil {
				f.OnCandle(c)
			}
			select {
			case candleCh <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}
