// cmd/feedsim is a demo WebSocket candle server. It broadcasts simulated
// OHLCV candles so the engine can run without a live market data
// subscription.
//
// Message shape is identical to model.Candle:
//
//	{"symbol":"RELIANCE","ts":"2024-06-03T09:15:00Z","open":"2950.12",...}
//
// Prices follow a small random walk from per-symbol seed levels, held in
// paise internally so every emitted decimal is exact to two places.
//
// Config (env vars):
//
//	FEEDSIM_ADDR          listen address            (default ":8081")
//	FEEDSIM_SYMBOLS       comma-separated symbols   (default "RELIANCE,TCS,INFY")
//	FEEDSIM_INTERVAL_SEC  candle period in seconds  (default "1")
package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"ta-enginev1/internal/model"
)

// instrument holds per-symbol simulation state. Price is the current
// simulated level in paise (1 INR = 100 paise).
type instrument struct {
	Symbol string
	Price  int64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop candle
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump: sends candle JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Candle generator ────────────────────────────────────────────────────────

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price int64) int64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	delta := int64(float64(price) * pct)
	newPrice := price + delta
	if newPrice < 100 { // price floor
		newPrice = 100
	}
	return newPrice
}

// makeCandle advances the walk through several substeps so each candle gets
// a realistic high/low spread, then emits one closed period.
func makeCandle(inst *instrument, interval time.Duration) model.Candle {
	open := inst.Price
	high, low := open, open
	for i := 0; i < 6; i++ {
		inst.Price = walkPrice(inst.Price)
		if inst.Price > high {
			high = inst.Price
		}
		if inst.Price < low {
			low = inst.Price
		}
	}
	return model.Candle{
		Symbol: inst.Symbol,
		TS:     time.Now().UTC().Truncate(interval),
		Open:   decimal.New(open, -2),
		High:   decimal.New(high, -2),
		Low:    decimal.New(low, -2),
		Close:  decimal.New(inst.Price, -2),
		Volume: decimal.NewFromInt(int64(rand.Intn(9000) + 1000)),
	}
}

func runGenerator(h *hub, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		for i := range instruments {
			c := makeCandle(&instruments[i], interval)
			h.broadcast(c.JSON())
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo candle server...")

	addr := envOrDefault("FEEDSIM_ADDR", ":8081")
	symbolsEnv := envOrDefault("FEEDSIM_SYMBOLS", "RELIANCE,TCS,INFY")
	intervalSec := envIntOrDefault("FEEDSIM_INTERVAL_SEC", 1)

	instruments := parseSymbols(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no symbols configured via FEEDSIM_SYMBOLS")
	}
	log.Printf("[feedsim] instruments: %+v", instruments)
	log.Printf("[feedsim] candle interval: %ds", intervalSec)

	h := newHub()

	go runGenerator(h, instruments, time.Duration(intervalSec)*time.Second)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseSymbols(s string) []instrument {
	// Seed prices in paise (INR × 100)
	seedPrices := map[string]int64{
		"RELIANCE": 2950_00,
		"TCS":      4480_00,
		"INFY":     1950_00,
		"NIFTY":    25660_00,
	}

	var result []instrument
	for _, part := range strings.Split(s, ",") {
		sym := strings.TrimSpace(part)
		if sym == "" {
			continue
		}
		price := seedPrices[sym]
		if price == 0 {
			price = 1000_00 // default ₹1000.00
		}
		result = append(result, instrument{Symbol: sym, Price: price})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
