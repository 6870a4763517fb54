package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filterMu sync.RWMutex
	filter   ClientFilter
}

// ClientFilter narrows which channels a client receives. An empty list is
// a wildcard for that dimension; a client with no filter at all receives
// everything.
type ClientFilter struct {
	Symbols   []string `json:"symbols"`
	Intervals []int    `json:"intervals"`
	Stages    []string `json:"stages"`
}

func (f ClientFilter) empty() bool {
	return len(f.Symbols) == 0 && len(f.Intervals) == 0 && len(f.Stages) == 0
}

// subscribeMsg is the client->server filter update message.
type subscribeMsg struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	Intervals []int    `json:"intervals"`
	Stages    []string `json:"stages"`
}

// sendInitialState pushes the latest payload on every channel so a fresh
// client has a full picture before live messages arrive. A last_ts cutoff
// skips entries the client already saw before reconnecting.
func (c *Client) sendInitialState(lastTS string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}

		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

// sendLatestMatching re-sends the latest entries that pass the current
// filter. Called after a SUBSCRIBE so the client gets an immediate
// snapshot for its new selection.
func (c *Client) sendLatestMatching() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		if !c.matchesChannel(channel) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SUBSCRIBE":
			var sub subscribeMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			c.handleSubscribe(sub)

		case "UNSUBSCRIBE":
			c.handleUnsubscribe()

		default:
			// Application-level ping for clients that can't use WS pings.
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// handleSubscribe replaces the client's filter and re-sends matching
// latest entries.
func (c *Client) handleSubscribe(msg subscribeMsg) {
	filter := ClientFilter{
		Symbols:   msg.Symbols,
		Intervals: msg.Intervals,
		Stages:    msg.Stages,
	}

	c.filterMu.Lock()
	c.filter = filter
	c.filterMu.Unlock()

	log.Printf("[gateway] client subscribed: symbols=%v intervals=%v stages=%v",
		msg.Symbols, msg.Intervals, msg.Stages)

	c.sendLatestMatching()
}

// handleUnsubscribe clears the filter, returning the client to
// receive-everything mode.
func (c *Client) handleUnsubscribe() {
	c.filterMu.Lock()
	c.filter = ClientFilter{}
	c.filterMu.Unlock()

	log.Println("[gateway] client unsubscribed (filter cleared)")
}

// matchesChannel reports whether this client should receive a message on
// the given channel under its current filter.
func (c *Client) matchesChannel(channel string) bool {
	c.filterMu.RLock()
	filter := c.filter
	c.filterMu.RUnlock()

	if filter.empty() {
		return true
	}

	parsed := parseChannel(channel)
	if parsed == nil {
		// Non-data channel (metrics, pongs), always deliver.
		return true
	}

	switch parsed.kind {
	case channelCandle:
		if len(filter.Symbols) > 0 && !containsString(filter.Symbols, parsed.symbol) {
			return false
		}
		if len(filter.Intervals) > 0 && !containsInt(filter.Intervals, parsed.interval) {
			return false
		}
		return true

	case channelResult:
		if len(filter.Stages) > 0 && !containsString(filter.Stages, parsed.stageID) {
			return false
		}
		return true
	}
	return true
}

const (
	channelCandle = "candle"
	channelResult = "result"
)

// parsedChannel holds the parsed components of a pubsub channel name.
type parsedChannel struct {
	kind       string
	interval   int    // candle channels
	symbol     string // candle channels
	pipelineID string // result channels
	stageID    string // result channels
}

// parseChannel parses "pub:candle:60s:RELIANCE" or "res:pub:<pipeline>:<stage>".
// Returns nil for anything else.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 {
		return nil
	}

	if parts[0] == "pub" && parts[1] == "candle" {
		return &parsedChannel{
			kind:     channelCandle,
			interval: parseIntervalStr(parts[2]),
			symbol:   parts[3],
		}
	}

	if parts[0] == "res" && parts[1] == "pub" {
		return &parsedChannel{
			kind:       channelResult,
			pipelineID: parts[2],
			stageID:    parts[3],
		}
	}

	return nil
}

// parseIntervalStr parses "60s" into 60.
func parseIntervalStr(s string) int {
	s = strings.TrimSuffix(s, "s")
	n := 0
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
		}
	}
	return n
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}
