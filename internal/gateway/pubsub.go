package gateway

import (
	"context"
	"log"
)

// PubSubRouter manages Redis PubSub subscriptions and routes messages to
// the broadcaster for fan-out to WebSocket clients.
type PubSubRouter struct {
	hub *Hub
}

// NewPubSubRouter creates a PubSubRouter backed by the given Hub.
func NewPubSubRouter(hub *Hub) *PubSubRouter {
	return &PubSubRouter{hub: hub}
}

// RunCandles subscribes to the explicit candle channels for the configured
// symbols and intervals. Blocks until ctx is cancelled.
func (r *PubSubRouter) RunCandles(ctx context.Context) {
	channels := r.hub.candleChannels()
	if len(channels) == 0 {
		log.Println("[gateway] WARNING: no candle channels to subscribe to")
		return
	}

	pubsub := r.hub.Rdb.Subscribe(ctx, channels...)
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to %d candle channels", len(channels))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// RunResults pattern-subscribes to all stage result channels, so new
// stages show up without reconfiguring the gateway. Blocks until ctx is
// cancelled.
func (r *PubSubRouter) RunResults(ctx context.Context) {
	pubsub := r.hub.Rdb.PSubscribe(ctx, "res:pub:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.hub.broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
