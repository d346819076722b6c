// Live run-event feed over WebSocket.
//
// DESIGN: the hub fans each published record out to every subscriber over
// a bounded channel. A subscriber that cannot keep up loses events rather
// than stalling the publisher; the feed is a tail, not a durable stream
// (run_records is the durable stream).
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agentlane/execution-gateway/internal/auth"
	"github.com/agentlane/execution-gateway/internal/config"
)

// EventHub fans run events out to live subscribers.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan []byte]struct{})}
}

// Publish marshals v once and offers it to every subscriber without
// blocking.
func (h *EventHub) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal run event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			// Slow subscriber: drop this event for them.
		}
	}
}

func (h *EventHub) subscribe() chan []byte {
	ch := make(chan []byte, config.EventBufferSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// subscriberCount is test-visible plumbing.
func (h *EventHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents upgrades to WebSocket and tails run events until the client
// disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request, caller *auth.CallerContext) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer func() { _ = c.Close(websocket.StatusInternalError, "closed") }()

	log.Info().Str("org_id", caller.OrgID).Msg("Run event subscriber connected")

	// CloseRead cancels the context when the client goes away.
	ctx := c.CloseRead(r.Context())

	ch := g.events.subscribe()
	defer g.events.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			_ = c.Close(websocket.StatusNormalClosure, "done")
			return
		case msg := <-ch:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
