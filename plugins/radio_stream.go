package plugins

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/linht/fm-tuner/panel"
	"github.com/linht/fm-tuner/tuner"
)

// DefaultRefreshInterval is how often status is pushed to stream clients.
const DefaultRefreshInterval = time.Second

// subscriberBuffer is the number of status messages queued per client.
// A client that falls further behind misses updates.
const subscriberBuffer = 4

// StatusMessage is what the status stream and GET /status return.
type StatusMessage struct {
	Type     string           `json:"type"`
	State    string           `json:"state"`
	Powered  bool             `json:"powered"`
	Stale    bool             `json:"stale"`
	Mode     string           `json:"mode"`
	Favorite int              `json:"favorite"`
	Limits   tuner.BandLimits `json:"limits"`
	Status   *tuner.Status    `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
	Time     time.Time        `json:"time"`
}

// StreamCommand is a message a stream client sends: a panel event.
type StreamCommand struct {
	Event string `json:"event"`
}

// statusHub fans status messages out to stream clients.
type statusHub struct {
	mu      sync.RWMutex
	clients map[string]chan StatusMessage
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[string]chan StatusMessage)}
}

func (h *statusHub) subscribe() (string, <-chan StatusMessage) {
	id := uuid.New().String()
	ch := make(chan StatusMessage, subscriberBuffer)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()

	return id, ch
}

func (h *statusHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
}

func (h *statusHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *statusHub) publish(msg StatusMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			slog.Debug("Status stream client behind, dropping update", "client", id)
		}
	}
}

func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

// refreshLoop publishes status every interval while anyone is listening.
func (p *RadioPlugin) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.hub.count() == 0 {
				continue
			}
			msg, err := p.status()
			if err != nil {
				return
			}
			p.hub.publish(msg)
		}
	}
}

// handleStream pushes status to the client and accepts panel events from
// it, so a browser can stand in for the front panel.
func (p *RadioPlugin) handleStream(c *websocket.Conn) {
	id, updates := p.hub.subscribe()
	defer p.hub.unsubscribe(id)

	slog.Info("Status stream opened", "client", id)
	defer slog.Info("Status stream closed", "client", id)

	first, err := p.status()
	if err != nil {
		return
	}
	if err := c.WriteJSON(first); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var cmd StreamCommand
			if err := json.Unmarshal(msg, &cmd); err != nil {
				slog.Debug("Ignoring malformed stream message", "client", id, "error", err)
				continue
			}
			ev, err := panel.ParseEvent(cmd.Event)
			if err != nil {
				slog.Debug("Ignoring stream message", "client", id, "error", err)
				continue
			}
			p.HandleEvent(ev)
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}
