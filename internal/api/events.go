package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtodo/internal/ingest"
	"github.com/MrWong99/voxtodo/internal/observe"
	"github.com/MrWong99/voxtodo/internal/tasks"
)

// Event kinds carried on the /api/events stream.
const (
	EventTask      = "task"
	EventIngestion = "ingestion"
)

const (
	subscriberBuffer = 64
	writeTimeout     = 5 * time.Second
)

// Event is one message on the live stream. Exactly one of Task and
// Ingestion is set, matching Type.
type Event struct {
	Type      string           `json:"type"`
	Task      *tasks.Change    `json:"task,omitempty"`
	Ingestion *ingest.Snapshot `json:"ingestion,omitempty"`
}

// Hub fans out events to websocket subscribers. A subscriber that cannot
// keep up is disconnected rather than slowing down publishers.
type Hub struct {
	metrics        *observe.Metrics
	originPatterns []string

	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithHubMetrics records the subscriber count on m.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket handshakes from hosts
// matching the given patterns (see [websocket.AcceptOptions]).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// NewHub creates an empty [Hub].
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[chan Event]struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

// PublishTask is a [tasks.Observer].
func (h *Hub) PublishTask(c tasks.Change) {
	h.Publish(Event{Type: EventTask, Task: &c})
}

// PublishIngestion is suitable as [ingest.ManagerConfig.OnChange].
func (h *Hub) PublishIngestion(s ingest.Snapshot) {
	h.Publish(Event{Type: EventIngestion, Ingestion: &s})
}

// Publish delivers ev to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("events: dropping slow subscriber", "type", ev.Type)
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) subscribe() (chan Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan Event, subscriberBuffer)
	h.subs[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request to a websocket and streams events as JSON
// text messages until the client goes away or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Debug("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ch, ok := h.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unsubscribe(ch)

	// Hijacked connections are not tracked by http.Server.Shutdown; Close
	// ends the stream instead.
	ctx := conn.CloseRead(r.Context())

	if h.metrics != nil {
		h.metrics.EventSubscribers.Add(ctx, 1)
		defer h.metrics.EventSubscribers.Add(context.WithoutCancel(ctx), -1)
	}
	observe.Logger(r.Context()).Debug("events: subscriber connected")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "subscriber dropped")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("events: write failed", "err", err)
				return
			}
		}
	}
}
