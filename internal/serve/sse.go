package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/nacre/internal/watch"
)

// SSEEvent represents a single Server-Sent Event.
type SSEEvent struct {
	ID    string // fingerprint token used as event ID
	Event string // "refresh" or "ping"
	Data  string // JSON payload
}

// refreshData is the JSON payload for a refresh event.
type refreshData struct {
	ChangeToken string `json:"change_token"`
	Timestamp   string `json:"timestamp"`
}

// pingData is the JSON payload for a ping event.
type pingData struct {
	ChangeToken string `json:"change_token"`
}

// SSEHub fans the watcher's change signals out to connected SSE clients
// and keeps idle connections alive with periodic pings.
type SSEHub struct {
	watcher *watch.Watcher

	mu      sync.Mutex
	clients map[chan SSEEvent]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSSEHub creates an SSEHub over the given watcher.
func NewSSEHub(watcher *watch.Watcher) *SSEHub {
	return &SSEHub{
		watcher: watcher,
		clients: make(map[chan SSEEvent]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the background goroutine that relays watcher changes and
// sends periodic pings.
func (h *SSEHub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)
}

// Stop shuts down the hub, closing all client channels and stopping the
// relay goroutine.
func (h *SSEHub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

// register adds a client channel and returns it.
func (h *SSEHub) register() chan SSEEvent {
	ch := make(chan SSEEvent, 16) // buffered to avoid blocking broadcasts
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("sse: client registered", "clients", n)
	return ch
}

// unregister removes a client channel and closes it.
func (h *SSEHub) unregister(ch chan SSEEvent) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("sse: client unregistered", "clients", n)
}

// currentToken returns the fingerprint token of the published artifacts,
// empty before the first scan.
func (h *SSEHub) currentToken() string {
	art, err := h.watcher.Current()
	if err != nil {
		return ""
	}
	return art.Fingerprint.Token()
}

// broadcast sends an event to all connected clients, dropping it for
// clients whose buffers are full.
func (h *SSEHub) broadcast(event SSEEvent) {
	h.mu.Lock()
	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			slog.Debug("sse: dropped event for slow client")
		}
	}
	h.mu.Unlock()
}

func (h *SSEHub) run(ctx context.Context) {
	defer close(h.done)

	changes, cancelSub := h.watcher.Subscribe()
	defer cancelSub()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case <-changes:
			token := h.currentToken()
			h.broadcast(SSEEvent{
				ID:    token,
				Event: "refresh",
				Data: marshalJSON(refreshData{
					ChangeToken: token,
					Timestamp:   time.Now().UTC().Format(time.RFC3339),
				}),
			})

		case <-pingTicker.C:
			token := h.currentToken()
			h.broadcast(SSEEvent{
				ID:    token,
				Event: "ping",
				Data:  marshalJSON(pingData{ChangeToken: token}),
			})
		}
	}
}

// closeAllClients closes all registered client channels.
func (h *SSEHub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// ============================================================================
// SSE HTTP Handler
// ============================================================================

// handleEvents is the HTTP handler for GET /v1/events (SSE endpoint).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrInternal, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Clear the write deadline for this long-lived connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("sse: failed to clear write deadline", "err", err)
	}

	hub := s.sseHub
	ch := hub.register()
	defer hub.unregister(ch)

	// Reconnect support: a stale Last-Event-ID gets an immediate refresh.
	lastEventID := r.Header.Get("Last-Event-ID")
	currentToken := hub.currentToken()

	if lastEventID != "" && lastEventID != currentToken {
		writeSSEEvent(w, flusher, SSEEvent{
			ID:    currentToken,
			Event: "refresh",
			Data: marshalJSON(refreshData{
				ChangeToken: currentToken,
				Timestamp:   time.Now().UTC().Format(time.RFC3339),
			}),
		})
	} else {
		writeSSEEvent(w, flusher, SSEEvent{
			ID:    currentToken,
			Event: "ping",
			Data:  marshalJSON(pingData{ChangeToken: currentToken}),
		})
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				// Hub shutting down.
				return
			}
			writeSSEEvent(w, flusher, event)
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer and flushes.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event SSEEvent) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Event, event.Data)
	flusher.Flush()
}

// marshalJSON is a helper that marshals to JSON, returning "{}" on error.
func marshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
