package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectDelay paces reconnection attempts after a dropped websocket.
const reconnectDelay = 5 * time.Second

// Watcher maintains a websocket subscription to Home Assistant
// state_changed events and caches the latest state per entity. The cache
// lets GetState answer from local data when the REST API is briefly
// unreachable.
type Watcher struct {
	baseURL string
	token   string
	logger  *slog.Logger

	mu     sync.RWMutex
	states map[string]State
}

// NewWatcher creates a state watcher. Run must be called to start it.
func NewWatcher(baseURL, token string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		states:  make(map[string]State),
	}
}

// Get returns the cached state for an entity, if any.
func (w *Watcher) Get(entityID string) (State, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.states[entityID]
	return s, ok
}

// Len returns the number of cached entities.
func (w *Watcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.states)
}

// Run connects and processes events until ctx is cancelled, reconnecting
// with a fixed delay on any failure.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.connectAndWatch(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("HA state watch disconnected", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// wsMessage is the generic Home Assistant websocket message format.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Event   *wsEvent        `json:"event,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

type wsEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// stateChangedData is the payload of a state_changed event.
type stateChangedData struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
}

func (w *Watcher) connectAndWatch(ctx context.Context) error {
	wsURL, err := websocketURL(w.baseURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Close the connection when ctx ends so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := w.authenticate(conn); err != nil {
		return err
	}

	// Subscribe to state changes. ID 1 is fine: it's the first command
	// on a fresh connection.
	sub := map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	w.logger.Info("HA state watch connected", "url", wsURL)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
			continue
		}

		var data stateChangedData
		if err := json.Unmarshal(msg.Event.Data, &data); err != nil || data.NewState == nil {
			continue
		}

		w.mu.Lock()
		w.states[data.EntityID] = *data.NewState
		w.mu.Unlock()
	}
}

// authenticate performs the HA websocket auth handshake.
func (w *Watcher) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected first message type %q", hello.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": w.token}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication failed: %s", result.Type)
	}
	return nil
}

// websocketURL derives the ws(s) endpoint from the HTTP base URL.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket URL
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/websocket"
	return u.String(), nil
}
