package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPing(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/" {
			t.Errorf("path = %q, want /api/", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"message": "API running."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", gotAuth)
	}
}

func TestPingUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "API starting."})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for unexpected status message")
	}
}

func TestGetStates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %q, want /api/states", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]State{
			{EntityID: "light.kitchen", State: "on"},
			{EntityID: "lock.front_door", State: "locked"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	if states[0].EntityID != "light.kitchen" || states[0].State != "on" {
		t.Errorf("unexpected first state: %+v", states[0])
	}
}

func TestGetState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/light.kitchen" {
			t.Errorf("path = %q, want /api/states/light.kitchen", r.URL.Path)
		}
		json.NewEncoder(w).Encode(State{
			EntityID:   "light.kitchen",
			State:      "on",
			Attributes: map[string]any{"brightness": float64(128)},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	state, err := c.GetState(context.Background(), "light.kitchen")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.State != "on" {
		t.Errorf("state = %q, want on", state.State)
	}
	if state.Attributes["brightness"] != float64(128) {
		t.Errorf("brightness = %v, want 128", state.Attributes["brightness"])
	}
}

// fakeCache is a stand-in for the watcher in fallback tests.
type fakeCache struct {
	states map[string]State
}

func (f *fakeCache) Get(entityID string) (State, bool) {
	s, ok := f.states[entityID]
	return s, ok
}

func TestGetStateWatcherFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	c.SetWatcher(&fakeCache{states: map[string]State{
		"light.kitchen": {EntityID: "light.kitchen", State: "off"},
	}})

	state, err := c.GetState(context.Background(), "light.kitchen")
	if err != nil {
		t.Fatalf("expected cached state, got error: %v", err)
	}
	if state.State != "off" {
		t.Errorf("state = %q, want off", state.State)
	}

	// No cache entry for this one, so the REST error surfaces.
	if _, err := c.GetState(context.Background(), "light.bedroom"); err == nil {
		t.Error("expected error for uncached entity")
	}
}

func TestGetStateNoWatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	if _, err := c.GetState(context.Background(), "light.kitchen"); err == nil {
		t.Error("expected error when REST fails and no watcher is set")
	}
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != "POST" {
			t.Errorf("method = %q, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	err := c.CallService(context.Background(), "lock", "lock", map[string]any{
		"entity_id": "lock.front_door",
	})
	if err != nil {
		t.Fatalf("CallService failed: %v", err)
	}
	if gotPath != "/api/services/lock/lock" {
		t.Errorf("path = %q, want /api/services/lock/lock", gotPath)
	}
	if gotBody["entity_id"] != "lock.front_door" {
		t.Errorf("entity_id = %v, want lock.front_door", gotBody["entity_id"])
	}
}

func TestCallServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token")
	err := c.CallService(context.Background(), "light", "turn_on", nil)
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr bool
	}{
		{"http", "http://ha.local:8123", "ws://ha.local:8123/api/websocket", false},
		{"https", "https://ha.example.com", "wss://ha.example.com/api/websocket", false},
		{"trailing slash", "http://ha.local:8123/", "ws://ha.local:8123/api/websocket", false},
		{"already ws", "ws://ha.local:8123", "ws://ha.local:8123/api/websocket", false},
		{"bad scheme", "ftp://ha.local", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.baseURL)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("websocketURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
