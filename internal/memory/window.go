package memory

import "sync"

// DefaultWindowSize is the conversation window capacity used when the
// configured value is zero.
const DefaultWindowSize = 10

// Window is a fixed-capacity FIFO of conversation messages for one
// session. When full, appending evicts the oldest message. One Window
// exists per conversation identifier; the identifier itself is owned by
// the transport layer.
type Window struct {
	mu       sync.RWMutex
	capacity int
	messages []Message
}

// NewWindow creates a window holding at most capacity messages.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{
		capacity: capacity,
		messages: make([]Message, 0, capacity),
	}
}

// Append adds a message, evicting the oldest if the window is full.
func (w *Window) Append(m Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.messages) >= w.capacity {
		drop := len(w.messages) - w.capacity + 1
		w.messages = append(w.messages[:0], w.messages[drop:]...)
	}
	w.messages = append(w.messages, m)
}

// Snapshot returns a copy of the window's contents, oldest first.
func (w *Window) Snapshot() []Message {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Len returns the number of messages currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.messages)
}

// Capacity returns the window's fixed capacity.
func (w *Window) Capacity() int {
	return w.capacity
}
