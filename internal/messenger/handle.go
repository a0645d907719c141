package messenger

import (
	"context"
	"sync"
)

// Handle holds the session's Client once it is established.
// Until Set is called (and after Clear), Client returns ErrNotReady.
type Handle struct {
	mu     sync.RWMutex
	client Client
	ready  chan struct{}
}

func NewHandle() *Handle {
	return &Handle{ready: make(chan struct{})}
}

// Set publishes c. The first call closes Ready().
func (h *Handle) Set(c Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client = c
	if c == nil {
		return
	}
	select {
	case <-h.ready:
	default:
		close(h.ready)
	}
}

// Clear withdraws the client, e.g. after the device was logged out.
func (h *Handle) Clear() {
	h.mu.Lock()
	h.client = nil
	h.mu.Unlock()
}

func (h *Handle) Client() (Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.client == nil {
		return nil, ErrNotReady
	}
	return h.client, nil
}

// Ready is closed the first time a client is published.
func (h *Handle) Ready() <-chan struct{} { return h.ready }

// SendText lets the handle serve as the log chat sink.
func (h *Handle) SendText(ctx context.Context, to, text string) error {
	c, err := h.Client()
	if err != nil {
		return err
	}
	return c.SendText(ctx, to, text)
}
