package main

import (
	"encoding/json"
	"sync"

	"github.com/Branis333/brainink-speech/internal/ws"
)

// monitorHub fans session lifecycle events out to SSE subscribers. Sends are
// non-blocking: a slow subscriber drops events rather than stalling the
// session loop that published them.
type monitorHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newMonitorHub() *monitorHub {
	return &monitorHub{subs: map[chan []byte]struct{}{}}
}

func (h *monitorHub) subscribe() chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *monitorHub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Publish implements ws.Monitor.
func (h *monitorHub) Publish(ev ws.MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
	h.mu.Unlock()
}
