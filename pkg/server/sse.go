// Package server - live alert streaming over Server-Sent Events.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/logsift/logsift/internal/model"
)

// Broker fans alert events out to connected SSE clients.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// Event is one frame on the stream.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	ID    string `json:"id,omitempty"`
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new client channel.
func (b *Broker) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a client channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Publish sends an event to every subscriber. A client whose buffer is
// full misses the event rather than stalling the publisher.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribers reports the connected client count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Handler streams alerts to a client until it disconnects. The initial
// callback provides the backlog sent before live events begin.
func (b *Broker) Handler(initial func() []model.Alert) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ch := b.Subscribe()
		defer b.Unsubscribe(ch)

		if initial != nil {
			if backlog := initial(); len(backlog) > 0 {
				writeSSEEvent(w, Event{Event: "init", Data: backlog})
				flusher.Flush()
			}
		}

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				writeSSEEvent(w, event)
				flusher.Flush()
			}
		}
	}
}

// writeSSEEvent writes one event in SSE wire format.
func writeSSEEvent(w http.ResponseWriter, event Event) {
	if event.ID != "" {
		fmt.Fprintf(w, "id: %s\n", event.ID)
	}
	fmt.Fprintf(w, "event: %s\n", event.Event)

	data, _ := json.Marshal(event.Data)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
