// Package events exposes controller events to the surrounding application
// over HTTP: a WebSocket feed, a state snapshot and Prometheus metrics.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PCL-Community/PCL.Core-sub001/internal/app"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// Tuning constants.
const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type subscriber struct {
	out  chan []byte
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.out) }) }

// Hub fans controller events out to WebSocket subscribers. It implements
// app.EventSink.
type Hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

var _ app.EventSink = (*Hub)(nil)

// Publish implements app.EventSink. Subscribers whose outbox is full are
// dropped rather than waited on.
func (h *Hub) Publish(e app.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		util.LogWarning("[events] failed to encode %s event: %v", e.Kind, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.out <- payload:
		default:
			util.LogWarning("[events] subscriber too slow, dropping it")
			delete(h.subs, s)
			s.close()
		}
	}
}

// Subscribers returns the number of connected feeds.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) add() *subscriber {
	s := &subscriber{out: make(chan []byte, outboxSize)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// closeAll disconnects every subscriber.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		delete(h.subs, s)
		s.close()
	}
}

// handleWS upgrades the request and streams events until either side
// goes away. Incoming messages are ignored.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := h.add()
	defer h.remove(sub)
	util.LogDebug("[events] feed connected from %s", r.RemoteAddr)

	// Reader: only needed to notice the peer closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sub.out:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
