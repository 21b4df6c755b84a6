// Package realtime fans application events out to connected WebSocket
// clients. Connections are grouped into per-user rooms so one user's open
// tabs and devices all receive the same events. Delivery is best-effort: a
// client that cannot keep up with its buffered send queue is dropped rather
// than allowed to stall the hub.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types pushed over the wire.
const (
	// EventNotification accompanies a newly created notification record.
	EventNotification = "notification"
	// EventDistressAlert is the urgent partner alert from the escalation
	// gate. Clients should surface it immediately.
	EventDistressAlert = "distressAlert"
)

// Event is the envelope every pushed message uses.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Ts      int64  `json:"ts"`
}

// publishReq pairs a serialized event with its target room.
type publishReq struct {
	userID string
	data   []byte
}

// Hub owns the per-user rooms and the register/unregister/publish loop.
// All room mutation happens on the Run goroutine; Publish and the
// registration methods only post to channels and never block on sockets.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	publish    chan publishReq
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub constructs a Hub. Call Run on its own goroutine before serving
// connections.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publishReq, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registration and publish requests until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			room := h.rooms[c.userID]
			if room == nil {
				room = make(map[*Client]struct{})
				h.rooms[c.userID] = room
			}
			room[c] = struct{}{}
			h.mu.Unlock()
			log.Debug().Str("user_id", c.userID).Msg("realtime client joined")

		case c := <-h.unregister:
			h.drop(c)

		case req := <-h.publish:
			h.mu.RLock()
			room := h.rooms[req.userID]
			for c := range room {
				select {
				case c.send <- req.data:
				default:
					// Slow consumer. Kick it; the client reconnects and
					// re-syncs from the REST surface.
					log.Warn().Str("user_id", c.userID).Msg("realtime client send buffer full, dropping")
					go h.Leave(c)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Close stops the Run loop and closes every client send channel.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Join registers a client with its user's room.
func (h *Hub) Join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Leave removes a client from its room and closes its send channel.
func (h *Hub) Leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish pushes an event to every connection in the user's room. It is
// non-blocking: when the hub's queue is full the event is dropped and
// logged, never allowed to stall a caller mid-request.
func (h *Hub) Publish(userID, eventType string, payload any) {
	data, err := json.Marshal(Event{
		Type:    eventType,
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("realtime event marshal failed")
		return
	}
	select {
	case h.publish <- publishReq{userID: userID, data: data}:
	default:
		log.Warn().Str("user_id", userID).Str("event", eventType).Msg("realtime publish queue full, event dropped")
	}
}

// RoomSize reports the number of open connections for a user.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[userID])
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.userID]
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.userID)
	}
	close(c.send)
	log.Debug().Str("user_id", c.userID).Msg("realtime client left")
}
