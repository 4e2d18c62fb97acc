// Package feed pushes timer changes to connected clients over websockets.
// Each connection subscribes to one venue, receives a full snapshot on
// connect, then a line per change. Slow consumers are disconnected rather
// than allowed to stall the hub.
package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; venue scoping happens at the URL level.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans timer change lines out to per-venue subscriber sets.
type Hub struct {
	streamID     string
	pingInterval time.Duration
	writeTimeout time.Duration
	logf         func(format string, args ...any)

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	venueID string
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func NewHub(streamID string, pingInterval, writeTimeout time.Duration, logf func(format string, args ...any)) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Hub{
		streamID:     streamID,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logf:         logf,
		subs:         make(map[string]map[*subscriber]struct{}),
	}
}

func (h *Hub) StreamID() string { return h.streamID }

// SubscriberCount reports connected subscribers for the venue.
func (h *Hub) SubscriberCount(venueID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[venueID])
}

// Serve upgrades the request and attaches it to the venue's subscriber set.
// The snapshot payload is queued before any subsequent broadcast so the
// client starts from a consistent state.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, venueID string, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	sub := &subscriber{
		venueID: venueID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
	}
	sub.send <- payload

	h.mu.Lock()
	set, ok := h.subs[venueID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[venueID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go h.writePump(sub)
	go h.readPump(sub)
	return nil
}

// Broadcast delivers one feed line to every subscriber of the venue.
func (h *Hub) Broadcast(venueID string, line any) {
	payload, err := json.Marshal(line)
	if err != nil {
		h.logf("feed: marshal broadcast: %v", err)
		return
	}
	h.mu.Lock()
	var stalled []*subscriber
	for sub := range h.subs[venueID] {
		select {
		case sub.send <- payload:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range stalled {
		h.drop(sub)
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range all {
		h.drop(sub)
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.venueID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.venueID)
		}
	}
	h.mu.Unlock()
	sub.once.Do(func() {
		close(sub.send)
		sub.conn.Close()
	})
}

func (h *Hub) writePump(sub *subscriber) {
	ping := time.NewTicker(h.pingInterval)
	defer func() {
		ping.Stop()
		h.drop(sub)
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			if !ok {
				sub.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(h.writeTimeout))
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(sub *subscriber) {
	defer h.drop(sub)
	wait := h.pingInterval + h.writeTimeout
	sub.conn.SetReadLimit(1024)
	sub.conn.SetReadDeadline(time.Now().Add(wait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		// Clients do not send application messages; the read loop only
		// surfaces disconnects and pong frames.
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}
