// Package rvkiosk drives kiosk displays: it rotates through the board's
// listings on a fixed interval and pushes each one to every connected display
// over a WebSocket.
package rvkiosk

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/metalab/rendezvous/internal/rvstore"
)

const (
	DefaultInterval = 10 * time.Second

	// EventListing is the event name of messages carrying a listing.
	EventListing = "listing"

	// Deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// How long to wait for a pong before treating a connection as dead. Pings
	// go out at 90% of this.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Per-client outgoing message buffer depth. Clients that fall this far
	// behind are dropped.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Kiosks are often served from a different origin than the board.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string           `json:"event"`
	Data  *rvstore.Listing `json:"data"`
}

// ListingRotator is the part of a listing store the Hub needs.
type ListingRotator interface {
	GetNextAfter(ctx context.Context, id string) *rvstore.Listing
}

type Hub struct {
	interval time.Duration
	logger   *logrus.Logger
	name     string
	store    ListingRotator

	mu      sync.RWMutex
	clients map[*client]struct{}
	current *rvstore.Listing
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger, store ListingRotator, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Hub{
		clients:  make(map[*client]struct{}),
		interval: interval,
		logger:   logger,
		name:     reflect.TypeOf(Hub{}).Name(),
		store:    store,
	}
}

// Run advances to the next listing and broadcasts it every interval. It blocks
// until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.advance(ctx)

		select {
		case <-ctx.Done():
			h.logger.Infof(h.name + ": Received shutdown signal")
			h.closeAll()
			return

		case <-ticker.C:
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Interval is how long each listing stays on display.
func (h *Hub) Interval() time.Duration {
	return h.interval
}

// Current returns the listing currently on display.
func (h *Hub) Current(ctx context.Context) *rvstore.Listing {
	h.mu.RLock()
	current := h.current
	h.mu.RUnlock()

	if current == nil {
		return h.store.GetNextAfter(ctx, "")
	}
	return current
}

// ServeHTTP upgrades the connection to a WebSocket, sends the listing currently
// on display, and then keeps the client in the broadcast rotation until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		h.logger.Infof(h.name+": Error upgrading connection: %v", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Queued before registering so that nothing else can have closed the
	// channel yet.
	if data, err := buildMessage(h.Current(r.Context())); err == nil {
		c.send <- data
	}

	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) advance(ctx context.Context) {
	h.mu.Lock()
	var currentID string
	if h.current != nil {
		currentID = h.current.ID
	}
	next := h.store.GetNextAfter(ctx, currentID)
	h.current = next
	h.mu.Unlock()

	data, err := buildMessage(next)
	if err != nil {
		h.logger.Errorf(h.name+": Error building message: %v", err)
		return
	}

	h.broadcast(data)
}

// Sends happen under the read lock so that unregister, which needs the write
// lock, can't close a channel out from under them.
func (h *Hub) broadcast(data []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Infof(h.name + ": Dropping client with full send buffer")
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
}

// Safe to call more than once for the same client.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func buildMessage(listing *rvstore.Listing) ([]byte, error) {
	data, err := json.Marshal(&Message{Event: EventListing, Data: listing})
	if err != nil {
		return nil, xerrors.Errorf("error marshaling message: %w", err)
	}
	return data, nil
}

// Drains the client's send channel to its connection, pinging periodically.
// Exits when the channel is closed or a write fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reads (and discards) frames so that control messages get processed and a
// disconnect is noticed. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
