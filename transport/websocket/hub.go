package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/verifygate/gate/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outbound frames buffered per connection before it is dropped.
	sendBuffer = 64
)

var (
	ErrNotConnected = errors.New("user is not connected")
	ErrHubClosed    = errors.New("websocket hub is closed")
	ErrSlowConsumer = errors.New("connection send buffer is full")
	ErrNoWatchers   = errors.New("no watcher connected")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Outbound message types
const (
	TypeArrival    = "arrival"
	TypeNotice     = "notice"
	TypeOutcome    = "outcome"
	TypeDisconnect = "disconnect"
	TypeEvent      = "event"
	TypeAction     = "action"
	TypeError      = "error"
)

// InboundSubmit is the only frame type accepted from user connections
const InboundSubmit = "submit"

// Message is a frame sent by the gate
type Message struct {
	Type   string   `json:"type"`
	UserID string   `json:"user_id,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Lines  []string `json:"lines,omitempty"`
	Data   any      `json:"data,omitempty"`
}

// Inbound is a frame sent by a user connection
type Inbound struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

// Handler receives the lifecycle and inbound frames of user connections. It
// is never called from the hub loop, so it may call back into the hub.
type Handler interface {
	OnConnect(ctx context.Context, userID string)
	OnMessage(ctx context.Context, userID string, in Inbound)
	OnDisconnect(ctx context.Context, userID string)
}

type registerRequest struct {
	client *Client
	ready  chan struct{}
}

type unregisterRequest struct {
	client *Client
	reply  chan bool
}

// Hub owns every connection. Users have at most one connection each; a new
// connection for the same user replaces the old one. Watchers receive
// broadcast events and actions.
type Hub struct {
	// Current connection per user
	clients map[string]*Client

	// Admin connections receiving broadcasts
	watchers map[*Client]bool

	register   chan registerRequest
	unregister chan unregisterRequest
	broadcast  chan []byte
	exec       chan func()
	done       chan struct{}

	handler Handler
	logger  *slog.Logger
}

// NewHub creates a hub that reports user connections to handler
func NewHub(handler Handler, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		watchers:   make(map[*Client]bool),
		register:   make(chan registerRequest),
		unregister: make(chan unregisterRequest),
		broadcast:  make(chan []byte),
		exec:       make(chan func()),
		done:       make(chan struct{}),
		handler:    handler,
		logger:     logging.OrDiscard(logger).With("component", "websocket"),
	}
}

// Run starts the hub's event loop and blocks until ctx is done. Every
// connection is closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-h.register:
			req.client.ctx = ctx
			h.registerClient(req.client)
			close(req.ready)

		case req := <-h.unregister:
			req.reply <- h.dropClient(req.client)

		case data := <-h.broadcast:
			h.broadcastMessage(data)

		case fn := <-h.exec:
			fn()
		}
	}
}

// Done is closed once Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ServeUser upgrades the request into the connection of userID
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	h.serve(w, r, userID, false)
}

// ServeWatcher upgrades the request into a watcher connection
func (h *Hub) ServeWatcher(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "", true)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, userID string, watcher bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userID:  userID,
		watcher: watcher,
	}

	// The pumps start only once the loop has registered the client and set
	// its context.
	req := registerRequest{client: client, ready: make(chan struct{})}
	select {
	case h.register <- req:
	case <-h.done:
		conn.Close()
		return
	}
	<-req.ready

	go client.writePump()
	go client.readPump()
}

// Send delivers msg to the current connection of userID
func (h *Hub) Send(ctx context.Context, userID string, msg *Message) error {
	return h.deliver(ctx, userID, msg, false)
}

// Close delivers msg to userID as its final frame and closes the connection.
// The user's Handler.OnDisconnect is not called for hub-initiated closes.
func (h *Hub) Close(ctx context.Context, userID string, msg *Message) error {
	return h.deliver(ctx, userID, msg, true)
}

func (h *Hub) deliver(ctx context.Context, userID string, msg *Message, closeAfter bool) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var sendErr error
	if err := h.do(ctx, func() {
		sendErr = h.sendToUser(userID, data, closeAfter)
	}); err != nil {
		return err
	}
	return sendErr
}

// Broadcast sends msg to every watcher and reports how many were reached
func (h *Hub) Broadcast(ctx context.Context, msg *Message) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	var n int
	if err := h.do(ctx, func() {
		n = h.broadcastMessage(data)
	}); err != nil {
		return 0, err
	}
	return n, nil
}

// Publish queues msg for every watcher without waiting for delivery
func (h *Hub) Publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether userID has a live connection
func (h *Hub) Connected(ctx context.Context, userID string) bool {
	var ok bool
	if err := h.do(ctx, func() {
		_, ok = h.clients[userID]
	}); err != nil {
		return false
	}
	return ok
}

// Counts returns the number of user and watcher connections
func (h *Hub) Counts(ctx context.Context) (users, watchers int, err error) {
	err = h.do(ctx, func() {
		users, watchers = len(h.clients), len(h.watchers)
	})
	return users, watchers, err
}

// do runs fn on the hub loop and waits for it to finish
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.exec <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// release unregisters c and reports whether it was still registered
func (h *Hub) release(c *Client) bool {
	req := unregisterRequest{client: c, reply: make(chan bool, 1)}
	select {
	case h.unregister <- req:
		return <-req.reply
	case <-h.done:
		return false
	}
}

// reply sends msg to c only, if it is still registered
func (h *Hub) reply(ctx context.Context, c *Client, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = h.do(ctx, func() {
		if h.registered(c) {
			h.enqueue(c, data)
		}
	})
}

// registerClient adds a connection, replacing any previous one of the user
func (h *Hub) registerClient(client *Client) {
	if client.watcher {
		h.watchers[client] = true
		h.logger.Debug("watcher connected", "watchers", len(h.watchers))
		return
	}

	if old, ok := h.clients[client.userID]; ok {
		h.dropClient(old)
		h.logger.Info("connection replaced", "user_id", client.userID)
	}
	h.clients[client.userID] = client
	h.logger.Debug("user connected", "user_id", client.userID, "connections", len(h.clients))
}

// dropClient removes a connection and closes its send channel. It reports
// false when the connection was already gone.
func (h *Hub) dropClient(client *Client) bool {
	if !h.registered(client) {
		return false
	}
	if client.watcher {
		delete(h.watchers, client)
	} else {
		delete(h.clients, client.userID)
	}
	close(client.send)
	return true
}

func (h *Hub) registered(client *Client) bool {
	if client.watcher {
		return h.watchers[client]
	}
	return h.clients[client.userID] == client
}

func (h *Hub) sendToUser(userID string, data []byte, closeAfter bool) error {
	client, ok := h.clients[userID]
	if !ok {
		return ErrNotConnected
	}
	if !h.enqueue(client, data) {
		return ErrSlowConsumer
	}
	if closeAfter {
		h.dropClient(client)
	}
	return nil
}

// enqueue queues data on client, dropping the connection if it cannot keep up
func (h *Hub) enqueue(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		h.logger.Warn("dropping slow connection", "user_id", client.userID, "watcher", client.watcher)
		h.dropClient(client)
		return false
	}
}

// broadcastMessage sends data to every watcher
func (h *Hub) broadcastMessage(data []byte) int {
	n := 0
	for client := range h.watchers {
		if h.enqueue(client, data) {
			n++
		}
	}
	return n
}

func (h *Hub) closeAll() {
	for _, client := range h.clients {
		h.dropClient(client)
	}
	for client := range h.watchers {
		h.dropClient(client)
	}
}
