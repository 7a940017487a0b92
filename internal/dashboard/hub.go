// Package dashboard exposes a running daemon over HTTP: a small REST API to
// read cached states and submit operations, and a WebSocket feed that
// broadcasts state changes and command completions as they are applied.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
)

// MessageType defines the type of a feed message.
type MessageType string

const (
	// MessageTypeStateChanged carries refreshed file states.
	MessageTypeStateChanged MessageType = "state_changed"

	// MessageTypeCommandCompleted reports an applied command.
	MessageTypeCommandCompleted MessageType = "command_completed"
)

// Message is one feed item.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StateChangedData lists the states that changed. All is set when the
// cache was dropped and clients should refetch /status.
type StateChangedData struct {
	All    bool               `json:"all"`
	States []state.FileStatus `json:"states,omitempty"`
}

type CommandCompletedData struct {
	ID      uint64        `json:"id"`
	Kind    provider.Kind `json:"kind"`
	Success bool          `json:"success"`
	Errors  []string      `json:"errors,omitempty"`
}

// Hub fans messages out to connected WebSocket clients.
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run delivers broadcasts until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			h.cancel()
			return
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()
	h.wg.Wait()
}

// Broadcast queues msg for every client. Messages are dropped when the
// queue is full.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("broadcast queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (h *Hub) publish(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	h.Broadcast(Message{Type: typ, Data: raw})
}

// StateChanged implements daemon.Sink.
func (h *Hub) StateChanged(states []state.FileStatus, all bool) {
	h.publish(MessageTypeStateChanged, StateChangedData{All: all, States: states})
}

// CommandCompleted implements daemon.Sink.
func (h *Hub) CommandCompleted(id uint64, kind provider.Kind, success bool, errs []string) {
	h.publish(MessageTypeCommandCompleted, CommandCompletedData{ID: id, Kind: kind, Success: success, Errors: errs})
}

func (h *Hub) deliver(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clientsMu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Debug("failed to send to client", zap.Error(err))
			h.removeClient(conn)
		}
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// the dashboard binds to localhost only
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Info("client connected", zap.Int("clients", count))

	h.wg.Add(1)
	go h.readLoop(conn)
}

// readLoop keeps the connection serviced and notices disconnects. Client
// messages are ignored.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("client disconnected", zap.Int("clients", count))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
