// Package hub fans chat frames out to every connected websocket.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/metrics"
	"go.uber.org/zap"
)

// DefaultQueueSize is the per-socket outbound buffer.
const DefaultQueueSize = 64

const writeTimeout = 5 * time.Second

// TextHandler turns an inbound text frame into a chat message.
type TextHandler func(ctx context.Context, sender, text string) error

// SystemFrame is a notice shown to every participant.
type SystemFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// client is one accepted socket. send is drained by a single writer.
type client struct {
	id   string
	send chan []byte
	conn *websocket.Conn
}

// Hub tracks connected sockets and broadcasts frames to them.
type Hub struct {
	queue   int
	metrics *metrics.Server
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	onText  TextHandler
	closed  bool
}

// New creates an empty hub.
func New(m *metrics.Server, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		queue:   DefaultQueueSize,
		metrics: m,
		logger:  logger.With(zap.String("component", "hub")),
		clients: make(map[*client]struct{}),
	}
}

// OnText sets the handler for inbound text frames.
func (h *Hub) OnText(fn TextHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onText = fn
}

// Len returns the number of connected sockets.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and runs the socket for clientID until either
// side closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return fmt.Errorf("accept websocket: %w", err)
	}
	c := &client{id: clientID, send: make(chan []byte, h.queue), conn: conn}
	if !h.add(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return errors.New("hub closed")
	}
	h.logger.Info("client connected", zap.String("client_id", clientID))
	h.System(clientID + " joined")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, cancel, c)
	h.readLoop(ctx, c)

	h.remove(c)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("client disconnected", zap.String("client_id", clientID))
	h.System(clientID + " left")
	return nil
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.ClientConnected()
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.metrics.ClientDisconnected()
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Debug("websocket read ended", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		text, err := message.NormalizeText(string(data))
		if err != nil {
			continue
		}

		h.mu.RLock()
		fn := h.onText
		h.mu.RUnlock()
		if fn == nil {
			continue
		}
		if err := fn(ctx, c.id, text); err != nil {
			h.logger.Warn("inbound frame rejected", zap.String("client_id", c.id), zap.Error(err))
			h.sendTo(c, SystemFrame{Type: "system", Text: "message rejected: " + err.Error()})
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				h.logger.Debug("websocket write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		}
	}
}

// Broadcast sends a created message to every socket.
func (h *Hub) Broadcast(m message.Message) {
	h.publish(m)
}

// System sends a notice to every socket.
func (h *Hub) System(text string) {
	h.publish(SystemFrame{Type: "system", Text: text})
}

func (h *Hub) publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

func (h *Hub) sendTo(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.enqueue(c, data)
}

// enqueue never blocks; a socket whose queue is full misses the frame.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("dropping frame for slow client", zap.String("client_id", c.id))
	}
}

// Close disconnects every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
