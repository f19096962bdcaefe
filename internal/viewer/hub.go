// Package viewer connects browser-side 3D viewers over WebSocket. The hub
// is the camera.Viewer the track writes to, and it forwards media commands
// to the clients' audio and video elements.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ivlev/geostory/internal/activation"
	"github.com/ivlev/geostory/internal/camera"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
	"github.com/ivlev/geostory/internal/system"
)

var ErrHubClosed = errors.New("viewer hub closed")

// Message types on the wire.
const (
	TypePose  = "pose"  // both ways: camera writes, camera reports
	TypeLoad  = "load"  // hub -> client: prepare a media element
	TypeMedia = "media" // hub -> client: seek/start/stop/rate
	TypeReady = "ready" // client -> hub: media element can play
	TypeError = "error" // client -> hub: media element failed
)

const sendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same-origin, plus localhost for development.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}
		host := r.Host
		if strings.HasPrefix(origin, "http://") {
			return origin[len("http://"):] == host
		}
		if strings.HasPrefix(origin, "https://") {
			return origin[len("https://"):] == host
		}
		return false
	},
}

// Message is the envelope for every frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LoadRequest asks clients to prepare a media element.
type LoadRequest struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Src  string `json:"src"`
}

// MediaCommand drives one client media element.
type MediaCommand struct {
	ID     string  `json:"id"`
	Op     string  `json:"op"`
	Offset float64 `json:"offset,omitempty"` // seconds
	Rate   float64 `json:"rate,omitempty"`
}

// Report is a client's readiness or failure notice for a media element.
type Report struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

type pending struct {
	req  LoadRequest
	done chan struct{}
	err  error
}

// Hub tracks connected viewers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	pose    camera.Pose
	loads   map[string]*pending
	closed  bool

	onTransport func(TransportCommand)

	logger  *logging.Logger
	metrics *metrics.Registry
}

type Option func(*Hub)

func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) { h.logger = l.WithComponent("viewer") }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[*client]bool),
		loads:   make(map[string]*pending),
		logger:  logging.Discard(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetView stores the pose and broadcasts it. Slow clients drop frames.
func (h *Hub) SetView(p camera.Pose) error {
	msg, err := encode(TypePose, p)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.pose = p
	h.mu.Unlock()
	h.broadcast(msg)
	return nil
}

// CurrentPose is the last pose written or reported by a client.
func (h *Hub) CurrentPose() camera.Pose {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pose
}

// Reset sets the stored pose without broadcasting. Clients that connect
// later get it in their replay.
func (h *Hub) Reset(p camera.Pose) {
	h.mu.Lock()
	h.pose = p
	h.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Loader announces a media element to every client, current and future,
// and resolves once a client reports it ready.
func (h *Hub) Loader(id, kind, src string) activation.LoadFunc {
	return func(ctx context.Context) (activation.Sink, error) {
		if err := h.announce(LoadRequest{ID: id, Kind: kind, Src: src}); err != nil {
			return nil, err
		}
		if err := h.AwaitReady(ctx, id); err != nil {
			return nil, err
		}
		return &RemoteSink{hub: h, id: id}, nil
	}
}

// AwaitReady blocks until a client reports id ready or failed.
func (h *Hub) AwaitReady(ctx context.Context, id string) error {
	h.mu.RLock()
	p, ok := h.loads[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("media %s was never announced", id)
	}
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) announce(req LoadRequest) error {
	msg, err := encode(TypeLoad, req)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	if _, exists := h.loads[req.ID]; !exists {
		h.loads[req.ID] = &pending{req: req, done: make(chan struct{})}
	}
	h.mu.Unlock()
	h.broadcast(msg)
	return nil
}

func (h *Hub) resolve(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.loads[r.ID]
	if !ok {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	if r.Error != "" {
		p.err = fmt.Errorf("viewer failed to load %s: %s", p.req.Src, r.Error)
	}
	close(p.done)
}

func (h *Hub) command(cmd MediaCommand) error {
	msg, err := encode(TypeMedia, cmd)
	if err != nil {
		return err
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return ErrHubClosed
	}
	h.broadcast(msg)
	return nil
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client buffer full, skip
		}
	}
}

// ServeHTTP upgrades the connection and replays pending loads and the
// current pose to the new client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	replay := make([]any, 0, len(h.loads)+1)
	for _, p := range h.loads {
		replay = append(replay, p.req)
	}
	replay = append(replay, h.pose)
	for _, item := range replay {
		kind := TypeLoad
		if _, ok := item.(camera.Pose); ok {
			kind = TypePose
		}
		msg, err := encode(kind, item)
		if err != nil {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("viewer replay truncated", "remote", r.RemoteAddr)
		}
	}
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.ViewerClients.Set(float64(n))
	h.logger.Info("viewer connected", "remote", r.RemoteAddr, "clients", n)

	go c.writePump()
	go c.readPump(h)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.ViewerClients.Set(float64(n))
	h.logger.Info("viewer disconnected", "clients", n)
}

// Close disconnects every client and fails pending loads.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	for _, p := range h.loads {
		select {
		case <-p.done:
		default:
			p.err = ErrHubClosed
			close(p.done)
		}
	}
	h.metrics.ViewerClients.Set(0)
}

func (h *Hub) handle(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Debug("malformed viewer message", "error", err)
		return
	}
	switch msg.Type {
	case TypePose:
		var p camera.Pose
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return
		}
		h.mu.Lock()
		h.pose = p
		h.mu.Unlock()
	case TypeTransport:
		var cmd TransportCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return
		}
		h.transport(cmd)
	case TypeReady, TypeError:
		var r Report
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return
		}
		if msg.Type == TypeError && r.Error == "" {
			r.Error = "unknown error"
		}
		h.logger.Debug("media report", "id", r.ID, "type", msg.Type, "error", r.Error)
		h.resolve(r)
	}
}

// readPump handles incoming messages from a client
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		h.handle(message)
	}
}

// writePump sends messages to the client
func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}

func encode(kind string, data any) ([]byte, error) {
	buf := system.GetBuffer()
	defer system.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	payload := json.RawMessage(buf.Bytes())
	out, err := json.Marshal(Message{Type: kind, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return out, nil
}
