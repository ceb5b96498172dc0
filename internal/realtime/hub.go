// Package realtime is the dashboard control channel: a websocket hub that
// authenticates operators, executes device and logic commands and fans
// out live events.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/whatsapp-automation/botdesk/internal/logic"
	"github.com/whatsapp-automation/botdesk/internal/notify"
	"github.com/whatsapp-automation/botdesk/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// Devices is the session manager surface used by the dashboard.
type Devices interface {
	List() []session.DeviceInfo
	Add(id string) (bool, error)
	Remove(id string) bool
	Restart(id string) bool
	RestartAll()
	HardReset(id string) bool
	RequestQR(id string) (qr session.QRCode, cached, found bool)
}

// Logics is the logic registry surface used by the dashboard.
type Logics interface {
	List() []logic.Info
	LoadAll() int
	Save(name, source string) error
	Remove(name string) bool
}

// Transcripts reads conversation logs.
type Transcripts interface {
	Read(deviceID, userID string) (string, error)
}

// Authenticator checks dashboard credentials.
type Authenticator interface {
	Verify(username, password string) bool
}

// Options wires the hub to its collaborators.
type Options struct {
	Devices        Devices
	Logics         Logics
	Transcripts    Transcripts
	Auth           Authenticator
	AllowedOrigins []string
}

// envelope is the frame format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub tracks dashboard connections.
type Hub struct {
	devices     Devices
	logics      Logics
	transcripts Transcripts
	auth        Authenticator
	upgrader    websocket.Upgrader
	log         *zap.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub creates a hub. Attach it to the bus to receive broadcasts.
func NewHub(opts Options) *Hub {
	return &Hub{
		devices:     opts.Devices,
		logics:      opts.Logics,
		transcripts: opts.Transcripts,
		auth:        opts.Auth,
		upgrader:    makeUpgrader(opts.AllowedOrigins),
		log:         zap.L().Named("realtime"),
		conns:       make(map[string]*conn),
	}
}

// makeUpgrader creates a websocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Attach subscribes the hub to every dashboard broadcast on bus.
func (h *Hub) Attach(bus *notify.Bus) {
	bus.SubscribeAll(notify.Broadcasts, h.Broadcast)
}

// Broadcast sends an event to every authenticated connection. Connections
// whose send buffer is full are dropped.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.log.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	var slow []*conn
	h.mu.RLock()
	for _, c := range h.conns {
		if !c.isAuthenticated() {
			continue
		}
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow dashboard connection", zap.String("conn_id", c.id))
		h.unregister(c)
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and serves one dashboard connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		id:   uuid.New().String(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.log.Info("dashboard connected", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()

	c.shutdown()
	if ok {
		h.log.Info("dashboard disconnected", zap.String("conn_id", c.id))
	}
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

// conn is one dashboard session. The authenticated flag lives and dies
// with the socket.
type conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	authenticated bool
	username      string
	closed        bool
}

func (c *conn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *conn) setAuthenticated(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.username = username
}

func (c *conn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// emit sends an event to this connection only.
func (c *conn) emit(event string, payload any) {
	data, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		c.hub.log.Error("failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.hub.log.Warn("dashboard send buffer full", zap.String("conn_id", c.id))
		c.hub.unregister(c)
	}
}

func (c *conn) readPump() {
	defer func() {
		if r := recover(); r != nil {
			c.hub.log.Error("panic in dashboard connection", zap.String("conn_id", c.id), zap.Any("panic", r))
		}
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("dashboard read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.hub.log.Warn("invalid frame from dashboard", zap.String("conn_id", c.id), zap.Error(err))
			c.emit(notify.EventRequestError, RequestError{Message: "mensagem inválida"})
			continue
		}
		c.hub.handle(c, env)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.log.Debug("dashboard write failed", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
