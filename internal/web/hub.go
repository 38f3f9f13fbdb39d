package web

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antonstocut/personseeker/internal/logger"
	"github.com/antonstocut/personseeker/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Message is the envelope written to websocket clients
type Message struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Message types besides the forwarded event types
const (
	MessageWelcome = "welcome"
	MessagePing    = "ping"
	MessagePong    = "pong"
)

// streamedEvents are forwarded from the event bus to every client
var streamedEvents = []service.EventType{
	service.EventTypeOverlaysChanged,
	service.EventTypeCountChanged,
	service.EventTypePrimaryDistanceChanged,
	service.EventTypeDetectionStarted,
	service.EventTypeDetectionPaused,
	service.EventTypeSourceConnected,
	service.EventTypeSourceDisconnected,
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan Message

	mu     sync.Mutex
	closed bool
}

// trySend queues msg without blocking; it reports false when the client is
// closed or lagging.
func (c *wsClient) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans presentation events out to websocket clients. A client whose
// buffer is full is dropped rather than slowing the others.
type Hub struct {
	logger   *logger.Logger
	upgrader websocket.Upgrader
	welcome  func() interface{}

	mu      sync.RWMutex
	clients map[string]*wsClient
	count   atomic.Int32
	closed  bool
}

// NewHub creates a hub. welcome, when set, builds the payload of the first
// message each client receives.
func NewHub(log *logger.Logger, welcome func() interface{}) *Hub {
	return &Hub{
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		welcome: welcome,
		clients: make(map[string]*wsClient),
	}
}

// Run forwards bus events until ctx is done
func (h *Hub) Run(ctx context.Context, bus *service.EventBus) {
	if bus == nil {
		return
	}
	bus.SubscribeWithHandler(ctx, func(ctx context.Context, ev service.Event) error {
		h.Broadcast(Message{
			Type:      string(ev.Type),
			Payload:   ev.Data,
			Timestamp: ev.Timestamp.UnixMilli(),
		})
		return nil
	}, nil, streamedEvents...)
}

// Broadcast queues msg for every connected client. A client that cannot
// take the message is disconnected; overlay events are deltas, so it must
// reconnect and start again from the welcome snapshot.
func (h *Hub) Broadcast(msg Message) {
	var lagging []*wsClient
	h.mu.RLock()
	for _, c := range h.clients {
		if !c.trySend(msg) {
			lagging = append(lagging, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range lagging {
		h.logger.Warn("Websocket client lagging, disconnecting", "client_id", c.id, "type", msg.Type)
		h.unregister(c)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
	h.count.Store(0)
}

// ServeWS upgrades the request and starts the client pumps
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	client := &wsClient{
		id:   clientID,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}

	welcome := Message{Type: MessageWelcome, ClientID: clientID, Timestamp: time.Now().UnixMilli()}
	if h.welcome != nil {
		welcome.Payload = h.welcome()
	}
	client.trySend(welcome)

	if !h.register(client) {
		conn.Close()
		return
	}
	h.logger.Info("Websocket client connected", "client_id", clientID)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if old, ok := h.clients[c.id]; ok {
		old.close()
	} else {
		h.count.Add(1)
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		h.count.Add(-1)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.logger.Info("Websocket client disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Websocket read error", "client_id", c.id, "error", err)
			}
			return
		}

		switch msg.Type {
		case MessagePing:
			c.trySend(Message{Type: MessagePong, ClientID: c.id, Timestamp: time.Now().UnixMilli()})
		default:
			h.logger.Debug("Ignoring websocket message", "client_id", c.id, "type", msg.Type)
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
