package channel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wabridge/internal/bus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are policed by the CORS middleware
	},
}

type HubConfig struct {
	Broadcaster *bus.Broadcaster
	Logger      *slog.Logger
}

// Hub accepts push channel connections and registers each one with the
// broadcaster for the lifetime of the connection.
type Hub struct {
	broadcaster *bus.Broadcaster
	logger      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient is one browser connection. Writes are serialized by mu.
type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger,
		clients:     make(map[string]*wsClient),
	}
}

// ServeHTTP upgrades the request, greets the client and blocks until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{id: uuid.NewString(), conn: conn}
	if err := client.Notify(bus.Notification{Event: bus.NotifyMessage, Data: bus.MsgConnecting}); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.broadcaster.Subscribe(client)

	h.logger.Info("push client connected", "client_id", client.id, "remote", r.RemoteAddr)

	defer func() {
		h.broadcaster.Unsubscribe(client.id)
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("push client disconnected", "client_id", client.id)
	}()

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "client_id", client.id, "err", err)
			}
			return
		}
	}
}

// Len reports the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll drops every connection; their read loops then unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Notify(n bus.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(n)
}
