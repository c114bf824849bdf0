// ABOUTME: ConnectionManager tracks live WebSocket clients by connection id
// ABOUTME: Each client serializes its own writes so responses never interleave

package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harper/rpcd/internal/logger"
)

const writeWait = 10 * time.Second

type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*ClientConnection
}

// ClientConnection is one attached socket. It implements server.Sender.
type ClientConnection struct {
	id       string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	attached time.Time
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*ClientConnection),
	}
}

// AttachClient registers conn under a fresh id.
func (cm *ConnectionManager) AttachClient(conn *websocket.Conn) *ClientConnection {
	client := &ClientConnection{
		id:       uuid.New().String(),
		conn:     conn,
		attached: time.Now(),
	}

	cm.mu.Lock()
	cm.connections[client.id] = client
	total := len(cm.connections)
	cm.mu.Unlock()

	logger.Debug("[WS:%s] Client attached (%d total clients)", client.id[:8], total)
	return client
}

func (cm *ConnectionManager) DetachClient(id string) {
	cm.mu.Lock()
	_, ok := cm.connections[id]
	delete(cm.connections, id)
	total := len(cm.connections)
	cm.mu.Unlock()

	if ok {
		logger.Debug("[WS:%s] Client detached (%d remaining)", shortID(id), total)
	}
}

func (cm *ConnectionManager) Get(id string) (*ClientConnection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll sends a going-away close frame to every client and closes it.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	clients := make([]*ClientConnection, 0, len(cm.connections))
	for _, c := range cm.connections {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (c *ClientConnection) ID() string { return c.id }

func (c *ClientConnection) Attached() time.Time { return c.attached }

// Send writes one text message.
func (c *ClientConnection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket.
func (c *ClientConnection) Close(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
