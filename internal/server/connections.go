package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// PlayerConnection is the room binding of one connection.
type PlayerConnection struct {
	RoomCode string
	PlayerID string
	Name     string
}

// Client is one live socket with its outbound queue. The queue is drained by
// writePump; Send never blocks on the network.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(id string, conn *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// close stops the writer and closes the socket; later calls are no-ops.
func (c *Client) close(status websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			// Close waits for the peer's close frame; never hold a room lock on it.
			go c.conn.Close(status, reason)
		}
	})
}

func (c *Client) writePump(writeTimeout time.Duration, logger *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				logger.Debug("write failed", zap.String("connection", c.id), zap.Error(err))
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

type ConnectionManager struct {
	clients   map[string]*Client          // connectionID → client
	players   map[string]PlayerConnection // connectionID → room binding
	queueSize int
	logger    *zap.Logger
	mu        sync.RWMutex
}

func NewConnectionManager(queueSize int, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionManager{
		clients:   make(map[string]*Client),
		players:   make(map[string]PlayerConnection),
		queueSize: queueSize,
		logger:    logger,
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) *Client {
	client := newClient(id, conn, cm.queueSize)

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.clients[id] = client
	return client
}

// RemoveConnection forgets the connection and returns its room binding, if
// it had one.
func (cm *ConnectionManager) RemoveConnection(id string) (PlayerConnection, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	pc, bound := cm.players[id]
	if client, ok := cm.clients[id]; ok {
		client.close(websocket.StatusNormalClosure, "")
	}
	delete(cm.clients, id)
	delete(cm.players, id)
	return pc, bound
}

func (cm *ConnectionManager) Bind(id string, pc PlayerConnection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.players[id] = pc
}

func (cm *ConnectionManager) Binding(id string) (PlayerConnection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	pc, ok := cm.players[id]
	return pc, ok
}

func (cm *ConnectionManager) GetClient(id string) *Client {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.clients[id]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Send encodes msg and queues it for the connection. A client whose queue is
// full is disconnected rather than allowed to stall the room.
func (cm *ConnectionManager) Send(id string, msg ServerMessage) {
	client := cm.GetClient(id)
	if client == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		cm.logger.Error("marshal outbound message",
			zap.String("type", msg.MessageType()),
			zap.Error(err))
		return
	}

	select {
	case <-client.done:
		return
	default:
	}

	select {
	case client.send <- payload:
	default:
		cm.logger.Warn("send queue full, dropping client",
			zap.String("connection", id),
			zap.String("type", msg.MessageType()))
		client.close(websocket.StatusPolicyViolation, "too slow")
	}
}

// Kick closes a connection's socket; the read loop then runs the normal
// disconnect path.
func (cm *ConnectionManager) Kick(id string, status websocket.StatusCode, reason string) {
	if client := cm.GetClient(id); client != nil {
		client.close(status, reason)
	}
}

// CloseAll shuts every live client down, used on server shutdown.
func (cm *ConnectionManager) CloseAll(status websocket.StatusCode, reason string) int {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		c.close(status, reason)
	}
	return len(clients)
}
