// Package hub keeps the set of connected feed sockets and pushes events to
// them.
package hub

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/golang/glog"

	"feedsync/pkg/envelope"
)

const writeTimeout = 5 * time.Second

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type clientConn struct {
	conn     Conn
	userID   int
	username string

	mu     sync.Mutex
	closed bool
}

func (cc *clientConn) send(data []byte) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed {
		return
	}
	cc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		glog.V(1).Infof("[HUB] send error user=%d: %v", cc.userID, err)
		// the read loop sees the close and unregisters the client
		cc.closed = true
		cc.conn.Close()
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*clientConn]struct{}
	byUser  map[int][]*clientConn
}

func New() *Hub {
	return &Hub{
		clients: make(map[*clientConn]struct{}),
		byUser:  make(map[int][]*clientConn),
	}
}

// HandleClientConn serves one socket until it disconnects. Clients only
// listen; the one frame they may send is a ping.
func (h *Hub) HandleClientConn(c Conn, userID int, username string) {
	cc := &clientConn{conn: c, userID: userID, username: username}
	h.register(cc)
	glog.Infof("[HUB] Client connected: user_id=%d username=%s total=%d", userID, username, h.ClientCount())

	defer func() {
		h.unregister(cc)
		cc.mu.Lock()
		cc.closed = true
		cc.mu.Unlock()
		c.Close()
		glog.Infof("[HUB] Client disconnected: user_id=%d username=%s total=%d", userID, username, h.ClientCount())
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Unmarshal(raw)
		if err != nil {
			h.reply(cc, envelope.NewError("frame", "hub", 400, "invalid JSON"))
			continue
		}

		switch env.Action {
		case "ping":
			h.reply(cc, envelope.New("pong", "hub"))
		default:
			h.reply(cc, envelope.NewError(env.Action, "hub", 404, "unknown action: "+env.Action))
		}
	}
}

func (h *Hub) register(cc *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cc] = struct{}{}
	if cc.userID > 0 {
		h.byUser[cc.userID] = append(h.byUser[cc.userID], cc)
	}
}

func (h *Hub) unregister(cc *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, cc)
	if cc.userID <= 0 {
		return
	}
	conns := h.byUser[cc.userID]
	for i, conn := range conns {
		if conn == cc {
			h.byUser[cc.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.byUser[cc.userID]) == 0 {
		delete(h.byUser, cc.userID)
	}
}

func (h *Hub) reply(cc *clientConn, env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		return
	}
	cc.send(data)
}

// Broadcast sends env to every connected client. Sends happen in call
// order, so clients see events in the order they were broadcast.
func (h *Hub) Broadcast(env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		glog.Warningf("[HUB] marshal %s: %v", env.Action, err)
		return
	}
	h.mu.RLock()
	clients := make([]*clientConn, 0, len(h.clients))
	for cc := range h.clients {
		clients = append(clients, cc)
	}
	h.mu.RUnlock()

	for _, cc := range clients {
		cc.send(data)
	}
	glog.V(2).Infof("[HUB] %s -> %d clients", env.Action, len(clients))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) AuthenticatedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
