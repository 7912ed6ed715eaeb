package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/adaxion/LibMythicPlus/internal/peersync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	maxFrame   = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub relays frames between the clients that share a scope group.
type Hub struct {
	logger *logrus.Logger

	mu     sync.Mutex
	groups map[string]map[*member]struct{}
}

type member struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	groups map[peersync.Scope]string
}

// NewHub creates an empty relay.
func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{logger: logger, groups: make(map[string]map[*member]struct{})}
}

// ServeHTTP upgrades the request and relays frames until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	groups := groupsFromQuery(r.URL.Query()).byScope()
	if len(groups) == 0 {
		http.Error(w, "no group joined", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("relay: ServeHTTP - upgrade failed")
		return
	}

	m := &member{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		groups: groups,
	}
	h.join(m)
	h.logger.WithField("conn", m.id).Debug("relay: ServeHTTP - client joined")

	go h.writeLoop(m)
	h.readLoop(m)
}

// Members returns the number of clients in a scope group.
func (h *Hub) Members(scope peersync.Scope, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[groupKey(scope, group)])
}

func groupKey(scope peersync.Scope, group string) string {
	return string(scope) + ":" + group
}

func (h *Hub) join(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for scope, group := range m.groups {
		key := groupKey(scope, group)
		if h.groups[key] == nil {
			h.groups[key] = make(map[*member]struct{})
		}
		h.groups[key][m] = struct{}{}
	}
}

func (h *Hub) leave(m *member) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for scope, group := range m.groups {
		key := groupKey(scope, group)
		delete(h.groups[key], m)
		if len(h.groups[key]) == 0 {
			delete(h.groups, key)
		}
	}
	close(m.send)
}

func (h *Hub) readLoop(m *member) {
	defer func() {
		h.leave(m)
		m.conn.Close()
		h.logger.WithField("conn", m.id).Debug("relay: readLoop - client left")
	}()
	m.conn.SetReadLimit(maxFrame)

	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.WithError(err).WithField("conn", m.id).Debug("relay: readLoop - discarding malformed frame")
			continue
		}
		h.fanOut(m, frame.Scope, data)
	}
}

// fanOut queues data for every other member of the sender's group in scope. Slow members
// miss the frame.
func (h *Hub) fanOut(from *member, scope peersync.Scope, data []byte) {
	group, ok := from.groups[scope]
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for m := range h.groups[groupKey(scope, group)] {
		if m == from {
			continue
		}
		select {
		case m.send <- data:
		default:
			h.logger.WithField("conn", m.id).Warn("relay: fanOut - send buffer full, frame dropped")
		}
	}
}

func (h *Hub) writeLoop(m *member) {
	for data := range m.send {
		m.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			m.conn.Close()
			for range m.send {
			}
			return
		}
	}
}
