package ws

import (
	"sync"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// Hub tracks active connections and fans messages out to them.
type Hub struct {
	codec *protocol.Codec
	log   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*Conn

	register   chan registration
	unregister chan *Conn
	done       chan struct{}
	stopOnce   sync.Once
}

type registration struct {
	conn *Conn
	done chan struct{}
}

// NewHub creates a new Hub that encodes broadcasts with codec.
func NewHub(codec *protocol.Codec, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		codec:      codec,
		log:        logger.Named("hub"),
		conns:      make(map[string]*Conn),
		register:   make(chan registration),
		unregister: make(chan *Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. It should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case r := <-h.register:
			h.mu.Lock()
			h.conns[r.conn.id] = r.conn
			n := len(h.conns)
			h.mu.Unlock()
			close(r.done)
			h.log.Debug("connection registered", zap.String("conn", r.conn.id), zap.Int("active", n))

		case conn := <-h.unregister:
			h.mu.Lock()
			delete(h.conns, conn.id)
			n := len(h.conns)
			h.mu.Unlock()
			h.log.Debug("connection unregistered", zap.String("conn", conn.id), zap.Int("active", n))

		case <-h.done:
			return
		}
	}
}

// Stop signals the hub to stop its run loop. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Register adds a connection to the hub. The connection is counted by the
// time Register returns. It returns immediately once the hub is stopped.
func (h *Hub) Register(conn *Conn) {
	r := registration{conn: conn, done: make(chan struct{})}
	select {
	case h.register <- r:
	case <-h.done:
		return
	}
	select {
	case <-r.done:
	case <-h.done:
	}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Count returns the number of active connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast encodes m once and queues it on every active connection. It
// returns the number of connections the message was queued on.
func (h *Hub) Broadcast(m proto.Message) (int, error) {
	data, err := h.codec.Encode(m)
	if err != nil {
		h.log.Error("dropping broadcast", zap.Error(err))
		return 0, err
	}
	hdr, err := protocol.ReadHeader(data)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	queued := 0
	for _, c := range h.conns {
		if c.enqueue(outbound{data: data, header: hdr}) {
			queued++
		}
	}
	return queued, nil
}
