package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"nhooyr.io/websocket"

	"github.com/mcdiamondfire/modapi/internal/observability"
	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/store"
)

const sendBufferSize = 256

// Journal records connections and the frames crossing them.
// *store.Store implements it.
type Journal interface {
	OpenConnection(ctx context.Context, c *store.Connection) error
	CloseConnection(ctx context.Context, id string, closedAt int64) error
	RecordFrame(ctx context.Context, f *store.Frame) error
}

type outbound struct {
	data   []byte
	header protocol.Header
}

// Conn wraps a WebSocket connection with read/write pumps.
type Conn struct {
	id         string
	remoteAddr string
	ws         *websocket.Conn
	hub        *Hub
	codec      *protocol.Codec
	router     *Router
	journal    Journal
	protocol   string
	log        *zap.Logger
	greeting   func() (proto.Message, error)
	send       chan outbound
	once       sync.Once
	cancel     context.CancelFunc

	maxMessageSize int64
}

// ConnConfig carries the collaborators of a Conn.
type ConnConfig struct {
	RemoteAddr     string
	Protocol       string
	MaxMessageSize int
	Codec          *protocol.Codec
	Router         *Router
	Journal        Journal
	Logger         *zap.Logger
	// Greeting, when set, builds the first message queued on the
	// connection, after it is registered with the hub.
	Greeting func() (proto.Message, error)
}

// NewConn creates a new Conn with a fresh connection id.
func NewConn(ws *websocket.Conn, hub *Hub, cfg ConnConfig) *Conn {
	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		id:             id,
		remoteAddr:     cfg.RemoteAddr,
		ws:             ws,
		hub:            hub,
		codec:          cfg.Codec,
		router:         cfg.Router,
		journal:        cfg.Journal,
		protocol:       cfg.Protocol,
		log:            logger.With(zap.String("conn", id)),
		greeting:       cfg.Greeting,
		send:           make(chan outbound, sendBufferSize),
		maxMessageSize: int64(cfg.MaxMessageSize),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *zap.Logger {
	return c.log
}

// Run starts the read and write pumps. It blocks until the connection is closed.
func (c *Conn) Run(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.hub.Register(c)
	defer c.hub.Unregister(c)
	c.greet()

	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	c.openJournal(ctx)
	defer c.closeJournal()

	if c.maxMessageSize > 0 {
		c.ws.SetReadLimit(c.maxMessageSize)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()

	wg.Wait()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

// Send encodes m and queues it for writing. Messages whose type is not
// registered are dropped and the error returned.
func (c *Conn) Send(m proto.Message, opts ...protocol.EncodeOption) error {
	data, err := c.codec.Encode(m, opts...)
	if err != nil {
		c.log.Error("dropping outgoing message", zap.Error(err))
		return err
	}
	hdr, err := protocol.ReadHeader(data)
	if err != nil {
		return err
	}
	if !c.enqueue(outbound{data: data, header: hdr}) {
		return ErrSendBufferFull
	}
	return nil
}

// ErrSendBufferFull is returned by Send when the connection is not keeping up.
var ErrSendBufferFull = errors.New("send buffer full")

func (c *Conn) enqueue(out outbound) bool {
	select {
	case c.send <- out:
		return true
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("packet_id", out.header.PacketID))
		return false
	}
}

// readPump reads frames from the WebSocket and dispatches them.
func (c *Conn) readPump(ctx context.Context) {
	defer c.close()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.log.Debug("connection closed normally")
			} else if ctx.Err() == nil {
				c.log.Info("read error", zap.Error(err))
			}
			return
		}

		if typ != websocket.MessageText {
			c.log.Warn("received non-text message, closing")
			c.ws.Close(websocket.StatusUnsupportedData, "text frames only")
			return
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.discard(err, len(data))
			continue
		}

		observability.RecordFrame(store.DirectionIn, msg.ID)
		c.record(ctx, store.DirectionIn, protocol.Header{PacketID: msg.ID, RequestID: msg.RequestID}, data)
		c.dispatch(ctx, msg)
	}
}

// discard logs a frame that could not be decoded.
func (c *Conn) discard(err error, size int) {
	observability.RecordDiscard(observability.DiscardReason(err))
	if errors.Is(err, protocol.ErrUnknownPacketID) {
		c.log.Debug("ignoring unknown packet", zap.Error(err))
		return
	}
	c.log.Warn("discarding frame", zap.Error(err), zap.Int("size", size))
}

func (c *Conn) dispatch(ctx context.Context, msg *protocol.DecodedMessage) {
	if c.router == nil {
		return
	}

	log := c.log.With(zap.String("packet_id", msg.ID))
	if id, ok := msg.CorrelationID(); ok {
		log = log.With(zap.Int64("request_id", id))
	}

	reply, err := c.router.Dispatch(ctx, c, msg)
	if err != nil {
		if errors.Is(err, ErrNoHandler) {
			log.Debug("no handler for packet")
		} else {
			observability.RecordDiscard(observability.ReasonHandlerError)
			log.Warn("handler failed", zap.Error(err))
		}
		return
	}
	if reply == nil {
		return
	}
	if err := c.Send(reply, protocol.ReplyTo(msg)); err != nil {
		observability.RecordDiscard(observability.ReasonReplyDropped)
		log.Warn("reply dropped", zap.Error(err))
	}
}

func (c *Conn) greet() {
	if c.greeting == nil {
		return
	}
	m, err := c.greeting()
	if err != nil {
		c.log.Error("build greeting", zap.Error(err))
		return
	}
	if m == nil {
		return
	}
	if err := c.Send(m); err != nil {
		c.log.Warn("greeting dropped", zap.Error(err))
	}
}

// writePump writes queued frames to the WebSocket.
func (c *Conn) writePump(ctx context.Context) {
	defer c.close()

	for {
		select {
		case out := <-c.send:
			if err := c.ws.Write(ctx, websocket.MessageText, out.data); err != nil {
				if ctx.Err() == nil {
					c.log.Info("write error", zap.Error(err))
				}
				return
			}
			observability.RecordFrame(store.DirectionOut, out.header.PacketID)
			c.record(ctx, store.DirectionOut, out.header, out.data)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) openJournal(ctx context.Context) {
	if c.journal == nil {
		return
	}
	err := c.journal.OpenConnection(ctx, &store.Connection{
		ID:         c.id,
		RemoteAddr: c.remoteAddr,
		Protocol:   c.protocol,
		OpenedAt:   time.Now().Unix(),
	})
	if err != nil {
		c.log.Error("journal disabled for connection", zap.Error(err))
		c.journal = nil
	}
}

func (c *Conn) closeJournal() {
	if c.journal == nil {
		return
	}
	// The request context is gone by now.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.journal.CloseConnection(ctx, c.id, time.Now().Unix()); err != nil {
		c.log.Warn("close journal entry", zap.Error(err))
	}
}

func (c *Conn) record(ctx context.Context, direction string, hdr protocol.Header, data []byte) {
	if c.journal == nil {
		return
	}
	err := c.journal.RecordFrame(ctx, &store.Frame{
		ConnID:    c.id,
		Direction: direction,
		PacketID:  hdr.PacketID,
		RequestID: hdr.RequestID,
		Payload:   string(data),
	})
	if err != nil && ctx.Err() == nil {
		c.log.Warn("record frame", zap.Error(err), zap.String("direction", direction))
	}
}

// close cancels the connection context, closing both pumps.
func (c *Conn) close() {
	c.once.Do(func() {
		c.cancel()
	})
}
