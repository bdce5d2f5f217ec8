package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"nhooyr.io/websocket"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// ErrClientClosed is returned by Client calls after the connection is gone.
var ErrClientClosed = errors.New("client closed")

const messageBufferSize = 64

// Client is the dialing side of a ModAPI connection. Replies carrying a
// request_id issued by Request are routed back to the caller; everything else
// is delivered on Messages.
type Client struct {
	ws    *websocket.Conn
	codec *protocol.Codec
	log   *zap.Logger

	nextRequestID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *protocol.DecodedMessage

	messages  chan *protocol.DecodedMessage
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

// ClientOptions configures Dial.
type ClientOptions struct {
	// Subprotocol defaults to DefaultSubprotocol.
	Subprotocol    string
	MaxMessageSize int
	Logger         *zap.Logger
}

// Dial connects to a ModAPI endpoint and starts reading from it.
func Dial(ctx context.Context, url string, codec *protocol.Codec, opts ClientOptions) (*Client, error) {
	subprotocol := opts.Subprotocol
	if subprotocol == "" {
		subprotocol = DefaultSubprotocol
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if conn.Subprotocol() != subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return nil, fmt.Errorf("dial %s: server did not accept subprotocol %q", url, subprotocol)
	}
	if opts.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(opts.MaxMessageSize))
	}

	c := &Client{
		ws:       conn,
		codec:    codec,
		log:      logger.Named("client"),
		pending:  make(map[int64]chan *protocol.DecodedMessage),
		messages: make(chan *protocol.DecodedMessage, messageBufferSize),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Messages returns the channel of messages that are not replies to a pending
// Request. It is closed when the connection ends.
func (c *Client) Messages() <-chan *protocol.DecodedMessage {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send encodes m and writes it to the server.
func (c *Client) Send(ctx context.Context, m proto.Message, opts ...protocol.EncodeOption) error {
	data, err := c.codec.Encode(m, opts...)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Request sends m with a fresh request_id and waits for the reply carrying it.
func (c *Client) Request(ctx context.Context, m proto.Message) (*protocol.DecodedMessage, error) {
	id := c.nextRequestID.Add(1)
	ch := make(chan *protocol.DecodedMessage, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.Send(ctx, m, protocol.WithRequestID(id)); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClientClosed
	}
}

// Close performs the closing handshake and waits for the read loop to stop.
// Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	c.shutdown()
	<-c.readDone
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.messages)
	defer c.shutdown()

	ctx := context.Background()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.log.Debug("read loop ended", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			c.log.Warn("ignoring non-text frame")
			continue
		}

		msg, err := c.codec.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownPacketID) {
				c.log.Debug("ignoring unknown packet", zap.Error(err))
			} else {
				c.log.Warn("discarding frame", zap.Error(err))
			}
			continue
		}

		if c.deliverReply(msg) {
			continue
		}
		select {
		case c.messages <- msg:
		default:
			c.log.Warn("message buffer full, dropping", zap.String("packet_id", msg.ID))
		}
	}
}

func (c *Client) deliverReply(msg *protocol.DecodedMessage) bool {
	id, ok := msg.CorrelationID()
	if !ok {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}
