package ws

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// ErrNoHandler is returned by Dispatch for packet ids without a handler.
var ErrNoHandler = errors.New("no handler")

// HandlerFunc handles one decoded message. A non-nil reply is sent back on
// the same connection carrying the request's request_id.
type HandlerFunc func(ctx context.Context, c *Conn, msg *protocol.DecodedMessage) (proto.Message, error)

// Router maps packet ids to handlers. Handlers are registered before the
// router serves traffic; it is read-only afterwards.
type Router struct {
	reg      *protocol.Registry
	handlers map[string]HandlerFunc
}

// NewRouter creates a router accepting the ids of reg.
func NewRouter(reg *protocol.Registry) *Router {
	return &Router{
		reg:      reg,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers h for the packet id. The id must be registered and may
// only be handled once.
func (r *Router) Handle(id string, h HandlerFunc) error {
	if _, ok := r.reg.LookupType(id); !ok {
		return &protocol.UnknownPacketIDError{PacketID: id}
	}
	if _, ok := r.handlers[id]; ok {
		return fmt.Errorf("%w: handler for %q", protocol.ErrDuplicateRegistration, id)
	}
	r.handlers[id] = h
	return nil
}

// Dispatch runs the handler for msg.
func (r *Router) Dispatch(ctx context.Context, c *Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
	h, ok := r.handlers[msg.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msg.ID)
	}
	return h(ctx, c, msg)
}
