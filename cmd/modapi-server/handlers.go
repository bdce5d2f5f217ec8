package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/protocol/schema"
	"github.com/mcdiamondfire/modapi/internal/ws"
)

// newRouter installs the handlers for the client-bound ids of reg. Ids the
// registry does not carry are skipped, so the plugin protocol gets none.
func newRouter(reg *protocol.Registry, logger *zap.Logger) (*ws.Router, error) {
	r := ws.NewRouter(reg)
	handlers := map[string]ws.HandlerFunc{
		"c2s_code_operation":        handleCodeOperation,
		"c2s_multi_code_operations": handleMultiCodeOperations,
		"c2s_player_teleport":       handlePlayerTeleport,
	}
	for id, h := range handlers {
		if _, ok := reg.LookupType(id); !ok {
			continue
		}
		if err := r.Handle(id, h); err != nil {
			return nil, fmt.Errorf("handle %s: %w", id, err)
		}
		logger.Debug("handler installed", zap.String("packet_id", id))
	}
	return r, nil
}

func handleCodeOperation(ctx context.Context, c *ws.Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
	data := schema.Get(msg.Message, "template_data").String()
	if data == "" {
		return placeResult("missing template data")
	}
	c.Logger().Info("code operation", zap.Int("template_bytes", len(data)))
	return placeResult("")
}

func handleMultiCodeOperations(ctx context.Context, c *ws.Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
	ops := schema.Get(msg.Message, "operations").List()
	if ops.Len() == 0 {
		return placeResult("no operations")
	}
	for i := 0; i < ops.Len(); i++ {
		op := ops.Get(i).Message().Interface()
		if schema.Get(op, "template_data").String() == "" {
			return placeResult(fmt.Sprintf("operation %d: missing template data", i))
		}
	}
	c.Logger().Info("code operations", zap.Int("count", ops.Len()))
	return placeResult("")
}

func handlePlayerTeleport(ctx context.Context, c *ws.Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
	loc := schema.Get(msg.Message, "location").Message()
	fields := loc.Descriptor().Fields()
	c.Logger().Info("player teleport",
		zap.Float64("x", loc.Get(fields.ByName("x")).Float()),
		zap.Float64("y", loc.Get(fields.ByName("y")).Float()),
		zap.Float64("z", loc.Get(fields.ByName("z")).Float()),
	)
	return nil, nil
}

// placeResult builds an s2c_place_template_result; an empty reason is success.
func placeResult(reason string) (proto.Message, error) {
	m := schema.S2CPlaceTemplateResult.New().Interface()
	if err := schema.Set(m, "success", protoreflect.ValueOfBool(reason == "")); err != nil {
		return nil, err
	}
	if reason != "" {
		if err := schema.Set(m, "error", protoreflect.ValueOfString(reason)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// greeting returns a builder for the server info message of reg, sent to
// every new connection. The hub already counts the connection being greeted.
func greeting(reg *protocol.Registry, name string, hub *ws.Hub) func() (proto.Message, error) {
	var mt protoreflect.MessageType
	for _, id := range []string{"s2c_server_info", "server_info"} {
		if t, ok := reg.LookupType(id); ok {
			mt = t
			break
		}
	}
	if mt == nil {
		return nil
	}
	return func() (proto.Message, error) {
		m := mt.New().Interface()
		if err := schema.Set(m, "name", protoreflect.ValueOfString(name)); err != nil {
			return nil, err
		}
		if err := schema.Set(m, "player_count", protoreflect.ValueOfInt32(int32(hub.Count()))); err != nil {
			return nil, err
		}
		return m, nil
	}
}
