package ws

import (
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"nhooyr.io/websocket"

	"github.com/mcdiamondfire/modapi/internal/protocol"
)

// DefaultSubprotocol is the WebSocket subprotocol spoken by the endpoint.
const DefaultSubprotocol = "modapi.v1"

// Options configures UpgradeHandler.
type Options struct {
	// Subprotocol defaults to DefaultSubprotocol.
	Subprotocol    string
	Protocol       string
	MaxMessageSize int
	Codec          *protocol.Codec
	Router         *Router
	Journal        Journal
	Logger         *zap.Logger
	// Greeting, when set, builds a message sent to each new connection once
	// the hub counts it.
	Greeting func() (proto.Message, error)
}

// UpgradeHandler returns an HTTP handler that upgrades connections to WebSocket.
func UpgradeHandler(hub *Hub, opts Options) http.HandlerFunc {
	subprotocol := opts.Subprotocol
	if subprotocol == "" {
		subprotocol = DefaultSubprotocol
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{subprotocol},
		})
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
			return
		}

		// Verify subprotocol was negotiated.
		if conn.Subprotocol() != subprotocol {
			conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
			return
		}

		c := NewConn(conn, hub, ConnConfig{
			RemoteAddr:     r.RemoteAddr,
			Protocol:       opts.Protocol,
			MaxMessageSize: opts.MaxMessageSize,
			Codec:          opts.Codec,
			Router:         opts.Router,
			Journal:        opts.Journal,
			Logger:         logger,
			Greeting:       opts.Greeting,
		})

		c.log.Info("new websocket connection", zap.String("remote", r.RemoteAddr))

		// Run the connection (blocking).
		c.Run(r.Context())
	}
}
