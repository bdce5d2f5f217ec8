package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/proto"
	"nhooyr.io/websocket"

	"github.com/mcdiamondfire/modapi/internal/observability"
	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/protocol/schema"
	"github.com/mcdiamondfire/modapi/internal/store"
)

var errHandlerFailed = errors.New("template rejected")

type testServer struct {
	url   string
	hub   *Hub
	logs  *observer.ObservedLogs
	codec *protocol.Codec
}

// setupTestServer starts a ModAPI endpoint with a router answering
// c2s_code_operation with s2c_place_template_result. A template_data of
// "fail" makes the handler return an error, and c2s_player_teleport is
// handled without a reply.
func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	codec := protocol.NewCodec(protocol.ModAPI())
	router := NewRouter(codec.Registry())
	if err := router.Handle("c2s_code_operation", func(ctx context.Context, c *Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
		if schema.Get(msg.Message, "template_data").String() == "fail" {
			return nil, errHandlerFailed
		}
		return schema.FromJSON(schema.S2CPlaceTemplateResult, `{"success":true}`)
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := router.Handle("c2s_player_teleport", func(ctx context.Context, c *Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	hub := NewHub(codec, logger)
	go hub.Run()

	opts.Codec = codec
	opts.Router = router
	opts.Logger = logger
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 65536
	}
	server := httptest.NewServer(UpgradeHandler(hub, opts))

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})

	return &testServer{
		url:   "ws" + strings.TrimPrefix(server.URL, "http"),
		hub:   hub,
		logs:  logs,
		codec: codec,
	}
}

// dialTestServer connects to the test server with the modapi.v1 subprotocol.
func dialTestServer(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{DefaultSubprotocol},
	})
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	return conn
}

func sendText(t *testing.T, ctx context.Context, conn *websocket.Conn, text string) {
	t.Helper()

	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

func readText(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("Response message type = %v, want Text", typ)
	}
	return string(data)
}

// activeConn returns the single connection registered with the hub.
func activeConn(t *testing.T, hub *Hub) *Conn {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		for _, c := range hub.conns {
			hub.mu.RUnlock()
			return c
		}
		hub.mu.RUnlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no connection registered with the hub")
	return nil
}

func TestRequestReply(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "reply carries the request id",
			input: `{"template_data":"H4sI","packet_id":"c2s_code_operation","request_id":42}`,
			want:  `{"success":true,"packet_id":"s2c_place_template_result","request_id":42}`,
		},
		{
			name:  "json field names accepted",
			input: `{"templateData":"H4sI","packet_id":"c2s_code_operation","request_id":7}`,
			want:  `{"success":true,"packet_id":"s2c_place_template_result","request_id":7}`,
		},
		{
			name:  "no request id, none in reply",
			input: `{"packet_id":"c2s_code_operation"}`,
			want:  `{"success":true,"packet_id":"s2c_place_template_result"}`,
		},
	}

	srv := setupTestServer(t, Options{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dialTestServer(t, ctx, srv.url)
			sendText(t, ctx, conn, tt.input)

			if got := readText(t, ctx, conn); got != tt.want {
				t.Errorf("reply = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBadFramesAreDiscarded(t *testing.T) {
	srv := setupTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv.url)

	for _, frame := range []string{
		`not json`,
		`{"template_data":"x"}`,
		`{"packet_id":"c2s_code_operation","request_id":"1"}`,
		`{"packet_id":"c2s_code_operation","location":"here"}`,
		`{"packet_id":"c2s_from_the_future"}`,
		`{"packet_id":"c2s_code_operation","template_data":"fail","request_id":1}`,
		`{"packet_id":"s2c_server_info","request_id":2}`,
	} {
		sendText(t, ctx, conn, frame)
	}

	// The connection survives and later frames are still served.
	sendText(t, ctx, conn, `{"packet_id":"c2s_code_operation","request_id":3}`)
	if got, want := readText(t, ctx, conn), `{"success":true,"packet_id":"s2c_place_template_result","request_id":3}`; got != want {
		t.Fatalf("reply = %s, want %s", got, want)
	}

	tests := []struct {
		message string
		level   string
		want    int
	}{
		{message: "discarding frame", level: "warn", want: 4},
		{message: "ignoring unknown packet", level: "debug", want: 1},
		{message: "handler failed", level: "warn", want: 1},
		{message: "no handler for packet", level: "debug", want: 1},
	}
	for _, tt := range tests {
		entries := srv.logs.FilterMessage(tt.message).All()
		if len(entries) != tt.want {
			t.Errorf("%q logged %d times, want %d", tt.message, len(entries), tt.want)
			continue
		}
		for _, e := range entries {
			if e.Level.String() != tt.level {
				t.Errorf("%q logged at %s, want %s", tt.message, e.Level, tt.level)
			}
		}
	}
}

func TestBinaryFrameClosesConnection(t *testing.T) {
	srv := setupTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv.url)
	if err := conn.Write(ctx, websocket.MessageBinary, []byte(`{"packet_id":"c2s_code_operation"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("Expected connection to be closed after a binary frame")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusUnsupportedData {
		t.Errorf("Close status = %d, want %d (StatusUnsupportedData)", status, websocket.StatusUnsupportedData)
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	srv := setupTestServer(t, Options{MaxMessageSize: 128})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv.url)
	big := `{"packet_id":"c2s_code_operation","template_data":"` + strings.Repeat("A", 256) + `"}`
	sendText(t, ctx, conn, big)

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusMessageTooBig {
		t.Errorf("Close status = %d, want %d (StatusMessageTooBig)", status, websocket.StatusMessageTooBig)
	}
}

func TestConnSendUnregistered(t *testing.T) {
	srv := setupTestServer(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialTestServer(t, ctx, srv.url)
	c := activeConn(t, srv.hub)

	// Plugin-only message on a ModAPI connection.
	m, err := schema.FromJSON(schema.PlayerCurrency, `{"balance":5}`)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if err := c.Send(m); !errors.Is(err, protocol.ErrUnregisteredType) {
		t.Errorf("Send() error = %v, want ErrUnregisteredType", err)
	}
	if n := srv.logs.FilterMessage("dropping outgoing message").Len(); n != 1 {
		t.Errorf("dropping outgoing message logged %d times, want 1", n)
	}
}

// discardCount reads the discarded frame counter for reason from the
// default registry.
func discardCount(t *testing.T, reason string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "modapi_ws_discarded_frames_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == reason {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestReplyDroppedWhenSendBufferFull(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	codec := protocol.NewCodec(protocol.ModAPI())
	router := NewRouter(codec.Registry())
	if err := router.Handle("c2s_code_operation", func(ctx context.Context, c *Conn, msg *protocol.DecodedMessage) (proto.Message, error) {
		return schema.FromJSON(schema.S2CPlaceTemplateResult, `{"success":true}`)
	}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	// An unbuffered send channel with no writer is always full.
	c := &Conn{id: "conn-1", codec: codec, router: router, log: zap.New(core), send: make(chan outbound)}

	msg, err := codec.Decode([]byte(`{"packet_id":"c2s_code_operation","request_id":4}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	before := discardCount(t, observability.ReasonReplyDropped)
	c.dispatch(context.Background(), msg)
	if got := discardCount(t, observability.ReasonReplyDropped) - before; got != 1 {
		t.Errorf("reply_dropped discards grew by %v, want 1", got)
	}

	entries := logs.FilterMessage("reply dropped").All()
	if len(entries) != 1 {
		t.Fatalf("reply dropped logged %d times, want 1", len(entries))
	}
	if id := entries[0].ContextMap()["request_id"]; id != int64(4) {
		t.Errorf("reply dropped request_id = %v, want 4", id)
	}
}

func TestJournal(t *testing.T) {
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := setupTestServer(t, Options{Journal: st, Protocol: protocol.NameModAPI})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv.url)
	request := `{"packet_id":"c2s_code_operation","request_id":9}`
	sendText(t, ctx, conn, request)
	reply := readText(t, ctx, conn)

	c := activeConn(t, srv.hub)

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := st.CountFrames(ctx)
		if err != nil {
			t.Fatalf("CountFrames: %v", err)
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("CountFrames = %d, want 2", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames, err := st.ListFrames(ctx, c.ID(), 0)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	want := []struct {
		direction string
		packetID  string
		payload   string
	}{
		{store.DirectionIn, "c2s_code_operation", request},
		{store.DirectionOut, "s2c_place_template_result", reply},
	}
	if len(frames) != len(want) {
		t.Fatalf("len(frames) = %d, want %d", len(frames), len(want))
	}
	for i, w := range want {
		f := frames[i]
		if f.Direction != w.direction || f.PacketID != w.packetID || f.Payload != w.payload {
			t.Errorf("frame %d = %s %s %s, want %s %s %s", i, f.Direction, f.PacketID, f.Payload, w.direction, w.packetID, w.payload)
		}
		if f.RequestID == nil || *f.RequestID != 9 {
			t.Errorf("frame %d RequestID = %v, want 9", i, f.RequestID)
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline = time.Now().Add(2 * time.Second)
	for {
		got, err := st.GetConnection(ctx, c.ID())
		if err != nil {
			t.Fatalf("GetConnection: %v", err)
		}
		if got.ClosedAt != nil {
			if got.Protocol != protocol.NameModAPI {
				t.Errorf("Protocol = %q, want %q", got.Protocol, protocol.NameModAPI)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection was not marked closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
