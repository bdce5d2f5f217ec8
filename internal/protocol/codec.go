package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Unknown fields are skipped so the envelope fields and fields added by newer
// peers never fail a decode.
var mergeOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// DecodedMessage is the result of decoding one envelope.
type DecodedMessage struct {
	ID        string
	Message   proto.Message
	RequestID *int64
}

// CorrelationID returns the request id carried by the envelope, if any.
func (d *DecodedMessage) CorrelationID() (int64, bool) {
	if d.RequestID == nil {
		return 0, false
	}
	return *d.RequestID, true
}

// EncodeOption configures a single Encode call.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	requestID    int64
	hasRequestID bool
}

// WithRequestID sets the request_id of the envelope.
func WithRequestID(id int64) EncodeOption {
	return func(o *encodeOptions) {
		o.requestID = id
		o.hasRequestID = true
	}
}

// ReplyTo copies the request id of req, if it has one.
func ReplyTo(req *DecodedMessage) EncodeOption {
	return func(o *encodeOptions) {
		if req == nil {
			return
		}
		if id, ok := req.CorrelationID(); ok {
			o.requestID = id
			o.hasRequestID = true
		}
	}
}

// Codec converts between registered messages and JSON envelopes. It holds
// no mutable state and is safe for concurrent use.
type Codec struct {
	reg *Registry
}

// NewCodec creates a codec over a frozen registry.
func NewCodec(reg *Registry) *Codec {
	return &Codec{reg: reg}
}

// Registry returns the registry the codec resolves ids with.
func (c *Codec) Registry() *Registry {
	return c.reg
}

// Encode serializes m as a JSON envelope. The message's own fields come
// first, in their canonical protobuf JSON form, followed by packet_id and
// then request_id when one is given.
func (c *Codec) Encode(m proto.Message, opts ...EncodeOption) ([]byte, error) {
	var o encodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnregisteredType)
	}
	name := m.ProtoReflect().Descriptor().FullName()
	id, ok := c.reg.LookupID(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredType, name)
	}

	body, err := protojson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}

	// protojson output is deliberately unstable in its whitespace.
	var buf bytes.Buffer
	buf.Grow(len(body) + len(id) + 48)
	if err := json.Compact(&buf, body); err != nil {
		return nil, fmt.Errorf("compact %s: %w", name, err)
	}
	if buf.Len() < 2 || buf.Bytes()[0] != '{' {
		return nil, fmt.Errorf("marshal %s: canonical JSON is not an object", name)
	}

	// Reopen the object and append the envelope fields.
	buf.Truncate(buf.Len() - 1)
	if buf.Len() > 1 {
		buf.WriteByte(',')
	}
	buf.WriteString(`"` + FieldPacketID + `":`)
	if err := writeJSONString(&buf, id); err != nil {
		return nil, fmt.Errorf("encode %s id: %w", name, err)
	}
	if o.hasRequestID {
		buf.WriteString(`,"` + FieldRequestID + `":`)
		buf.WriteString(strconv.FormatInt(o.requestID, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Header is the envelope metadata of a frame.
type Header struct {
	PacketID  string
	RequestID *int64
}

// ReadHeader parses the envelope fields of data without resolving or
// building the message.
func ReadHeader(data []byte) (Header, error) {
	// encoding/json would silently replace invalid bytes.
	if !utf8.Valid(data) {
		return Header{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedJSON)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if fields == nil {
		return Header{}, fmt.Errorf("%w: top level is not an object", ErrMalformedJSON)
	}

	rawID, ok := fields[FieldPacketID]
	if !ok || isNull(rawID) {
		return Header{}, ErrMissingPacketID
	}
	var h Header
	if err := json.Unmarshal(rawID, &h.PacketID); err != nil {
		return Header{}, fmt.Errorf("%w: not a string", ErrMissingPacketID)
	}

	if raw, ok := fields[FieldRequestID]; ok {
		n, err := parseRequestID(raw)
		if err != nil {
			return Header{}, err
		}
		h.RequestID = n
	}
	return h, nil
}

// Decode parses a JSON envelope into its registered message type.
//
// The whole object, envelope fields included, is merged into the message
// with unknown fields ignored. Registration guarantees no message declares a
// packet_id or request_id field of its own.
func (c *Codec) Decode(data []byte) (*DecodedMessage, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	mt, ok := c.reg.LookupType(h.PacketID)
	if !ok {
		return nil, &UnknownPacketIDError{PacketID: h.PacketID}
	}

	m := mt.New().Interface()
	if err := mergeOptions.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchemaMerge, h.PacketID, err)
	}

	return &DecodedMessage{
		ID:        h.PacketID,
		Message:   m,
		RequestID: h.RequestID,
	}, nil
}

// parseRequestID accepts any JSON number with an integral value in int64
// range. A null request_id is the same as an absent one.
func parseRequestID(raw json.RawMessage) (*int64, error) {
	if isNull(raw) {
		return nil, nil
	}
	s := string(bytes.TrimSpace(raw))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("%w: %s is not an integer: %s", ErrMalformedJSON, FieldRequestID, s)
	}
	n := int64(f)
	return &n, nil
}

// writeJSONString writes s as a JSON string literal, leaving HTML characters
// unescaped.
func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates the value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
