package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Envelope field names injected by the codec.
const (
	FieldPacketID  = "packet_id"
	FieldRequestID = "request_id"
)

// Entry is one registered (message type, packet id) pair.
type Entry struct {
	Type protoreflect.MessageType
	ID   string
}

// Builder accumulates registrations during initialization. It is not safe
// for concurrent use; call Freeze once all messages are registered.
type Builder struct {
	entries []Entry
	byName  map[protoreflect.FullName]int
	byID    map[string]int
	frozen  bool
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{
		byName: make(map[protoreflect.FullName]int),
		byID:   make(map[string]int),
	}
}

// Register binds mt to id. Message types are identified by their full
// protobuf name, so two descriptors with the same name count as the same type.
func (b *Builder) Register(mt protoreflect.MessageType, id string) error {
	if b.frozen {
		return ErrRegistryFrozen
	}
	if mt == nil {
		return fmt.Errorf("%w: nil message type for %q", ErrInvalidID, id)
	}
	if id == "" {
		return fmt.Errorf("%w: empty id for %s", ErrInvalidID, mt.Descriptor().FullName())
	}

	md := mt.Descriptor()
	name := md.FullName()
	if i, ok := b.byName[name]; ok {
		return fmt.Errorf("%w: type %s already bound to %q", ErrDuplicateRegistration, name, b.entries[i].ID)
	}
	if i, ok := b.byID[id]; ok {
		return fmt.Errorf("%w: id %q already bound to %s", ErrDuplicateRegistration, id, b.entries[i].Type.Descriptor().FullName())
	}
	if f := reservedField(md); f != "" {
		return fmt.Errorf("%w: %s.%s", ErrReservedField, name, f)
	}

	b.byName[name] = len(b.entries)
	b.byID[id] = len(b.entries)
	b.entries = append(b.entries, Entry{Type: mt, ID: id})
	return nil
}

// MustRegister is like Register but panics on failure.
func (b *Builder) MustRegister(mt protoreflect.MessageType, id string) *Builder {
	if err := b.Register(mt, id); err != nil {
		panic(fmt.Sprintf("protocol: register %q: %v", id, err))
	}
	return b
}

// Freeze returns the immutable registry. The builder rejects any further
// registration.
func (b *Builder) Freeze() *Registry {
	b.frozen = true

	r := &Registry{
		entries: make([]Entry, len(b.entries)),
		ids:     make(map[protoreflect.FullName]string, len(b.entries)),
		byID:    make(map[string]protoreflect.MessageType, len(b.entries)),
	}
	copy(r.entries, b.entries)
	for _, e := range b.entries {
		r.ids[e.Type.Descriptor().FullName()] = e.ID
		r.byID[e.ID] = e.Type
	}
	return r
}

// Registry is a frozen bidirectional map between message types and packet
// ids. It has no mutating methods and is safe for concurrent use.
type Registry struct {
	entries []Entry
	ids     map[protoreflect.FullName]string
	byID    map[string]protoreflect.MessageType
}

// LookupID returns the packet id bound to the named message type.
func (r *Registry) LookupID(name protoreflect.FullName) (string, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// IDOf returns the packet id bound to the type of m.
func (r *Registry) IDOf(m proto.Message) (string, bool) {
	if m == nil {
		return "", false
	}
	return r.LookupID(m.ProtoReflect().Descriptor().FullName())
}

// LookupType returns the message type bound to id.
func (r *Registry) LookupType(id string) (protoreflect.MessageType, bool) {
	mt, ok := r.byID[id]
	return mt, ok
}

// Entries returns the registrations in registration order. The slice is a
// copy and may be modified by the caller.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.entries)
}

func reservedField(md protoreflect.MessageDescriptor) string {
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		for _, n := range []string{string(fd.Name()), fd.JSONName()} {
			if n == FieldPacketID || n == FieldRequestID {
				return n
			}
		}
	}
	return ""
}
