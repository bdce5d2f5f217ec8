package protocol

import (
	"errors"
	"fmt"
)

// Registration errors. These are startup failures; MustRegister panics with them.
var (
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrInvalidID             = errors.New("invalid packet id")
	ErrReservedField         = errors.New("message declares a reserved envelope field")
	ErrRegistryFrozen        = errors.New("registry is frozen")
)

// Codec errors. All of them are recoverable: the caller drops the frame or
// the outgoing message.
var (
	ErrUnregisteredType = errors.New("message type is not registered")
	ErrMalformedJSON    = errors.New("malformed json envelope")
	ErrMissingPacketID  = errors.New("missing packet_id")
	ErrUnknownPacketID  = errors.New("unknown packet_id")
	ErrSchemaMerge      = errors.New("schema merge failed")
)

// UnknownPacketIDError reports a well-formed packet_id with no registration.
// It matches ErrUnknownPacketID under errors.Is.
type UnknownPacketIDError struct {
	PacketID string
}

func (e *UnknownPacketIDError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownPacketID, e.PacketID)
}

func (e *UnknownPacketIDError) Is(target error) bool {
	return target == ErrUnknownPacketID
}
