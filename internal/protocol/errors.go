package protocol

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is against these; the concrete error is a
// *PacketError carrying the packet type and, for capacity faults, the
// required size.
var (
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrInvalidLength     = errors.New("invalid packet length")
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrInvalidDirection  = errors.New("packet is not server-originated")
	ErrInvalidAddress    = errors.New("address is not IPv4")
)

// PacketError describes a codec failure for one packet.
type PacketError struct {
	Err      error
	Type     int16
	Required int // capacity needed, set with ErrBufferTooSmall
	Field    string
}

func (e *PacketError) Error() string {
	switch {
	case errors.Is(e.Err, ErrBufferTooSmall) && e.Field != "":
		return fmt.Sprintf("packet 0x%X: %s: %v (need %d bytes)", e.Type, e.Field, e.Err, e.Required)
	case errors.Is(e.Err, ErrBufferTooSmall):
		return fmt.Sprintf("packet 0x%X: %v (must be at least %d bytes long)", e.Type, e.Err, e.Required)
	case e.Field != "":
		return fmt.Sprintf("packet 0x%X: %s: %v", e.Type, e.Field, e.Err)
	default:
		return fmt.Sprintf("packet 0x%X: %v", e.Type, e.Err)
	}
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

func invalidLength(packetType int16) error {
	return &PacketError{Err: ErrInvalidLength, Type: packetType}
}

func unknownPacket(packetType int16) error {
	return &PacketError{Err: ErrUnknownPacketType, Type: packetType}
}

func bufferTooSmall(packetType int16, required int) error {
	return &PacketError{Err: ErrBufferTooSmall, Type: packetType, Required: required}
}

// fieldError attaches packet context to an accessor failure.
func fieldError(packetType int16, field string, err error) error {
	pe := &PacketError{Err: err, Type: packetType, Field: field}
	var fe *FieldError
	if errors.As(err, &fe) {
		pe.Err = fe.Err
		pe.Required = fe.Required
	}
	return pe
}

// FieldError is returned by the Put* accessors.
type FieldError struct {
	Err      error
	Offset   int
	Required int
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("offset %d: %v (need %d bytes)", e.Offset, e.Err, e.Required)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
