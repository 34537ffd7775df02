// Package event defines the fixed-layout records published to consumers.
package event

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Record size constants matching kernel/C conventions.
const (
	// MaxDataSize is the capture capacity for a single SSL_read/SSL_write.
	// Longer transfers are truncated, never split.
	MaxDataSize = 4096

	// TaskCommLen is the kernel's fixed process-name width, NUL included.
	TaskCommLen = 16

	// SaDataLen is the sockaddr.sa_data width captured for connect().
	SaDataLen = 14

	// InvalidFD marks a descriptor that could not be resolved.
	InvalidFD = 0
)

// Type discriminates the direction of a captured transfer.
type Type uint32

const (
	TypeRead  Type = 0
	TypeWrite Type = 1
)

// String returns the direction name used in output and filters.
func (t Type) String() string {
	switch t {
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// DataEvent is one captured plaintext transfer. The layout is fixed-width,
// host byte order, with explicit padding so the in-memory form matches the
// wire form byte for byte.
//
// Immutable once published: the producer hands ownership to the channel and
// must not touch the record again until the consumer releases it.
type DataEvent struct {
	Type        Type
	_           [4]byte // align TimestampNs
	TimestampNs uint64
	PID         uint32
	TID         uint32
	Data        [MaxDataSize]byte
	DataLen     int32
	Comm        [TaskCommLen]byte
	FD          uint32
}

// ConnectionEvent records an outbound connect() with its raw socket address.
type ConnectionEvent struct {
	TimestampNs uint64
	PID         uint32
	TID         uint32
	FD          uint32
	SaData      [SaDataLen]byte
	Comm        [TaskCommLen]byte
	_           [6]byte // trailing alignment
}

// Payload returns the captured bytes, bounded by DataLen and capacity.
func (e *DataEvent) Payload() []byte {
	n := int(e.DataLen)
	if n < 0 {
		n = 0
	}
	if n > MaxDataSize {
		n = MaxDataSize
	}
	return e.Data[:n]
}

// CommString returns the process name with the fixed-width padding trimmed.
func (e *DataEvent) CommString() string {
	return commString(e.Comm)
}

// CommString returns the process name with the fixed-width padding trimmed.
func (e *ConnectionEvent) CommString() string {
	return commString(e.Comm)
}

// AddrPort decodes the IPv4 destination from the raw sa_data bytes.
// sa_data holds the port in network order followed by the address.
func (e *ConnectionEvent) AddrPort() netip.AddrPort {
	port := uint16(e.SaData[0])<<8 | uint16(e.SaData[1])
	addr := netip.AddrFrom4([4]byte{e.SaData[2], e.SaData[3], e.SaData[4], e.SaData[5]})
	return netip.AddrPortFrom(addr, port)
}

func commString(comm [TaskCommLen]byte) string {
	if i := bytes.IndexByte(comm[:], 0); i >= 0 {
		return string(comm[:i])
	}
	return string(comm[:])
}

// MarshalBinary encodes the record in its fixed wire layout.
func (e *DataEvent) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(e))
	if err := binary.Write(&buf, binary.LittleEndian, e); err != nil {
		return nil, fmt.Errorf("encoding data event: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalBinary encodes the record in its fixed wire layout.
func (e *ConnectionEvent) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(binary.Size(e))
	if err := binary.Write(&buf, binary.LittleEndian, e); err != nil {
		return nil, fmt.Errorf("encoding connection event: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDataEvent parses a fixed-layout record as produced by MarshalBinary.
func DecodeDataEvent(raw []byte) (*DataEvent, error) {
	var e DataEvent
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &e); err != nil {
		return nil, fmt.Errorf("decoding data event: %w", err)
	}
	return &e, nil
}

// DecodeConnectionEvent parses a fixed-layout record as produced by MarshalBinary.
func DecodeConnectionEvent(raw []byte) (*ConnectionEvent, error) {
	var e ConnectionEvent
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &e); err != nil {
		return nil, fmt.Errorf("decoding connection event: %w", err)
	}
	return &e, nil
}
