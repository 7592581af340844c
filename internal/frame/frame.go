// Package frame implements the wire codec for the multiplexing protocol:
// a fixed 12-byte header followed by an optional body. It has no
// knowledge of streams, credits, or connection state — it only knows how
// to serialize and deserialize frames.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

var order = binary.BigEndian

const (
	// Version is the only wire version this codec understands.
	Version = 0

	headerSize = 12
)

// Tag identifies the kind of frame in the header.
type Tag uint8

const (
	TagData         Tag = 0
	TagWindowUpdate Tag = 1
	TagPing         Tag = 2
	TagGoAway       Tag = 3
)

func (t Tag) String() string {
	switch t {
	case TagData:
		return "DATA"
	case TagWindowUpdate:
		return "WINDOW_UPDATE"
	case TagPing:
		return "PING"
	case TagGoAway:
		return "GOAWAY"
	default:
		return fmt.Sprintf("TAG(%d)", uint8(t))
	}
}

// Flags is a bitmask carried in the header.
type Flags uint16

const (
	FlagSyn Flags = 1 << 0
	FlagAck Flags = 1 << 1
	FlagFin Flags = 1 << 2
	FlagRst Flags = 1 << 3
)

func (f Flags) Has(g Flags) bool { return f&g != 0 }

// StreamId identifies a stream within a connection. 0 is reserved for
// connection-level (session) frames.
type StreamId uint32

// SessionID is the reserved stream id for connection-level frames.
const SessionID StreamId = 0

// ErrorCode is carried in a GoAway frame's length field.
type ErrorCode uint32

const (
	ErrorNormal   ErrorCode = 0
	ErrorProtocol ErrorCode = 1
	ErrorInternal ErrorCode = 2
)

// Header is the fixed 12-byte frame header.
type Header struct {
	Tag      Tag
	Flags    Flags
	StreamId StreamId
	// Length carries the body length for Data, the credit delta for
	// WindowUpdate, the opaque nonce for Ping, or the error code for
	// GoAway.
	Length uint32
}

func (h Header) encode() [headerSize]byte {
	var b [headerSize]byte
	b[0] = Version
	b[1] = byte(h.Tag)
	order.PutUint16(b[2:4], uint16(h.Flags))
	order.PutUint32(b[4:8], uint32(h.StreamId))
	order.PutUint32(b[8:12], h.Length)
	return b
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) < headerSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	if b[0] != Version {
		return Header{}, &ProtocolError{fmt.Errorf("unsupported frame version: %d", b[0])}
	}
	h := Header{
		Tag:      Tag(b[1]),
		Flags:    Flags(order.Uint16(b[2:4])),
		StreamId: StreamId(order.Uint32(b[4:8])),
		Length:   order.Uint32(b[8:12]),
	}
	return h, nil
}

// ProtocolError wraps a decode-time violation of the wire format itself
// (as opposed to a protocol violation detected by the engine after
// successful decode).
type ProtocolError struct{ Err error }

func (e *ProtocolError) Error() string { return "frame: protocol error: " + e.Err.Error() }
func (e *ProtocolError) Unwrap() error { return e.Err }

// Frame is the decoded representation of one wire frame.
type Frame struct {
	Header
	// Body holds the frame payload for Data frames. For all other frame
	// types the header's Length field already carries the entire
	// semantic payload and Body is nil.
	Body []byte
}

func (f *Frame) Syn() bool { return f.Flags.Has(FlagSyn) }
func (f *Frame) Ack() bool { return f.Flags.Has(FlagAck) }
func (f *Frame) Fin() bool { return f.Flags.Has(FlagFin) }
func (f *Frame) Rst() bool { return f.Flags.Has(FlagRst) }

// Credit returns the WindowUpdate credit delta.
func (f *Frame) Credit() uint32 { return f.Length }

// Nonce returns the Ping nonce.
func (f *Frame) Nonce() uint32 { return f.Length }

// Code returns the GoAway error code.
func (f *Frame) Code() ErrorCode { return ErrorCode(f.Length) }

// NewData builds a Data frame.
func NewData(id StreamId, body []byte, flags Flags) *Frame {
	return &Frame{Header{TagData, flags, id, uint32(len(body))}, body}
}

// NewWindowUpdate builds a WindowUpdate frame.
func NewWindowUpdate(id StreamId, credit uint32, flags Flags) *Frame {
	return &Frame{Header{TagWindowUpdate, flags, id, credit}, nil}
}

// NewPing builds a Ping frame.
func NewPing(nonce uint32, ack bool) *Frame {
	var flags Flags
	if ack {
		flags = FlagAck
	}
	return &Frame{Header{TagPing, flags, SessionID, nonce}, nil}
}

// NewGoAway builds a GoAway frame. Like Ping, it is connection-level: its
// stream id is always the reserved session id.
func NewGoAway(code ErrorCode) *Frame {
	return &Frame{Header{TagGoAway, 0, SessionID, uint32(code)}, nil}
}

// Framer reads and writes frames over a transport. Only Data frames carry
// a body; the codec always reads exactly Length bytes off the wire for a
// Data frame and folds them into Frame.Body.
type Framer interface {
	ReadFrame() (*Frame, error)
	WriteFrame(*Frame) error
}

type framer struct {
	r io.Reader
	w io.Writer
}

// NewFramer returns the default Framer implementation.
func NewFramer(r io.Reader, w io.Writer) Framer {
	return &framer{r: r, w: w}
}

func (fr *framer) ReadFrame() (*Frame, error) {
	var hb [headerSize]byte
	if _, err := io.ReadFull(fr.r, hb[:]); err != nil {
		return nil, err
	}
	h, err := decodeHeader(hb[:])
	if err != nil {
		return nil, err
	}
	f := &Frame{Header: h}
	if h.Tag == TagData && h.Length > 0 {
		f.Body = make([]byte, h.Length)
		if _, err := io.ReadFull(fr.r, f.Body); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (fr *framer) WriteFrame(f *Frame) error {
	hb := f.Header.encode()
	if f.Tag == TagData && len(f.Body) > 0 {
		buf := make([]byte, 0, headerSize+len(f.Body))
		buf = append(buf, hb[:]...)
		buf = append(buf, f.Body...)
		_, err := fr.w.Write(buf)
		return err
	}
	_, err := fr.w.Write(hb[:])
	return err
}
