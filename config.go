package yamux

import (
	"io"
	"sync"

	"github.com/streammux/yamux/internal/frame"
	"github.com/streammux/yamux/log"
)

// WindowUpdateMode controls when a stream's receive window is replenished
// to the remote.
type WindowUpdateMode int

const (
	// OnReceive replenishes the window as soon as data arrives, bypassing
	// the command queue. This is the default; it requires the transport's
	// send buffer to be at least one window-update frame (12 bytes) to
	// avoid a mutual deadlock when both sides are blocked waiting for
	// credit.
	OnReceive WindowUpdateMode = iota
	// OnRead replenishes the window only as the consumer reads buffered
	// data, routing the window-update through the command queue like any
	// other stream-originated frame. Slower to grant credit back, but
	// safe with arbitrarily small transport send buffers.
	OnRead
)

// DefaultCredit is the initial send/receive credit granted to a newly
// opened stream before any WindowUpdate is exchanged.
const DefaultCredit = 256 * 1024

const (
	defaultMaxNumStreams      = 8192
	defaultMaxBufferSize      = 4 * DefaultCredit
	defaultSplitSendSize      = DefaultCredit
	defaultCommandBacklog     = 64
	defaultPendingFrameWindow = 64
)

// Config holds the recognized connection options from the protocol. The zero
// value is valid; defaults are filled in lazily on first use.
type Config struct {
	// ReceiveWindow is the initial per-stream inbound window. Must be >=
	// DefaultCredit; zero means DefaultCredit.
	ReceiveWindow uint32
	// MaxBufferSize caps per-stream inbound-buffer bytes before the
	// stream is reset.
	MaxBufferSize uint32
	// MaxNumStreams caps concurrent streams.
	MaxNumStreams uint32
	// WindowUpdateMode selects when credit is returned to the remote.
	WindowUpdateMode WindowUpdateMode
	// SplitSendSize caps the body length of a single outbound Data frame.
	SplitSendSize uint32
	// MaxCommandBacklog bounds the depth of the command queue shared by
	// every stream handle and the connection's own control traffic.
	MaxCommandBacklog int
	// NewFramer builds the wire codec over a transport. Defaults to
	// frame.NewFramer.
	NewFramer func(io.Reader, io.Writer) frame.Framer
	// Logger receives structured diagnostics from the engine. Defaults to
	// a no-op logger.
	Logger log.Logger

	initOnce sync.Once
}

func (c *Config) setDefaults() {
	c.initOnce.Do(func() {
		if c.ReceiveWindow < DefaultCredit {
			c.ReceiveWindow = DefaultCredit
		}
		if c.MaxBufferSize == 0 {
			c.MaxBufferSize = defaultMaxBufferSize
		}
		if c.MaxNumStreams == 0 {
			c.MaxNumStreams = defaultMaxNumStreams
		}
		if c.SplitSendSize == 0 {
			c.SplitSendSize = defaultSplitSendSize
		}
		if c.MaxCommandBacklog == 0 {
			c.MaxCommandBacklog = defaultCommandBacklog
		}
		if c.NewFramer == nil {
			c.NewFramer = frame.NewFramer
		}
		if c.Logger == nil {
			c.Logger = log.NewNopLogger()
		}
	})
}

var zeroConfig Config
