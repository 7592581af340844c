package yamux

import (
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/streammux/yamux/internal/frame"
)

// Mode selects which half of the stream-id parity space a Connection
// allocates from.
type Mode int

const (
	Client Mode = iota
	Server
)

// connState is the Connection facade's lifecycle: Active,
// Closing, Cleanup, Closed, plus the unreachable Poisoned used to detect
// an interrupted transition. Closing and Cleanup are driven entirely
// inside the engine goroutine (see engine.runClosing and engine.die); the
// facade only needs to distinguish Active from everything-after for its
// own operations, so Closing and Cleanup share the connTerminating value
// here rather than needing separate externally-visible states.
type connState int32

const (
	connActive connState = iota
	connTerminating
	connClosed
	connPoisoned
)

// Connection is the top-level facade from the protocol: a thin state
// machine exposing open-outbound, poll-next-inbound, and close. Grounded
// on muxado's session's public interface (internal/muxado/
// session.go, Session), adapted from muxado's Session/Stream duo to this
// protocol's single exported Connection/Stream pair, and from muxado's
// unconditional GoAway-then-wait Close to an explicit engine handoff.
type Connection struct {
	mode      Mode
	id        uint32
	config    *Config
	transport io.ReadWriteCloser

	streams    *streamTable
	numStreams int32

	nextID uint32 // atomic; 0 means the id space is exhausted

	cmdTx chan<- command
	cmdRx chan command

	engine *engine

	closedCh chan struct{}
	closeErr error

	state     int32 // connState, atomic
	closeOnce sync.Once
}

// Dial wraps transport as a Client-mode Connection: locally opened
// streams get odd ids.
func Dial(transport io.ReadWriteCloser, config *Config) *Connection {
	return newConnection(transport, config, Client)
}

// Accept wraps transport as a Server-mode Connection: locally opened
// streams get even ids.
func Accept(transport io.ReadWriteCloser, config *Config) *Connection {
	return newConnection(transport, config, Server)
}

func newConnection(transport io.ReadWriteCloser, config *Config, mode Mode) *Connection {
	if config == nil {
		config = &zeroConfig
	}
	config.setDefaults()

	cmdCh := make(chan command, config.MaxCommandBacklog)

	c := &Connection{
		mode:      mode,
		id:        rand.Uint32(),
		config:    config,
		transport: transport,
		streams:   newStreamTable(),
		cmdTx:     cmdCh,
		cmdRx:     cmdCh,
		closedCh:  make(chan struct{}),
	}
	if mode == Client {
		c.nextID = 1
	} else {
		c.nextID = 2
	}

	c.engine = newEngine(c)
	c.engine.start()
	go c.watchEngine()

	return c
}

// watchEngine closes closedCh and transitions the facade to Closed once
// the engine goroutine exits, by whichever of the two paths
// (die/runClosing) got there first.
func (c *Connection) watchEngine() {
	<-c.engine.dead
	c.closeErr = c.engine.dieErr
	atomic.StoreInt32(&c.state, int32(connClosed))
	close(c.closedCh)
}

func (c *Connection) isLocalID(id frame.StreamId) bool {
	if c.mode == Client {
		return uint32(id)&1 == 1
	}
	return uint32(id)&1 == 0
}

// OpenStream allocates a new locally-opened stream.
func (c *Connection) OpenStream() (*Stream, error) {
	if connState(atomic.LoadInt32(&c.state)) != connActive {
		return nil, ErrClosed
	}

	id, err := c.nextStreamID()
	if err != nil {
		return nil, err
	}

	if n := atomic.AddInt32(&c.numStreams, 1); n > int32(c.config.MaxNumStreams) {
		atomic.AddInt32(&c.numStreams, -1)
		return nil, ErrTooManyStreams
	}

	synAlready := false
	if c.config.ReceiveWindow > DefaultCredit {
		extra := c.config.ReceiveWindow - DefaultCredit
		select {
		case c.cmdTx <- sendFrameCmd{frame.NewWindowUpdate(id, extra, frame.FlagSyn)}:
			synAlready = true
		case <-c.closedCh:
			atomic.AddInt32(&c.numStreams, -1)
			return nil, ErrClosed
		}
	}

	s := newStream(c, id, true, synAlready, c.config.ReceiveWindow, DefaultCredit)
	c.streams.set(id, s)
	return s, nil
}

// nextStreamID allocates the next locally-owned stream id, by parity.
// Allocation is lock-free, matching muxado's atomic id counter
// (internal/muxado/session.go OpenStream). An id is handed out only while
// the id after it stays below 1<<31; once it would not, nextID is set to
// 0, a one-way exhaustion sentinel.
func (c *Connection) nextStreamID() (frame.StreamId, error) {
	for {
		cur := atomic.LoadUint32(&c.nextID)
		if cur == 0 {
			return 0, ErrNoMoreStreamIds
		}
		next := cur + 2
		if next&(1<<31) != 0 {
			atomic.StoreUint32(&c.nextID, 0)
			return 0, ErrNoMoreStreamIds
		}
		if atomic.CompareAndSwapUint32(&c.nextID, cur, next) {
			return frame.StreamId(cur), nil
		}
	}
}

// AcceptStream blocks until the remote opens a new stream, the connection
// closes, or a fatal error occurs.
func (c *Connection) AcceptStream() (*Stream, error) {
	select {
	case s, ok := <-c.engine.acceptCh:
		if ok {
			return s, nil
		}
	case <-c.closedCh:
	}
	if c.closeErr != nil && c.closeErr != ErrClosed {
		return nil, c.closeErr
	}
	return nil, ErrClosed
}

// Close gracefully shuts the connection down. It is idempotent: once the
// first call completes the shutdown sequence, later calls return
// ErrClosed immediately without emitting further frames.
func (c *Connection) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		if connState(atomic.LoadInt32(&c.state)) == connActive {
			atomic.StoreInt32(&c.state, int32(connTerminating))
		}
		close(c.engine.closeSignal)
	})
	<-c.closedCh
	if first {
		return nil
	}
	return ErrClosed
}

type diagAddr struct{ s string }

func (a diagAddr) Network() string { return "streammux" }
func (a diagAddr) String() string  { return a.s }

// LocalAddr and RemoteAddr delegate to the transport when it exposes
// net.Conn-style addressing (e.g. *net.TCPConn); otherwise they return a
// synthetic address built from the connection's diagnostic id.
func (c *Connection) LocalAddr() net.Addr {
	if t, ok := c.transport.(interface{ LocalAddr() net.Addr }); ok {
		return t.LocalAddr()
	}
	return diagAddr{fmt.Sprintf("conn-%08x/local", c.id)}
}

func (c *Connection) RemoteAddr() net.Addr {
	if t, ok := c.transport.(interface{ RemoteAddr() net.Addr }); ok {
		return t.RemoteAddr()
	}
	return diagAddr{fmt.Sprintf("conn-%08x/remote", c.id)}
}

// ID returns the connection's diagnostic identifier.
func (c *Connection) ID() uint32 { return c.id }

// Done returns a channel closed once the connection reaches its terminal
// state, whether by a graceful Close or a fatal engine error. External
// collaborators (like a reconnecting Controller) use this to learn when
// to dial a replacement transport.
func (c *Connection) Done() <-chan struct{} { return c.closedCh }

// Err returns the error that caused termination. It returns nil when the
// connection ended with ErrClosed: a local Close, a GoAway from the
// remote, or EOF on the transport. Only meaningful after Done() has fired.
func (c *Connection) Err() error {
	if c.closeErr == ErrClosed {
		return nil
	}
	return c.closeErr
}
