package yamux

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streammux/yamux/internal/frame"
)

// State is a stream's externally observable lifecycle stage.
type State int

const (
	StreamOpen State = iota
	StreamSendClosed
	StreamRecvClosed
	StreamClosed
)

func (st State) String() string {
	switch st {
	case StreamOpen:
		return "open"
	case StreamSendClosed:
		return "send-closed"
	case StreamRecvClosed:
		return "recv-closed"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is a single flow-controlled byte channel multiplexed over a
// Connection. It behaves like an ordinary readable/writable byte sink
// even though reads and writes are cooperatively scheduled
// against the connection's engine goroutine. Grounded on muxado's
// stream (internal/muxado/stream.go): same buffer+window embedding and
// synOnce-style SYN piggyback, adapted to Go channels instead of a
// directly-called session interface, and to this protocol's explicit
// CloseStream command instead of a zero-length data write.
type Stream struct {
	id     frame.StreamId
	conn   *Connection
	cmdTx  chan<- command
	local  bool
	maxLen uint32 // Config.SplitSendSize, cached at construction

	recvBuf *recvBuffer
	sendWin *sendWindow

	// inboundWindow/maxInboundWindow track how much credit we've granted
	// the remote to send us on this stream. They are engine-exclusive and
	// touched only from the connection's single engine goroutine — never
	// under stateMu.
	inboundWindow    uint32
	maxInboundWindow uint32

	synSent uint32 // atomic bool: 0 == SYN still owed on next data frame

	writeMu sync.Mutex

	stateMu    sync.Mutex
	sendClosed bool
	recvClosed bool
	resetErr   error
}

func newStream(conn *Connection, id frame.StreamId, local, synAlreadySent bool, recvWindow, sendCredit uint32) *Stream {
	s := &Stream{
		id:               id,
		conn:             conn,
		cmdTx:            conn.cmdTx,
		local:            local,
		maxLen:           conn.config.SplitSendSize,
		recvBuf:          newRecvBuffer(int(conn.config.MaxBufferSize)),
		sendWin:          newSendWindow(sendCredit),
		inboundWindow:    recvWindow,
		maxInboundWindow: recvWindow,
	}
	if synAlreadySent {
		atomic.StoreUint32(&s.synSent, 1)
	}
	trackStreamForGC(s, conn.cmdTx, id)
	return s
}

// ID returns the stream's wire identifier.
func (s *Stream) ID() uint32 { return uint32(s.id) }

// State reports the stream's current half-close/reset status.
func (s *Stream) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch {
	case s.sendClosed && s.recvClosed:
		return StreamClosed
	case s.sendClosed:
		return StreamSendClosed
	case s.recvClosed:
		return StreamRecvClosed
	default:
		return StreamOpen
	}
}

func (s *Stream) markRecvClosed(err error) {
	s.stateMu.Lock()
	s.recvClosed = true
	s.stateMu.Unlock()
	s.recvBuf.closeWithError(err)
}

func (s *Stream) markSendClosed(err error) {
	s.stateMu.Lock()
	s.sendClosed = true
	s.stateMu.Unlock()
	s.sendWin.closeWithError(err)
}

// reset marks both directions closed with err, as happens on RST receipt
// or connection-wide teardown.
func (s *Stream) reset(err error) {
	s.stateMu.Lock()
	s.sendClosed = true
	s.recvClosed = true
	if s.resetErr == nil {
		s.resetErr = err
	}
	s.stateMu.Unlock()
	s.recvBuf.closeWithError(err)
	s.sendWin.closeWithError(err)
}

// Read implements io.Reader. Buffered bytes are delivered as they arrive;
// once the buffer drains and the stream is recv-closed, it returns
// io.EOF. Under WindowUpdateMode=OnRead, each successful read enqueues a
// WindowUpdate command crediting the remote for what was just consumed.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.recvBuf.Read(p)
	if n > 0 && s.conn.config.WindowUpdateMode == OnRead {
		_ = s.enqueue(sendFrameCmd{frame.NewWindowUpdate(s.id, uint32(n), 0)})
	}
	return n, err
}

// enqueue hands cmd to the engine, blocking under the same command-queue
// backpressure as any other sender , but never forever: once the
// connection reaches its terminal state conn.closedCh is closed and
// enqueue gives up with ErrClosed instead of blocking on a queue nobody
// will ever drain again.
func (s *Stream) enqueue(cmd command) error {
	select {
	case s.cmdTx <- cmd:
		return nil
	case <-s.conn.closedCh:
		return ErrClosed
	}
}

// Write implements io.Writer, splitting p into frames no larger than
// Config.SplitSendSize and blocking on send credit as needed.
func (s *Stream) Write(p []byte) (int, error) {
	return s.write(p, false)
}

// CloseWrite half-closes the stream for writing, sending FIN to the
// remote. Further Writes fail; Reads are unaffected.
func (s *Stream) CloseWrite() error {
	_, err := s.write(nil, true)
	return err
}

// Flush is a no-op: every Write already hands its frames to the engine's
// command queue before returning, so there is nothing buffered locally
// to push out.
func (s *Stream) Flush() error { return nil }

func (s *Stream) write(p []byte, fin bool) (n int, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == StreamSendClosed || s.State() == StreamClosed {
		return 0, ErrClosed
	}

	remaining := len(p)
	for remaining > 0 {
		want := remaining
		if want > int(s.maxLen) {
			want = int(s.maxLen)
		}

		claimed, werr := s.sendWin.decrement(uint32(want))
		if werr != nil {
			return n, werr
		}

		start := n
		end := n + int(claimed)

		var flags frame.Flags
		if atomic.CompareAndSwapUint32(&s.synSent, 0, 1) {
			flags |= frame.FlagSyn
		}

		if err := s.enqueue(sendFrameCmd{frame.NewData(s.id, p[start:end], flags)}); err != nil {
			return n, err
		}

		n += int(claimed)
		remaining -= int(claimed)
	}

	if fin {
		// A dedicated closeStreamCmd rather than folding FIN onto the
		// last data frame, so a zero-byte CloseWrite still sends one.
		if err := s.enqueue(closeStreamCmd{s.id, false}); err != nil {
			return n, err
		}
		s.markSendClosed(ErrClosed)
	}
	return n, nil
}

// Close ends the stream: it half-closes for writing (sending FIN) and
// marks both directions closed, mirroring net.Conn.Close() rather than a
// bare half-close. Any further local Write fails with ErrClosed; a further
// Read returns what is still buffered, then the error the receive side was
// already closed with (io.EOF after a peer FIN), or else ErrClosed. If the remote still has
// data in flight for this id, the engine's unknown/closed-stream handling
// takes care of it without the stream needing to linger.
func (s *Stream) Close() error {
	_ = s.CloseWrite()
	s.reset(ErrClosed)
	_ = s.enqueue(streamDroppedCmd{s.id})
	return nil
}

func (s *Stream) SetReadDeadline(t time.Time) error {
	s.recvBuf.setDeadline(t)
	return nil
}

func (s *Stream) SetDeadline(t time.Time) error {
	return s.SetReadDeadline(t)
}

var _ io.ReadWriteCloser = (*Stream)(nil)
