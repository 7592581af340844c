package yamux

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/inconshreveable/log15"

	"github.com/streammux/yamux/internal/frame"
)

// inboundItem is one decoded frame (or terminal read error) handed from
// the reader goroutine to the engine goroutine.
type inboundItem struct {
	f   *frame.Frame
	err error
}

// engine is the Active connection driver from the protocol. It owns the
// socket, the stream table, and all connection-level sequencing.
// Grounded on muxado's session (internal/muxado/session.go): same
// reader-goroutine/writer-goroutine split feeding a central loop, same
// single-fire die() shutdown, generalized from session's fixed Data/
// Rst/WndInc/GoAway frame types to this protocol's tag+flags frame and
// from muxado's unbounded accept channel to one sized by configuration.
//
// Where muxado polls everything from one goroutine via channel
// selects already, this type keeps that shape outright: Go's select
// natively implements the protocol "poll all sources, never return on the
// first pending one" requirement, so there is no separate manual
// poll-loop to hand-rollover.
type engine struct {
	conn      *Connection
	config    *Config
	framer    frame.Framer
	transport io.Closer
	logger    log15.Logger

	streams *streamTable

	inbound  chan inboundItem
	outbound chan *frame.Frame
	cmdRx    chan command
	acceptCh chan *Stream

	closeSignal chan struct{}
	writerDone  chan struct{}
	dead        chan struct{}

	dieOnce sync.Once
	dieErr  error
}

func newEngine(conn *Connection) *engine {
	cfg := conn.config
	e := &engine{
		conn:        conn,
		config:      cfg,
		framer:      cfg.NewFramer(conn.transport, conn.transport),
		transport:   conn.transport,
		logger:      toLog15(cfg.Logger).New("conn", conn.id),
		streams:     conn.streams,
		inbound:     make(chan inboundItem, 1),
		outbound:    make(chan *frame.Frame, cfg.MaxCommandBacklog),
		cmdRx:       conn.cmdRx,
		acceptCh:    make(chan *Stream, cfg.MaxCommandBacklog),
		closeSignal: make(chan struct{}),
		writerDone:  make(chan struct{}),
		dead:        make(chan struct{}),
	}
	return e
}

func (e *engine) start() {
	go e.readLoop()
	go e.writeLoop()
	go e.run()
}

// readLoop blocks on the transport via the framer and forwards whatever
// it gets (frame or terminal error) to the engine goroutine.
func (e *engine) readLoop() {
	for {
		f, err := e.framer.ReadFrame()
		select {
		case e.inbound <- inboundItem{f, err}:
		case <-e.dead:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeLoop drains outbound frames to the transport until the channel is
// closed, then signals writerDone. Backpressure comes from the channel's
// own buffering instead of a manual non-blocking write loop with an
// explicit pending-frames list.
func (e *engine) writeLoop() {
	defer close(e.writerDone)
	for {
		select {
		case f, ok := <-e.outbound:
			if !ok {
				return
			}
			if err := e.framer.WriteFrame(f); err != nil {
				e.die(ioErr(err))
				return
			}
		case <-e.dead:
			return
		}
	}
}

// run is the Active engine's main loop. Garbage collection is
// reactive (triggered by streamDroppedCmd, see gc.go and command.go)
// rather than a per-iteration table walk, since Go gives us an explicit
// drop notification instead of needing to poll reference counts.
func (e *engine) run() {
	for {
		select {
		case <-e.closeSignal:
			e.runClosing()
			return
		case item := <-e.inbound:
			if item.err != nil {
				if item.err == io.EOF {
					e.die(ErrClosed)
				} else {
					e.die(ioErr(item.err))
				}
				return
			}
			newStream, fatal := e.dispatch(item.f)
			if fatal != nil {
				e.die(fatal)
				return
			}
			if newStream != nil {
				select {
				case e.acceptCh <- newStream:
				case <-e.dead:
					return
				}
			}
		case cmd := <-e.cmdRx:
			e.handleCommand(cmd)
		}
	}
}

func (e *engine) send(f *frame.Frame) {
	select {
	case e.outbound <- f:
	case <-e.dead:
	}
}

func (e *engine) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case sendFrameCmd:
		// A WindowUpdate from Stream.Read (OnRead mode) re-opens the
		// receive window it grants the remote.
		if c.f.Tag == frame.TagWindowUpdate && !c.f.Syn() {
			if s, ok := e.streams.get(c.f.StreamId); ok {
				s.inboundWindow += c.f.Credit()
			}
		}
		e.send(c.f)
	case closeStreamCmd:
		flags := frame.FlagFin
		if c.ack {
			flags |= frame.FlagAck
		}
		// A stream that was closed before ever writing any data still owes
		// the remote its opening SYN; without it this FIN would be the
		// first frame the remote ever sees for an id it never opened.
		if s, ok := e.streams.get(c.id); ok && atomic.CompareAndSwapUint32(&s.synSent, 0, 1) {
			flags |= frame.FlagSyn
		}
		e.send(frame.NewData(c.id, nil, flags))
	case streamDroppedCmd:
		e.gcStream(c.id)
	}
}

// gcStream implements the per-state action table of the protocol, fired
// reactively when a handle's finalizer (or explicit Close) reports the
// stream unreachable.
func (e *engine) gcStream(id frame.StreamId) {
	s, ok := e.streams.get(id)
	if !ok {
		return
	}

	switch s.State() {
	case StreamOpen:
		e.logger.Debug("gc: resetting still-open dropped stream", "id", id)
		e.send(frame.NewData(id, nil, frame.FlagRst))
	case StreamRecvClosed:
		e.logger.Debug("gc: closing dropped stream", "id", id)
		e.send(frame.NewData(id, nil, frame.FlagFin))
	case StreamSendClosed:
		if e.config.WindowUpdateMode == OnRead && s.inboundWindow == 0 {
			e.logger.Debug("gc: resetting dropped stream with unclaimed window", "id", id)
			e.send(frame.NewData(id, nil, frame.FlagRst))
		}
	case StreamClosed:
		// nothing to send.
	}

	e.removeStream(id)
}

func (e *engine) removeStream(id frame.StreamId) {
	if _, ok := e.streams.get(id); ok {
		e.streams.delete(id)
		atomic.AddInt32(&e.conn.numStreams, -1)
	}
}

func (e *engine) dispatch(f *frame.Frame) (*Stream, error) {
	switch f.Tag {
	case frame.TagData:
		return e.onData(f)
	case frame.TagWindowUpdate:
		return e.onWindowUpdate(f)
	case frame.TagPing:
		return nil, e.onPing(f)
	case frame.TagGoAway:
		return nil, e.onGoAway(f)
	default:
		return nil, nil
	}
}

func (e *engine) onData(f *frame.Frame) (*Stream, error) {
	if f.StreamId == frame.SessionID {
		return nil, protocolErr("data frame on session id")
	}

	if f.Rst() {
		if s, ok := e.streams.get(f.StreamId); ok {
			s.reset(protocolErr("stream %d reset by peer", f.StreamId))
			e.removeStream(f.StreamId)
		}
		return nil, nil
	}

	if f.Syn() {
		return e.onSynData(f)
	}

	s, ok := e.streams.get(f.StreamId)
	if !ok {
		// A locally dropped stream may still see in-flight frames from
		// the remote. Not a protocol violation; emit nothing for it.
		return nil, nil
	}

	if f.Length > s.inboundWindow {
		return nil, protocolErr("stream %d: data frame of %d bytes exceeds window of %d", f.StreamId, f.Length, s.inboundWindow)
	}

	if len(f.Body) > 0 {
		if err := s.recvBuf.write(f.Body); err == errBufferOverflow {
			e.send(frame.NewData(f.StreamId, nil, frame.FlagRst))
			return nil, nil
		}
		s.inboundWindow -= f.Length
		if e.config.WindowUpdateMode == OnReceive && s.inboundWindow <= s.maxInboundWindow/2 {
			restore := s.maxInboundWindow - s.inboundWindow
			s.inboundWindow = s.maxInboundWindow
			e.send(frame.NewWindowUpdate(f.StreamId, restore, 0))
		}
	}

	if f.Fin() {
		s.markRecvClosed(io.EOF)
	}

	return nil, nil
}

func (e *engine) onSynData(f *frame.Frame) (*Stream, error) {
	id := f.StreamId
	if e.conn.isLocalID(id) {
		return nil, protocolErr("remote used local-parity stream id %d", id)
	}
	if _, exists := e.streams.get(id); exists {
		return nil, protocolErr("duplicate SYN for stream %d", id)
	}
	if f.Length > DefaultCredit {
		return nil, protocolErr("initial SYN body of %d bytes exceeds default credit", f.Length)
	}
	if atomic.LoadInt32(&e.conn.numStreams) >= int32(e.config.MaxNumStreams) {
		return nil, internalErr("max streams (%d) exceeded on inbound SYN", e.config.MaxNumStreams)
	}

	s := newStream(e.conn, id, false, true, DefaultCredit, DefaultCredit)

	if len(f.Body) > 0 {
		_ = s.recvBuf.write(f.Body)
		s.inboundWindow -= f.Length
	}
	if f.Fin() {
		s.markRecvClosed(io.EOF)
	}

	e.streams.set(id, s)
	atomic.AddInt32(&e.conn.numStreams, 1)

	e.ackNewStream(id)
	return s, nil
}

func (e *engine) onWindowUpdate(f *frame.Frame) (*Stream, error) {
	if f.StreamId == frame.SessionID {
		return nil, protocolErr("window update on session id")
	}

	if f.Rst() {
		if s, ok := e.streams.get(f.StreamId); ok {
			s.reset(protocolErr("stream %d reset by peer", f.StreamId))
			e.removeStream(f.StreamId)
		}
		return nil, nil
	}

	if f.Syn() {
		return e.onSynWindowUpdate(f)
	}

	s, ok := e.streams.get(f.StreamId)
	if !ok {
		return nil, nil
	}

	s.sendWin.increment(f.Credit())
	if f.Fin() {
		s.markRecvClosed(io.EOF)
	}
	return nil, nil
}

func (e *engine) onSynWindowUpdate(f *frame.Frame) (*Stream, error) {
	id := f.StreamId
	if e.conn.isLocalID(id) {
		return nil, protocolErr("remote used local-parity stream id %d", id)
	}
	if _, exists := e.streams.get(id); exists {
		return nil, protocolErr("duplicate SYN for stream %d", id)
	}
	if atomic.LoadInt32(&e.conn.numStreams) >= int32(e.config.MaxNumStreams) {
		return nil, internalErr("max streams (%d) exceeded on inbound SYN", e.config.MaxNumStreams)
	}

	sendCredit := DefaultCredit + f.Credit()
	s := newStream(e.conn, id, false, true, DefaultCredit, sendCredit)
	if f.Fin() {
		s.markRecvClosed(io.EOF)
	}

	e.streams.set(id, s)
	atomic.AddInt32(&e.conn.numStreams, 1)

	e.ackNewStream(id)
	return s, nil
}

// ackNewStream acknowledges a freshly accepted remote stream with an
// immediate zero-credit WindowUpdate+ACK, regardless of
// WindowUpdateMode. See DESIGN.md's open-question log: piggybacking ACK
// on a yet-to-be-written local frame (as the source spec's prose
// suggests) would let a stream the application never writes to go
// unacknowledged indefinitely, so the engine just acks eagerly.
func (e *engine) ackNewStream(id frame.StreamId) {
	e.send(frame.NewWindowUpdate(id, 0, frame.FlagAck))
}

// onGoAway handles a remote GoAway: it is a connection terminator, not a
// per-stream signal. A well-formed GoAway reports ErrClosed to run(), which
// calls die and moves the facade through Cleanup.
func (e *engine) onGoAway(f *frame.Frame) error {
	if f.StreamId != frame.SessionID {
		return protocolErr("goaway frame carries non-session stream id %d", f.StreamId)
	}
	e.logger.Info("remote sent goaway")
	return ErrClosed
}

func (e *engine) onPing(f *frame.Frame) error {
	if f.Ack() {
		return nil
	}
	if f.StreamId != frame.SessionID {
		if _, ok := e.streams.get(f.StreamId); !ok {
			return nil
		}
	}
	e.send(frame.NewPing(f.Nonce(), true))
	return nil
}

// die tears the connection down after a fatal error. Every stream is
// force-reset so blocked handles observe err instead of hanging, and a
// diagnostic GoAway is attempted
// best-effort. Safe to call from any of the three engine goroutines;
// only the first call has effect.
func (e *engine) die(err error) {
	e.dieOnce.Do(func() {
		e.dieErr = err
		if err != ErrClosed {
			e.logger.Error("connection terminating", "err", err)
			code := frame.ErrorInternal
			if c, ok := CodeOf(err); ok && c == CodeProtocol {
				code = frame.ErrorProtocol
			}
			_ = e.framer.WriteFrame(frame.NewGoAway(code))
		}
		close(e.dead)
		e.transport.Close()
		e.streams.each(func(id frame.StreamId, s *Stream) {
			s.reset(err)
			e.streams.delete(id)
		})
	})
}

// runClosing implements the graceful-shutdown driver: drain whatever
// commands are already queued, send a normal-termination GoAway, flush,
// and shut the socket. It deliberately stops servicing new inbound
// frames and new commands once started.
func (e *engine) runClosing() {
	e.logger.Debug("connection closing gracefully")
	for {
		select {
		case cmd := <-e.cmdRx:
			e.handleCommand(cmd)
			continue
		default:
		}
		break
	}

	e.send(frame.NewGoAway(frame.ErrorNormal))

	close(e.outbound)
	<-e.writerDone

	close(e.dead)
	e.transport.Close()

	e.streams.each(func(id frame.StreamId, s *Stream) {
		s.reset(ErrClosed)
		e.streams.delete(id)
	})
}
