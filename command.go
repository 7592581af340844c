package yamux

import "github.com/streammux/yamux/internal/frame"

// command is one entry on the bounded queue every stream handle (and
// Connection.OpenStream, for a SYN window update) uses to ask the engine
// to do something. Grounded on
// muxado's writeReq (internal/muxado/session.go): there, only one command
// shape (write a frame) existed; here the queue also needs to carry
// half-close and GC-reclaim requests, so command is a small closed
// interface instead of a single struct.
type command interface{ isCommand() }

// sendFrameCmd asks the engine to enqueue an already-built frame for
// transmission.
type sendFrameCmd struct {
	f *frame.Frame
}

// closeStreamCmd asks the engine to append a zero-length FIN data frame
// for id, optionally carrying ACK.
type closeStreamCmd struct {
	id  frame.StreamId
	ack bool
}

// streamDroppedCmd tells the engine that a stream's last external handle
// is gone. Go has no reference counting, so the handle's finalizer (see
// gc.go) emits this instead of the engine re-checking refcounts every
// iteration.
type streamDroppedCmd struct {
	id frame.StreamId
}

func (sendFrameCmd) isCommand()     {}
func (closeStreamCmd) isCommand()   {}
func (streamDroppedCmd) isCommand() {}
