package yamux

import (
	"runtime"

	"github.com/streammux/yamux/internal/frame"
)

// trackStreamForGC arranges for the engine to learn when a Stream handle
// becomes unreachable without the user ever calling Close. Go has no
// reference counting, so a finalizer stands in for it: once s is
// unreachable, the runtime calls the finalizer, which posts
// streamDroppedCmd so the engine's GC sweep can emit whatever frame the
// stream's pre-drop state calls for.
//
// The finalizer closure intentionally captures only cmdTx and id, never
// s itself — capturing the stream would keep it permanently reachable
// and the finalizer would never fire.
func trackStreamForGC(s *Stream, cmdTx chan<- command, id frame.StreamId) {
	runtime.SetFinalizer(s, func(*Stream) {
		select {
		case cmdTx <- streamDroppedCmd{id}:
		default:
			// Command queue is full and nobody is forcing progress on our
			// behalf anymore; drop it; an explicit Close always delivers
			// this synchronously, so the only way to land here is a
			// handle that was never closed on an already-backlogged
			// connection, which is about to fail for other reasons too.
		}
	})
}
