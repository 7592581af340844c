package yamux

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/streammux/yamux/internal/frame"
	"github.com/streammux/yamux/internal/testutil"
)

// pipeConn is a minimal io.ReadWriteCloser fake transport, grounded on
// muxado's fakeConn (internal/muxado/session_test.go): two io.Pipes
// wired crosswise give us a full-duplex in-process transport without a
// real socket.
type pipeConn struct {
	in  *io.PipeReader
	out *io.PipeWriter
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.in.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.out.Write(p) }
func (c *pipeConn) Close() error {
	c.in.Close()
	return c.out.Close()
}

func newPipePair() (client, server *pipeConn) {
	client, server = new(pipeConn), new(pipeConn)
	client.in, server.out = io.Pipe()
	server.in, client.out = io.Pipe()
	return
}

func newTestConnPair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a, b := newPipePair()
	client := Dial(a, &Config{})
	server := Accept(b, &Config{})
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestStreamIdentityParity(t *testing.T) {
	client, server := newTestConnPair(t)

	cs, err := client.OpenStream()
	if err != nil {
		t.Fatalf("client.OpenStream: %v", err)
	}
	if cs.ID()&1 == 0 {
		t.Fatalf("client-opened stream id %d is not odd", cs.ID())
	}

	ss, err := server.OpenStream()
	if err != nil {
		t.Fatalf("server.OpenStream: %v", err)
	}
	if ss.ID()&1 != 0 {
		t.Fatalf("server-opened stream id %d is not even", ss.ID())
	}
}

func TestEchoRoundTrip(t *testing.T) {
	client, server := newTestConnPair(t)

	serverDone := make(chan error, 1)
	go func() {
		s, err := server.AcceptStream()
		if err != nil {
			serverDone <- err
			return
		}
		_, err = io.Copy(s, s)
		s.CloseWrite()
		serverDone <- err
	}()

	cs, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	payload := bytes.Repeat([]byte{0x42}, 64*1024)
	writeErr := make(chan error, 1)
	go func() {
		_, err := cs.Write(payload)
		writeErr <- err
		cs.CloseWrite()
	}()

	got, err := io.ReadAll(cs)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("Write: %v", err)
	}

	cs.Close()
}

func TestUnknownStreamIDTolerance(t *testing.T) {
	client, server := newTestConnPair(t)
	_ = server

	// Open and fully close a stream so its id is no longer in the client's
	// table. The server still answers the stream's SYN with an ACK, which
	// can reach the client after the id is gone; that must not kill the
	// connection.
	cs, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	id := cs.ID()
	cs.Close()

	sp := testutil.NewSyncPoint()
	go func() {
		for {
			if _, ok := client.streams.get(id); !ok {
				sp.Signal()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	sp.Wait(t)

	// A second, unrelated stream must still work after the id above was
	// dropped from the table.
	cs2, err := client.OpenStream()
	if err != nil {
		t.Fatalf("second OpenStream: %v", err)
	}
	if cs2.ID() == id {
		t.Fatalf("stream ids should not repeat within a connection lifetime")
	}
}

func TestIdempotentClose(t *testing.T) {
	client, _ := newTestConnPair(t)

	if err := client.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := client.Close(); err != ErrClosed {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
}

func TestCloseWriteWithoutDataStillOpensStream(t *testing.T) {
	client, server := newTestConnPair(t)

	cs, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	// Half-close for writing before ever sending data: the remote must
	// still see this stream open (SYN) before it sees it close (FIN).
	if err := cs.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	ss, err := server.AcceptStream()
	if err != nil {
		t.Fatalf("AcceptStream: %v", err)
	}
	if ss.ID() != cs.ID() {
		t.Fatalf("accepted stream id %d, want %d", ss.ID(), cs.ID())
	}

	buf := make([]byte, 1)
	if n, err := ss.Read(buf); n != 0 || err != io.EOF {
		t.Fatalf("Read on peer of a never-written, immediately closed stream = %d, %v; want 0, io.EOF", n, err)
	}
}

func TestGoAwayTerminatesConnection(t *testing.T) {
	a, b := newPipePair()
	client := Dial(a, &Config{})
	t.Cleanup(func() { client.Close() })
	t.Cleanup(func() { b.Close() })

	// Drive the remote side with a raw framer instead of a full
	// Connection, so we can send a bare GoAway without also tearing down
	// the transport out from under the client.
	raw := frame.NewFramer(b, b)

	s1, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream s1: %v", err)
	}
	if _, err := s1.Write([]byte("x")); err != nil {
		t.Fatalf("s1.Write: %v", err)
	}
	if _, err := raw.ReadFrame(); err != nil {
		t.Fatalf("raw.ReadFrame (s1's SYN data): %v", err)
	}

	if err := raw.WriteFrame(frame.NewGoAway(frame.ErrorNormal)); err != nil {
		t.Fatalf("raw.WriteFrame(GoAway): %v", err)
	}

	sp := testutil.NewSyncPoint()
	go func() {
		<-client.Done()
		sp.Signal()
	}()
	sp.Wait(t)

	if err := client.Err(); err != nil {
		t.Fatalf("client.Err() after GoAway = %v, want nil (ErrClosed reports as graceful)", err)
	}

	if _, err := client.OpenStream(); err != ErrClosed {
		t.Fatalf("OpenStream after GoAway = %v, want ErrClosed", err)
	}

	if s1.State() != StreamClosed {
		t.Fatalf("s1 state after GoAway = %v, want StreamClosed", s1.State())
	}
}

func TestOpenStreamAfterCloseFails(t *testing.T) {
	client, _ := newTestConnPair(t)
	client.Close()

	if _, err := client.OpenStream(); err != ErrClosed {
		t.Fatalf("OpenStream after Close = %v, want ErrClosed", err)
	}
}
