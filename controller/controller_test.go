package controller

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	yamux "github.com/streammux/yamux"
)

// netPipeDialer hands out one end of a fresh net.Pipe per call, parking the
// other end on a channel so the test can drive the peer side.
func netPipeDialer(peers chan<- net.Conn) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		peers <- b
		return a, nil
	}
}

func TestControllerOpenStreamRoundTrip(t *testing.T) {
	peers := make(chan net.Conn, 4)
	ctrl, err := New(context.Background(), netPipeDialer(peers), yamux.Client, &yamux.Config{}, nil, nil)
	require.NoError(t, err)
	defer ctrl.Close()

	peerConn := <-peers
	peerSession := yamux.Accept(peerConn, &yamux.Config{})
	defer peerSession.Close()

	acceptErr := make(chan error, 1)
	go func() {
		s, err := peerSession.AcceptStream()
		if err != nil {
			acceptErr <- err
			return
		}
		_, err = io.Copy(s, s)
		acceptErr <- err
	}()

	s, err := ctrl.OpenStream()
	require.NoError(t, err)

	writeDone := make(chan struct{})
	go func() {
		s.Write([]byte("ping"))
		s.CloseWrite()
		close(writeDone)
	}()

	buf := make([]byte, 4)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	<-writeDone
	s.Close()
}

func TestControllerReconnectsAfterDrop(t *testing.T) {
	peers := make(chan net.Conn, 8)
	var dialCount int32

	dialer := func(ctx context.Context) (io.ReadWriteCloser, error) {
		atomic.AddInt32(&dialCount, 1)
		a, b := net.Pipe()
		peers <- b
		return a, nil
	}

	states := make(chan error, 8)
	ctrl, err := New(context.Background(), dialer, yamux.Client, &yamux.Config{}, nil, states)
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, <-states) // initial connect published

	first := <-peers
	first.Close() // sever the transport; the active Connection should die

	select {
	case stateErr := <-states:
		require.Error(t, stateErr)
	case <-time.After(time.Second):
		t.Fatal("controller never reported the dropped connection")
	}

	select {
	case <-states:
	case <-time.After(2 * time.Second):
		t.Fatal("controller never reconnected")
	}

	require.GreaterOrEqual(t, atomic.LoadInt32(&dialCount), int32(2))

	select {
	case second := <-peers:
		second.Close()
	default:
	}
}

func TestControllerCloseIsIdempotent(t *testing.T) {
	peers := make(chan net.Conn, 4)
	ctrl, err := New(context.Background(), netPipeDialer(peers), yamux.Client, &yamux.Config{}, nil, nil)
	require.NoError(t, err)

	peer := <-peers
	defer peer.Close()
	// net.Pipe is unbuffered: drain the peer so the graceful GoAway write
	// in Close can complete.
	go io.Copy(io.Discard, peer)

	require.NoError(t, ctrl.Close())
	require.ErrorIs(t, ctrl.Close(), ErrStopped)
}

func TestControllerNewFailsWhenFirstDialFails(t *testing.T) {
	failingDialer := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("boom")
	}
	_, err := New(context.Background(), failingDialer, yamux.Client, &yamux.Config{}, nil, nil)
	require.Error(t, err)
}
