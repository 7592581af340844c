// Package controller provides a reconnecting wrapper around
// github.com/streammux/yamux.Connection. It is an external collaborator
// to the core engine, not part of it: it owns dialing and re-dialing the
// transport and swapping in a fresh Connection whenever the current one
// terminates.
//
// Grounded on the reconnecting session pattern in
// internal/tunnel/client/reconnecting.go: same swap-the-active-session
// pointer plus backoff-and-retry shape, generalized from ngrok's
// tunnel-auth RPC reconnect to this protocol's plain transport-level
// reconnect, using the same backoff dependency, github.com/jpillora/backoff.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/jpillora/backoff"

	yamux "github.com/streammux/yamux"
	"github.com/streammux/yamux/log"
)

// ErrNotReady is returned by OpenStream/AcceptStream when no underlying
// Connection has been established yet (mirrors the reconnecting tunnel
// client's ErrSessionNotReady).
var ErrNotReady = errors.New("controller: connection not yet established")

// ErrStopped is returned once the controller has been closed and will no
// longer reconnect.
var ErrStopped = errors.New("controller: stopped")

// Dialer opens a fresh transport for one connection attempt.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// Controller maintains a live Connection over a Dialer, reconnecting with
// exponential backoff whenever the active Connection terminates. It is
// the reference implementation of the "external collaborator" referenced
// by the connection facade's wire contract, not part of the engine
// itself.
type Controller struct {
	dialer Dialer
	mode   yamux.Mode
	config *yamux.Config
	logger log15.Logger

	// stateChanges, if non-nil, receives nil on every successful
	// (re)connect and the terminating error on every drop. The caller
	// must keep it drained or the controller will stall delivering to it,
	// matching the reconnecting tunnel client's own documented contract
	// for stateChanges.
	stateChanges chan<- error

	mu      sync.RWMutex
	current *yamux.Connection

	stopped int32
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New starts a Controller that dials via dialer and maintains a
// reconnecting Connection in the given Mode. The first connection attempt
// runs synchronously before New returns an error for it; subsequent
// reconnects run in the background.
func New(ctx context.Context, dialer Dialer, mode yamux.Mode, config *yamux.Config, logger log.Logger, stateChanges chan<- error) (*Controller, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	c := &Controller{
		dialer:       dialer,
		mode:         mode,
		config:       config,
		logger:       toLog15(logger),
		stateChanges: stateChanges,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		close(c.doneCh)
		return nil, err
	}
	c.setCurrent(conn)
	c.publish(nil)

	go c.reconnectLoop(ctx)
	return c, nil
}

func (c *Controller) dial(ctx context.Context) (*yamux.Connection, error) {
	transport, err := c.dialer(ctx)
	if err != nil {
		return nil, err
	}
	if c.mode == yamux.Server {
		return yamux.Accept(transport, c.config), nil
	}
	return yamux.Dial(transport, c.config), nil
}

func (c *Controller) setCurrent(conn *yamux.Connection) {
	c.mu.Lock()
	c.current = conn
	c.mu.Unlock()
}

func (c *Controller) getCurrent() *yamux.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Controller) publish(err error) {
	if c.stateChanges == nil {
		return
	}
	select {
	case c.stateChanges <- err:
	case <-c.stopCh:
	}
}

// reconnectLoop watches the active Connection and re-dials whenever it
// terminates, until Close is called. Grounded on
// reconnectingSession.connect: same backoff parameters, same
// closed-before-we-can-retry short-circuit.
func (c *Controller) reconnectLoop(ctx context.Context) {
	defer close(c.doneCh)

	boff := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
	}

	for {
		conn := c.getCurrent()
		<-conn.Done()

		if atomic.LoadInt32(&c.stopped) == 1 {
			return
		}

		// Err reports nil for an ErrClosed ending (EOF, GoAway), but a drop
		// is always published as a non-nil error.
		dropErr := conn.Err()
		if dropErr == nil {
			dropErr = yamux.ErrClosed
		}
		c.logger.Warn("connection lost, reconnecting", "err", dropErr)
		c.publish(dropErr)

		for {
			if atomic.LoadInt32(&c.stopped) == 1 {
				return
			}
			next, err := c.dial(ctx)
			if err != nil {
				c.logger.Error("reconnect failed", "err", err)
				wait := boff.Duration()
				select {
				case <-time.After(wait):
					continue
				case <-c.stopCh:
					return
				}
			}
			c.logger.Info("reconnected")
			boff.Reset()
			c.setCurrent(next)
			c.publish(nil)
			break
		}
	}
}

// OpenStream opens a stream on the currently active connection.
func (c *Controller) OpenStream() (*yamux.Stream, error) {
	conn := c.getCurrent()
	if conn == nil {
		return nil, ErrNotReady
	}
	return conn.OpenStream()
}

// AcceptStream accepts the next remotely-opened stream on the currently
// active connection. Unlike OpenStream this does not itself survive a
// reconnect mid-call: a caller that wants continuous accept across
// reconnects should loop, calling AcceptStream again after it returns an
// error following a Done() signal.
func (c *Controller) AcceptStream() (*yamux.Stream, error) {
	conn := c.getCurrent()
	if conn == nil {
		return nil, ErrNotReady
	}
	return conn.AcceptStream()
}

// Close stops reconnecting and closes the active connection.
func (c *Controller) Close() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		<-c.doneCh
		return ErrStopped
	}
	close(c.stopCh)
	conn := c.getCurrent()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-c.doneCh
	return err
}

// toLog15 converts the public log.Logger interface to a log15.Logger,
// the same bridge the core package uses internally, so the controller's
// own log lines (reconnect attempts, backoff waits) flow back through
// whatever Logger the caller configured.
func toLog15(l log.Logger) log15.Logger {
	if logger, ok := l.(log15.Logger); ok {
		return logger
	}
	logger := log15.New()
	logger.SetHandler(log15.FuncHandler(func(r *log15.Record) error {
		lvl := log.LogLevelNone
		switch r.Lvl {
		case log15.LvlCrit, log15.LvlError:
			lvl = log.LogLevelError
		case log15.LvlWarn:
			lvl = log.LogLevelWarn
		case log15.LvlInfo:
			lvl = log.LogLevelInfo
		case log15.LvlDebug:
			lvl = log.LogLevelDebug
		}
		data := make(map[string]interface{}, len(r.Ctx)/2)
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			k, ok := r.Ctx[i].(string)
			if !ok {
				k = fmt.Sprint(r.Ctx[i])
			}
			data[k] = r.Ctx[i+1]
		}
		l.Log(context.Background(), lvl, r.Msg, data)
		return nil
	}))
	return logger
}
