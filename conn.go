// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mellium.im/xmppc/dispatch"
	"mellium.im/xmppc/filter"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stanza"
)

var errNoDial = errors.New("xmppc: config has no dial function")

// Conn is a client connection to an XMPP server.
//
// A Conn may be connected and disconnected any number of times.
// Listeners and handlers registered on it survive reconnection; pending
// requests and collectors do not.
type Conn struct {
	cfg    Config
	logger logrus.FieldLogger
	disp   *dispatch.Dispatcher
	// out holds the send listeners and interceptors.
	out *dispatch.Dispatcher

	// connectMu serializes calls to Connect.
	connectMu sync.Mutex
	// notifyMu orders state changes with the notifications sent for them.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	local     jid.JID
	link      *link
	sm        *smState
	listeners []func(old, new State, err error)
	closed    bool
	// expired holds the ids of requests that timed out.
	expired map[string]time.Time
}

// link holds everything that lives as long as one transport.
type link struct {
	sess     *Session
	sm       *smState
	resend   [][]byte
	queue    chan outbound
	ctx      context.Context
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	// peerClosed is closed when the server ends its stream, and writerDone
	// when the writer has returned.
	peerClosed chan struct{}
	writerDone chan struct{}
}

// NewConn returns a connection configured by cfg.
// It does not connect; see Connect.
func NewConn(cfg Config) (*Conn, error) {
	if cfg.Dial == nil {
		return nil, errNoDial
	}
	cfg = cfg.withDefaults()
	c := &Conn{
		cfg:    cfg,
		logger: cfg.Logger,
		local:  cfg.Origin,
	}
	var err error
	c.disp, err = dispatch.New(
		dispatch.Logger(cfg.Logger),
		dispatch.PoolSize(cfg.PoolSize),
		dispatch.OnDrop(cfg.Metrics.drop),
	)
	if err != nil {
		return nil, err
	}
	c.out, err = dispatch.New(
		dispatch.Logger(cfg.Logger),
		dispatch.PoolSize(cfg.PoolSize),
	)
	if err != nil {
		c.disp.Close(nil)
		return nil, err
	}
	c.disp.AddListener(
		filter.IQType(stanza.GetIQ, stanza.SetIQ),
		dispatch.HandlerFunc(c.handleIQ),
		dispatch.Async,
	)
	if cfg.OnStateChange != nil {
		c.listeners = append(c.listeners, cfg.OnStateChange)
	}
	return c, nil
}

// State returns the current state of the connection.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether stanzas can currently be sent.
func (c *Conn) IsConnected() bool {
	return c.State() == Connected
}

// LocalAddr returns the address of the connection.
// After a resource has been bound it is the full JID assigned by the server.
func (c *Conn) LocalAddr() jid.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// AddConnectionListener registers f to be called after every state
// transition.
// Listeners are called one at a time in the order of the transitions.
// They must not call Connect or Disconnect.
func (c *Conn) AddConnectionListener(f func(old, new State, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	listeners := make([]func(old, new State, err error), 0, len(c.listeners)+1)
	listeners = append(listeners, c.listeners...)
	c.listeners = append(listeners, f)
}

// AddListener registers h to be called with incoming stanzas matching f.
func (c *Conn) AddListener(f filter.Filter, h dispatch.Handler, mode dispatch.Mode) dispatch.Handle {
	return c.disp.AddListener(f, h, mode)
}

// RemoveListener unregisters a listener added with AddListener.
func (c *Conn) RemoveListener(h dispatch.Handle) bool {
	return c.disp.RemoveListener(h)
}

// AddSendListener registers h to be called with outgoing stanzas matching f
// once they have been written to the stream.
// Stanzas sent again after a resumption are not reported a second time.
// Sync send listeners run on the goroutine writing to the stream and must not
// block.
func (c *Conn) AddSendListener(f filter.Filter, h dispatch.Handler, mode dispatch.Mode) dispatch.Handle {
	return c.out.AddListener(f, h, mode)
}

// RemoveSendListener unregisters a listener added with AddSendListener.
func (c *Conn) RemoveSendListener(h dispatch.Handle) bool {
	return c.out.RemoveListener(h)
}

// AddInterceptor registers i to rewrite outgoing stanzas matching f.
// Interceptors run in registration order on the goroutine calling Send, before
// the stanza is validated and serialized.
// They must not change the id of IQ requests, since replies are matched by id.
func (c *Conn) AddInterceptor(f filter.Filter, i dispatch.Interceptor) dispatch.Handle {
	return c.out.AddInterceptor(f, i)
}

// RemoveInterceptor unregisters an interceptor added with AddInterceptor.
func (c *Conn) RemoveInterceptor(h dispatch.Handle) bool {
	return c.out.RemoveInterceptor(h)
}

// CreateCollector returns a collector of incoming stanzas matching f.
// The collector fails with ErrNotConnected when the connection is lost.
func (c *Conn) CreateCollector(f filter.Filter) *dispatch.Collector {
	return c.disp.CreateCollector(f, c.cfg.CollectorSize)
}

// Connect dials the server and negotiates a stream.
// It returns once the connection is ready for stanzas or negotiation failed.
//
// Connect may be called in the Initial, Disconnected, and Error states.
// If a previous session enabled stream management with resumption and the
// Resume feature is configured, the session is resumed and the stanzas the
// server had not acknowledged are sent again.
func (c *Conn) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	closed, state, prev := c.closed, c.state, c.sm
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !state.canConnect():
		return fmt.Errorf("xmppc: cannot connect while %s", state)
	}

	c.setState(Connecting, nil)
	rwc, err := c.cfg.Dial(ctx)
	if err != nil {
		c.setState(Error, err)
		return err
	}

	c.setState(StreamNegotiating, nil)
	sess := newSession(rwc, c.cfg, prev)
	err = sess.negotiate(ctx, c.cfg.Features, c.cfg.NegotiationTimeout, func(mask SessionState) {
		switch {
		case mask&BoundResource == BoundResource:
			c.setState(Bound, nil)
		case mask&Authn == Authn:
			c.setState(Authenticated, nil)
		}
	})
	if err != nil {
		sess.Close()
		c.setState(Error, err)
		return err
	}
	c.start(sess)
	return nil
}

// start runs the reader and writer of a negotiated session and moves the
// connection to Connected.
func (c *Conn) start(sess *Session) {
	g, gctx := errgroup.WithContext(context.Background())
	l := &link{
		sess:  sess,
		sm:    sess.sm,
		queue: make(chan outbound, c.cfg.QueueSize),
		ctx:   gctx,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),

		peerClosed: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	if sess.state&Resumed == Resumed {
		l.resend = sess.sm.pending()
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	old := c.state
	c.state = Connected
	c.link = l
	c.local = sess.LocalAddr()
	c.sm = sess.sm
	listeners := c.listeners
	c.mu.Unlock()

	context.AfterFunc(gctx, func() {
		sess.Close()
	})
	g.Go(func() error {
		return c.readLoop(l)
	})
	g.Go(func() error {
		return c.writeLoop(l)
	})
	go c.supervise(g, l)
	c.notify(old, Connected, nil, listeners)
}

// supervise waits for the reader and writer of l to stop and tears the link
// down.
func (c *Conn) supervise(g *errgroup.Group, l *link) {
	err := g.Wait()
	l.sess.Close()
	c.disp.CancelCollectors(ErrNotConnected)
	if l.sm != nil {
		// Stanzas still queued are kept with the unacknowledged ones so that
		// they are sent if the session is resumed.
	drain:
		for {
			select {
			case o := <-l.queue:
				if o.stanza {
					l.sm.sent(o.b)
				}
			default:
				break drain
			}
		}
	}
	c.cfg.Metrics.queued(0)

	next := Error
	select {
	case <-l.stop:
		next, err = Disconnected, nil
	default:
		if errors.Is(err, errStreamClosed) {
			next, err = Disconnected, nil
		}
	}

	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	// A stream that was closed cleanly cannot be resumed.
	if next == Disconnected {
		c.sm = nil
	}
	c.mu.Unlock()
	c.setState(next, err)
	close(l.done)
}

// Disconnect closes the stream and waits for the server to close its side.
// Stanzas already queued are written first.
// If the server does not close its stream within the configured CloseTimeout,
// or ctx is done first, the transport is closed.
// Pending requests and collectors fail with ErrNotConnected.
//
// Disconnect is idempotent and returns once the connection is Disconnected.
// It has no effect while Connect is negotiating; cancel the context passed to
// Connect instead.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.notifyMu.Lock()
	c.mu.Lock()
	l := c.link
	if l == nil {
		c.mu.Unlock()
		c.notifyMu.Unlock()
		return nil
	}
	old := c.state
	changed := old == Connected
	if changed {
		c.state = Disconnecting
	}
	listeners := c.listeners
	c.mu.Unlock()
	if changed {
		c.notify(old, Disconnecting, nil, listeners)
	}
	c.notifyMu.Unlock()

	l.stopOnce.Do(func() {
		close(l.stop)
	})
	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return nil
	case <-timer.C:
		c.logger.Debug("xmppc: server did not close the stream in time")
	case <-ctx.Done():
	}
	l.sess.Close()
	<-l.done
	return nil
}

// Close disconnects and releases the resources of the connection.
// Afterwards Connect returns ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	if closed {
		return nil
	}
	err := c.Disconnect(context.Background())
	c.disp.Close(ErrNotConnected)
	c.out.Close(ErrNotConnected)
	return err
}

func (c *Conn) setState(next State, err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	old := c.state
	c.state = next
	listeners := c.listeners
	c.mu.Unlock()
	c.notify(old, next, err, listeners)
}

// notify must be called with notifyMu held.
func (c *Conn) notify(old, next State, err error, listeners []func(old, new State, err error)) {
	entry := c.logger.WithFields(logrus.Fields{
		"state": next.String(),
		"from":  old.String(),
	})
	if err != nil {
		entry.WithField("error", err).Error("xmppc: connection failed")
	} else {
		entry.Debug("xmppc: connection state changed")
	}
	c.cfg.Metrics.transition(next)
	for _, f := range listeners {
		f(old, next, err)
	}
}
