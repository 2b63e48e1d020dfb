// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package dispatch delivers incoming stanzas to listeners and collectors.
//
// A dispatcher can also hold interceptors, which rewrite stanzas before they
// are sent.
//
// Every stanza read from the stream is offered, in order, to the asynchronous
// listeners, then to the collectors, then to the synchronous listeners.
// Synchronous listeners run on the goroutine that calls Dispatch (normally the
// goroutine reading from the stream) and must not block.
// Asynchronous listeners run on a shared worker pool; each listener sees
// stanzas one at a time in the order they were dispatched.
package dispatch // import "mellium.im/xmppc/dispatch"

import (
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/filter"
	"mellium.im/xmppc/stanza"
)

// Errors returned by collectors.
var (
	ErrCancelled = errors.New("dispatch: collector cancelled")
	ErrClosed    = errors.New("dispatch: dispatcher closed")
)

// Mode selects where a listener runs.
type Mode uint8

// A list of listener modes.
const (
	// Sync listeners run inline on the dispatching goroutine, in registration
	// order, after collectors have been offered the stanza.
	Sync Mode = iota

	// Async listeners run on the worker pool.
	Async
)

// Handler is notified of stanzas that match its filter.
type Handler interface {
	HandleStanza(s stanza.Stanza)
}

// HandlerFunc is an adapter to allow the use of ordinary functions as
// handlers.
type HandlerFunc func(s stanza.Stanza)

// HandleStanza calls f(s).
func (f HandlerFunc) HandleStanza(s stanza.Stanza) {
	f(s)
}

// Handle identifies a registered listener or interceptor.
type Handle uint64

type listener struct {
	id   Handle
	f    filter.Filter
	h    Handler
	mode Mode

	mu      sync.Mutex
	queue   []stanza.Stanza
	running bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// Logger sets the logger used to report handler panics and dropped stanzas.
func Logger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// PoolSize limits the number of goroutines running asynchronous listeners.
// Each listener occupies at most one goroutine at a time.
// The default (or any value <= 0) does not limit the pool.
func PoolSize(n int) Option {
	return func(d *Dispatcher) {
		d.poolSize = n
	}
}

// OnDrop is called each time a collector discards a stanza because its buffer
// was full.
func OnDrop(f func()) Option {
	return func(d *Dispatcher) {
		d.onDrop = f
	}
}

// Dispatcher routes stanzas to listeners and collectors.
type Dispatcher struct {
	logger   logrus.FieldLogger
	poolSize int
	onDrop   func()
	pool     *ants.PoolWithFunc

	mu           sync.RWMutex
	next         Handle
	listeners    []*listener
	collectors   []*Collector
	interceptors []*interceptor
	closed       bool
	err          error
}

// New creates a dispatcher and its worker pool.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = logrus.StandardLogger()
	}
	if d.onDrop == nil {
		d.onDrop = func() {}
	}
	var err error
	d.pool, err = ants.NewPoolWithFunc(d.poolSize, func(arg interface{}) {
		d.drain(arg.(*listener))
	},
		ants.WithLogger(d.logger),
		ants.WithPanicHandler(func(a interface{}) {
			d.logger.WithField("panic", a).Error("dispatch: worker panic")
		}),
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// AddListener registers h to be called with stanzas matching f.
// A nil filter matches every stanza.
func (d *Dispatcher) AddListener(f filter.Filter, h Handler, mode Mode) Handle {
	if f == nil {
		f = filter.All
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	l := &listener{id: d.next, f: f, h: h, mode: mode}
	listeners := make([]*listener, 0, len(d.listeners)+1)
	listeners = append(listeners, d.listeners...)
	d.listeners = append(listeners, l)
	return l.id
}

// RemoveListener unregisters the listener identified by h.
// Stanzas already queued for an asynchronous listener are still delivered.
// It reports whether the listener was found.
func (d *Dispatcher) RemoveListener(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id != h {
			continue
		}
		listeners := make([]*listener, 0, len(d.listeners)-1)
		listeners = append(listeners, d.listeners[:i]...)
		d.listeners = append(listeners, d.listeners[i+1:]...)
		return true
	}
	return false
}

// CreateCollector registers and returns a collector that buffers up to size
// stanzas matching f.
// If size <= 0, DefaultCollectorSize is used.
// If the dispatcher has been closed the collector is returned already closed.
func (d *Dispatcher) CreateCollector(f filter.Filter, size int) *Collector {
	c := newCollector(d, f, size)
	d.mu.Lock()
	if d.closed {
		err := d.err
		d.mu.Unlock()
		c.finish(err)
		return c
	}
	collectors := make([]*Collector, 0, len(d.collectors)+1)
	collectors = append(collectors, d.collectors...)
	d.collectors = append(collectors, c)
	d.mu.Unlock()
	return c
}

func (d *Dispatcher) removeCollector(c *Collector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cc := range d.collectors {
		if cc != c {
			continue
		}
		collectors := make([]*Collector, 0, len(d.collectors)-1)
		collectors = append(collectors, d.collectors[:i]...)
		d.collectors = append(collectors, d.collectors[i+1:]...)
		return
	}
}

// Dispatch offers s to every listener and collector and returns the number
// that matched.
// After Close, Dispatch does nothing and returns 0.
func (d *Dispatcher) Dispatch(s stanza.Stanza) int {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return 0
	}
	listeners := d.listeners
	collectors := d.collectors
	d.mu.RUnlock()

	var n int
	for _, l := range listeners {
		if l.mode == Async && d.match(l.f, s) {
			n++
			d.enqueue(l, s)
		}
	}
	for _, c := range collectors {
		if d.match(c.f, s) {
			n++
			c.deliver(s)
		}
	}
	for _, l := range listeners {
		if l.mode == Sync && d.match(l.f, s) {
			n++
			d.call(l.h, s)
		}
	}
	return n
}

// Close stops dispatching, finishes every collector with err and releases the
// worker pool.
// If err is nil, ErrClosed is used.
// Calling Close more than once has no effect.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.err = err
	collectors := d.collectors
	d.collectors = nil
	d.mu.Unlock()

	for _, c := range collectors {
		c.finish(err)
	}
	d.pool.Release()
}

// CancelCollectors finishes every registered collector with err without
// closing the dispatcher.
// Listeners stay registered and new collectors may still be created.
func (d *Dispatcher) CancelCollectors(err error) {
	if err == nil {
		err = ErrCancelled
	}
	d.mu.Lock()
	collectors := d.collectors
	d.collectors = nil
	d.mu.Unlock()

	for _, c := range collectors {
		c.finish(err)
	}
}

func (d *Dispatcher) enqueue(l *listener, s stanza.Stanza) {
	l.mu.Lock()
	l.queue = append(l.queue, s)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	if err := d.pool.Invoke(l); err != nil {
		l.mu.Lock()
		l.running = false
		l.queue = nil
		l.mu.Unlock()
		d.logger.WithFields(logrus.Fields{
			"kind":  s.Kind(),
			"id":    s.StanzaHeader().ID,
			"error": err,
		}).Warn("dispatch: could not schedule listener")
	}
}

// drain runs on the pool and delivers the queued stanzas of l in order until
// the queue is empty.
func (d *Dispatcher) drain(l *listener) {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		s := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		d.call(l.h, s)
	}
}

func (d *Dispatcher) call(h Handler, s stanza.Stanza) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"kind":  s.Kind(),
				"id":    s.StanzaHeader().ID,
				"panic": r,
			}).Error("dispatch: recovered from panic in handler")
		}
	}()
	h.HandleStanza(s)
}

func (d *Dispatcher) match(f filter.Filter, s stanza.Stanza) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"kind":  s.Kind(),
				"id":    s.StanzaHeader().ID,
				"panic": r,
			}).Error("dispatch: recovered from panic in filter")
			ok = false
		}
	}()
	return f.Match(s)
}
