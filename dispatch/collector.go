// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/filter"
	"mellium.im/xmppc/stanza"
)

// DefaultCollectorSize is the number of stanzas a collector buffers when no
// size is given.
const DefaultCollectorSize = 5000

// Collector buffers the stanzas that match a filter until they are read.
// When the buffer is full the oldest stanza is discarded.
//
// Each matching stanza is delivered to a collector at most once.
// A collector stops receiving stanzas as soon as Cancel returns.
type Collector struct {
	d      *Dispatcher
	f      filter.Filter
	size   int
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	buf     []stanza.Stanza
	err     error
	dropped uint64
}

func newCollector(d *Dispatcher, f filter.Filter, size int) *Collector {
	if f == nil {
		f = filter.All
	}
	if size <= 0 {
		size = DefaultCollectorSize
	}
	return &Collector{
		d:      d,
		f:      f,
		size:   size,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Collector) deliver(s stanza.Stanza) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	var dropped stanza.Stanza
	if len(c.buf) >= c.size {
		dropped = c.buf[0]
		c.buf[0] = nil
		c.buf = c.buf[1:]
		c.dropped++
	}
	c.buf = append(c.buf, s)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	if dropped != nil {
		c.d.logger.WithFields(logrus.Fields{
			"kind": dropped.Kind(),
			"id":   dropped.StanzaHeader().ID,
		}).Warn("dispatch: collector full, dropped oldest stanza")
		c.d.onDrop()
	}
}

// finish stops delivery and records the error returned once the buffer is
// empty.
func (c *Collector) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Poll returns the oldest buffered stanza without blocking.
func (c *Collector) Poll() (stanza.Stanza, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return nil, false
	}
	s := c.buf[0]
	c.buf[0] = nil
	c.buf = c.buf[1:]
	return s, true
}

// Next blocks until a stanza is available and returns it.
//
// Buffered stanzas are always returned first.
// Once the buffer is empty Next returns ErrCancelled if the collector was
// cancelled, or the error the dispatcher was closed with.
// If ctx is done first the collector is cancelled and ctx.Err() is returned.
func (c *Collector) Next(ctx context.Context) (stanza.Stanza, error) {
	for {
		if s, ok := c.Poll(); ok {
			return s, nil
		}
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			c.Cancel()
			return nil, ctx.Err()
		}
	}
}

// Cancel removes the collector from the dispatcher.
// No stanzas are delivered after Cancel returns.
// It is safe to call Cancel more than once.
func (c *Collector) Cancel() {
	c.finish(ErrCancelled)
	c.d.removeCollector(c)
}

// Done returns a channel that is closed when the collector is cancelled or the
// dispatcher is closed.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Len returns the number of buffered stanzas.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Dropped returns the number of stanzas discarded because the buffer was full.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
