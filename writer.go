// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"io"

	"mellium.im/xmppc/internal/marshal"
	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/stanza"
)

// outbound is an element waiting to be written.
// Only stanzas are counted by stream management.
type outbound struct {
	b      []byte
	kind   stanza.Kind
	stanza bool
	// s is reported to send listeners once written.
	s stanza.Stanza
}

// Send validates and serializes s and queues it to be written.
// Stanzas are written in the order they were queued.
// Interceptors are applied to s first, and send listeners are called once it
// has been written.
//
// If the queue is full Send blocks until there is room, ctx is done, or the
// connection is lost.
// Send returns ErrNotConnected unless the connection is Connected.
func (c *Conn) Send(ctx context.Context, s stanza.Stanza) error {
	s = c.out.Intercept(s)
	if err := s.Validate(); err != nil {
		return err
	}
	b, err := marshal.Bytes(s)
	if err != nil {
		return err
	}
	l, err := c.activeLink()
	if err != nil {
		return err
	}
	return c.enqueue(ctx, l, outbound{b: b, kind: s.Kind(), stanza: true, s: s})
}

func (c *Conn) activeLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

func (c *Conn) enqueue(ctx context.Context, l *link, o outbound) error {
	select {
	case <-l.stop:
		return ErrNotConnected
	case <-l.ctx.Done():
		return ErrNotConnected
	default:
	}
	select {
	case l.queue <- o:
		c.cfg.Metrics.queued(len(l.queue))
		return nil
	case <-l.stop:
		return ErrNotConnected
	case <-l.ctx.Done():
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop writes queued elements until the link is stopped or fails.
// When stopped it writes everything still queued and closes the stream.
// When the server closes its stream first the stream is closed right away.
func (c *Conn) writeLoop(l *link) error {
	defer close(l.writerDone)
	for _, b := range l.resend {
		if _, err := l.sess.conn.Write(b); err != nil {
			return err
		}
	}
	l.resend = nil

	for {
		select {
		case o := <-l.queue:
			if err := c.write(l, o); err != nil {
				return err
			}
		case <-l.stop:
			if err := c.flushQueue(l); err != nil {
				return err
			}
			_, err := io.WriteString(l.sess.conn, intstream.Close)
			return err
		case <-l.peerClosed:
			// The server is no longer reading, so a failed write does not matter.
			_, _ = io.WriteString(l.sess.conn, intstream.Close)
			return nil
		case <-l.ctx.Done():
			return nil
		}
	}
}

func (c *Conn) flushQueue(l *link) error {
	for {
		select {
		case o := <-l.queue:
			if err := c.write(l, o); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (c *Conn) write(l *link, o outbound) error {
	c.cfg.Metrics.queued(len(l.queue))
	// Stanzas are counted before they are written so that one lost with the
	// transport is sent again if the session is resumed.
	unacked := 0
	if o.stanza && l.sm != nil {
		unacked = l.sm.sent(o.b)
	}
	if _, err := l.sess.conn.Write(o.b); err != nil {
		return err
	}
	if !o.stanza {
		return nil
	}
	c.cfg.Metrics.sent(o.kind)
	if o.s != nil {
		c.out.Dispatch(o.s)
	}
	if unacked == 0 || unacked%smAckInterval != 0 {
		return nil
	}
	r, err := requestBytes()
	if err != nil {
		return err
	}
	_, err = l.sess.conn.Write(r)
	return err
}
