// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"encoding/xml"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/provider"
	"mellium.im/xmppc/stanza"
	"mellium.im/xmppc/stream"
)

// readLoop decodes stanzas from the stream and dispatches them until the
// stream ends or fails.
func (c *Conn) readLoop(l *link) error {
	d := l.sess.d
	r := intstream.Reader(d)
	for {
		tok, err := r.Token()
		if err != nil {
			err = readErr(err)
			if errors.Is(err, errStreamClosed) {
				c.closeReply(l)
			}
			return err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Space == ns.SM {
			if err = c.handleSM(l, start); err != nil {
				return err
			}
			continue
		}

		s, err := c.cfg.Registry.Decode(xmlstream.Inner(d), start)
		var decodeErr *provider.DecodeError
		switch {
		case errors.As(err, &decodeErr):
			if stanza.Is(start.Name) && l.sm != nil {
				l.sm.handled()
			}
			c.logger.WithFields(logrus.Fields{
				"kind":  start.Name.Local,
				"id":    decodeErr.ID,
				"error": decodeErr.Err,
			}).Warn("xmppc: dropping element that could not be decoded")
			continue
		case err != nil:
			return readErr(err)
		}

		if l.sm != nil {
			l.sm.handled()
		}
		c.cfg.Metrics.received(s.Kind())
		if c.late(s) {
			c.logger.WithField("id", s.StanzaHeader().ID).Debug("xmppc: dropping reply to a request that timed out")
			continue
		}
		c.disp.Dispatch(s)
	}
}

// closeReply has the writer close our side of the stream after the server
// closed its side, and waits for it at most CloseTimeout.
func (c *Conn) closeReply(l *link) {
	close(l.peerClosed)
	timer := time.NewTimer(c.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-l.writerDone:
	case <-timer.C:
		c.logger.Debug("xmppc: could not close the stream in time")
	}
}

// readErr converts errors from the stream into the errors reported by the
// connection.
func readErr(err error) error {
	if err == io.EOF {
		return errStreamClosed
	}
	var se stream.Error
	if errors.As(err, &se) {
		return se
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &ParseError{Err: err}
	}
	return err
}

// handleSM answers ack requests and processes acks from the server.
func (c *Conn) handleSM(l *link, start xml.StartElement) error {
	if err := xmlstream.Skip(l.sess.d); err != nil {
		return readErr(err)
	}
	if l.sm == nil {
		c.logger.WithField("local", start.Name.Local).Debug("xmppc: ignoring stream management element")
		return nil
	}
	switch start.Name.Local {
	case "r":
		b, err := ackBytes(l.sm.h())
		if err != nil {
			return err
		}
		// Enqueueing only fails once the link is going away.
		_ = c.enqueue(l.ctx, l, outbound{b: b})
	case "a":
		h, err := parseH(start)
		if err != nil {
			c.logger.WithField("error", err).Warn("xmppc: invalid ack from server")
			return nil
		}
		l.sm.ack(h)
	}
	return nil
}
