// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/dispatch"
	"mellium.im/xmppc/filter"
	"mellium.im/xmppc/internal/attr"
	"mellium.im/xmppc/stanza"
)

// IQHandler answers IQ requests (get and set) received by a Conn.
//
// HandleIQ returns the reply to send.
// A reply with no type is sent as an empty result.
// If HandleIQ returns a stanza.Error it is sent as an error reply, and if it
// returns ErrIQNotHandled the request is answered with the configured
// fallback condition.
type IQHandler interface {
	HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error)
}

// IQHandlerFunc is an adapter to allow the use of ordinary functions as IQ
// handlers.
type IQHandlerFunc func(ctx context.Context, iq stanza.IQ) (stanza.IQ, error)

// HandleIQ calls f(ctx, iq).
func (f IQHandlerFunc) HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	return f(ctx, iq)
}

func (c *Conn) handleIQ(s stanza.Stanza) {
	iq := s.(stanza.IQ)
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReplyTimeout)
	defer cancel()

	var (
		reply stanza.IQ
		err   = ErrIQNotHandled
	)
	if c.cfg.IQHandler != nil {
		reply, err = c.cfg.IQHandler.HandleIQ(ctx, iq)
	}

	var se stanza.Error
	switch {
	case errors.Is(err, ErrIQNotHandled):
		reply = iq.ErrorReply(stanza.Error{Type: stanza.Cancel, Condition: c.cfg.UnhandledIQ})
	case errors.As(err, &se):
		reply = iq.ErrorReply(se)
	case err != nil:
		c.logger.WithFields(logrus.Fields{
			"id":    iq.ID,
			"error": err,
		}).Warn("xmppc: iq handler failed")
		reply = iq.ErrorReply(stanza.Error{Type: stanza.Wait, Condition: stanza.InternalServerError})
	case reply.Type == "":
		reply = iq.Result()
	}

	if err = c.Send(ctx, reply); err != nil {
		c.logger.WithFields(logrus.Fields{
			"id":    iq.ID,
			"error": err,
		}).Debug("xmppc: could not reply to iq")
	}
}

// Response is a reply to a request that may not have arrived yet.
type Response struct {
	done chan struct{}
	iq   stanza.IQ
	err  error
}

// Done returns a channel that is closed once the result is available.
func (r *Response) Done() <-chan struct{} {
	return r.done
}

// Result blocks until the reply arrives and returns it with the same errors as
// SendIQ.
func (r *Response) Result() (stanza.IQ, error) {
	<-r.done
	return r.iq, r.err
}

// SendIQ sends a get or set request and waits for the reply.
// If the request has no id a random one is assigned.
//
// The wait is bounded by the configured ReplyTimeout or by the deadline of ctx
// if it is earlier.
// A result is returned with a nil error.
// An error reply is returned along with its stanza.Error.
// If no reply arrives in time the error is a *NoResponseError, and if the
// connection is lost first it is ErrNotConnected.
// Only cancellation of ctx is returned as ctx.Err().
//
// A reply that arrives after the request timed out is dropped without reaching
// any listener.
func (c *Conn) SendIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	iq, coll, err := c.startIQ(ctx, iq)
	if err != nil {
		return stanza.IQ{}, err
	}
	return c.awaitIQ(ctx, iq, coll, time.Now())
}

// SendIQAsync is like SendIQ but does not wait for the reply.
// The request is queued before SendIQAsync returns.
func (c *Conn) SendIQAsync(ctx context.Context, iq stanza.IQ) *Response {
	r := &Response{done: make(chan struct{})}
	iq, coll, err := c.startIQ(ctx, iq)
	if err != nil {
		r.err = err
		close(r.done)
		return r
	}
	sent := time.Now()
	go func() {
		r.iq, r.err = c.awaitIQ(ctx, iq, coll, sent)
		close(r.done)
	}()
	return r
}

func (c *Conn) startIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, *dispatch.Collector, error) {
	if !iq.Type.IsRequest() {
		return iq, nil, fmt.Errorf("xmppc: iq of type %q is not a request", iq.Type)
	}
	if iq.ID == "" {
		iq = stanza.WithID(iq, attr.RandomID()).(stanza.IQ)
	}
	// The collector is registered before the request is sent so that a fast
	// reply cannot be missed.
	coll := c.disp.CreateCollector(filter.IQReply(iq, c.LocalAddr()), 1)
	if err := c.Send(ctx, iq); err != nil {
		coll.Cancel()
		return iq, nil, err
	}
	return iq, coll, nil
}

func (c *Conn) awaitIQ(ctx context.Context, iq stanza.IQ, coll *dispatch.Collector, sent time.Time) (stanza.IQ, error) {
	defer coll.Cancel()
	timeout := c.cfg.ReplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, max(time.Until(deadline), 0))
	}
	wait, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s, err := coll.Next(wait)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		c.cfg.Metrics.timeout()
		c.expire(iq.ID)
		return stanza.IQ{}, &NoResponseError{ID: iq.ID, Timeout: timeout}
	case errors.Is(err, dispatch.ErrClosed):
		return stanza.IQ{}, ErrNotConnected
	default:
		return stanza.IQ{}, err
	}

	c.cfg.Metrics.roundTrip(time.Since(sent))
	reply := s.(stanza.IQ)
	if reply.Type == stanza.ErrorIQ {
		if reply.Err == nil {
			return reply, stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
		}
		return reply, *reply.Err
	}
	return reply, nil
}

// lateReplyWindow is how long replies to requests that timed out are dropped.
const lateReplyWindow = time.Minute

// expire records that nobody waits for the reply to id anymore.
func (c *Conn) expire(id string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expired == nil {
		c.expired = make(map[string]time.Time)
	}
	for k, t := range c.expired {
		if now.Sub(t) > lateReplyWindow {
			delete(c.expired, k)
		}
	}
	c.expired[id] = now
}

// late reports whether s is the reply to a request that already failed with a
// NoResponseError.
func (c *Conn) late(s stanza.Stanza) bool {
	iq, ok := s.(stanza.IQ)
	if !ok || iq.Type.IsRequest() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.expired[iq.ID]
	if !ok {
		return false
	}
	delete(c.expired, iq.ID)
	return time.Since(t) <= lateReplyWindow
}
