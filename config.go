// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/provider"
	"mellium.im/xmppc/stanza"
)

// Default values used for zero fields of a Config.
const (
	DefaultReplyTimeout       = 5 * time.Second
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultCloseTimeout       = 2 * time.Second
	DefaultQueueSize          = 500
)

// Config represents the configuration of a Conn.
// The zero value of every field except Origin and Dial is usable.
type Config struct {
	// Origin is the account being logged in to.
	// If it has a resourcepart it is requested when binding.
	Origin jid.JID

	// Lang is the default language of the stream (the xml:lang attribute).
	Lang string

	// Features lists the stream features to negotiate, in order of
	// preference.
	Features []StreamFeature

	// Dial opens a new transport to the server each time Connect is called.
	Dial func(ctx context.Context) (io.ReadWriteCloser, error)

	// Registry decodes incoming stanzas.
	// If nil, provider.Default is used.
	Registry *provider.Registry

	// Logger receives the connection logs.
	// Raw XML is logged when the logger is at trace level.
	// If nil, logrus.StandardLogger() is used.
	Logger logrus.FieldLogger

	// Metrics, if not nil, is updated as the connection is used.
	Metrics *Metrics

	// IQHandler answers incoming get and set requests.
	// Requests it does not handle (or every request if it is nil) receive an
	// error reply with the UnhandledIQ condition.
	IQHandler IQHandler

	// UnhandledIQ is the condition sent in reply to requests that are not
	// handled.
	// Defaults to service-unavailable.
	UnhandledIQ stanza.Condition

	// ReplyTimeout bounds the wait for replies to requests.
	ReplyTimeout time.Duration

	// NegotiationTimeout bounds each step of stream negotiation.
	NegotiationTimeout time.Duration

	// CloseTimeout is how long Disconnect waits for the server to close its
	// stream before closing the transport.
	CloseTimeout time.Duration

	// QueueSize is the number of outgoing stanzas that may be waiting to be
	// written before Send blocks.
	QueueSize int

	// CollectorSize is the buffer size of collectors created with
	// CreateCollector.
	CollectorSize int

	// PoolSize limits the number of goroutines used by asynchronous listeners.
	// Zero means no limit.
	PoolSize int

	// OnStateChange is called after every state transition.
	// It must not call Connect or Disconnect.
	OnStateChange func(old, new State, err error)
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = provider.Default
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.UnhandledIQ == "" {
		c.UnhandledIQ = stanza.ServiceUnavailable
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// DialTCP returns a dial function for Config.Dial that connects to addr over
// TCP.
func DialTCP(addr string) func(ctx context.Context) (io.ReadWriteCloser, error) {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}
