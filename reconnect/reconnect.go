// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package reconnect re-establishes connections that were lost.
//
// Only connections that fail after being established are reconnected.
// A connection that is disconnected cleanly stays disconnected.
package reconnect // import "mellium.im/xmppc/reconnect"

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/abtime"

	"mellium.im/xmppc"
)

// DelayTimer is the abtime id of the timer used between attempts.
const DelayTimer = iota

// Connector is the part of an *xmppc.Conn used by a Manager.
type Connector interface {
	Connect(ctx context.Context) error
	AddConnectionListener(f func(old, new xmppc.State, err error))
}

// Manager reconnects a Connector after its connection is lost.
type Manager struct {
	conn   Connector
	policy Policy
	clock  abtime.AbstractTime
	logger logrus.FieldLogger
	lost   chan error
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the delay policy.
// The default is RandomIncreasingDelay.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithClock sets the clock used to wait between attempts.
func WithClock(clock abtime.AbstractTime) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New returns a Manager for c and registers it as a connection listener.
// The Manager does nothing until Run is called.
func New(c Connector, opts ...Option) *Manager {
	m := &Manager{
		conn: c,
		lost: make(chan error, 1),
	}
	for _, o := range opts {
		o(m)
	}
	if m.policy == nil {
		m.policy = RandomIncreasingDelay(nil)
	}
	if m.clock == nil {
		m.clock = abtime.NewRealTime()
	}
	if m.logger == nil {
		m.logger = logrus.StandardLogger()
	}
	// Listeners may not call Connect, so the loss is handed off to Run.
	c.AddConnectionListener(func(old, new xmppc.State, err error) {
		if old != xmppc.Connected || new != xmppc.Error {
			return
		}
		select {
		case m.lost <- err:
		default:
		}
	})
	return m
}

// Run reconnects every time the connection is lost until ctx is canceled or
// the connection is closed.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-m.lost:
			m.logger.WithField("error", err).Info("reconnect: connection lost")
		}
		if err := m.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		delay := m.policy.Delay(attempt)
		logger := m.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		})
		logger.Debug("reconnect: waiting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(delay, DelayTimer):
		}

		err := m.conn.Connect(ctx)
		switch {
		case err == nil:
			logger.Info("reconnect: connected")
			return nil
		case errors.Is(err, xmppc.ErrClosed):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		logger.WithField("error", err).Warn("reconnect: attempt failed")
	}
}
