// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/xml"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/stream"
)

// negotiate restarts the stream and negotiates features until the session is
// ready.
// Features are tried in the order they are configured; each one is attempted
// at most once per stream.
// onMask is called with the bits set by every successful step.
func (s *Session) negotiate(ctx context.Context, features []StreamFeature, timeout time.Duration, onMask func(SessionState)) error {
	for {
		var list *featureList
		err := s.step(ctx, timeout, func(ctx context.Context) error {
			if err := s.sendHeader(); err != nil {
				return err
			}
			var err error
			s.in, err = intstream.Expect(ctx, s.d)
			if err != nil {
				return err
			}
			list, err = readFeatures(ctx, s.d, features)
			return err
		})
		if err != nil {
			return &NegotiationError{Step: StepStream, Err: err}
		}

		attempted := make([]bool, len(features))
		negotiated := make(map[xml.Name]bool)
		restart := false
		for !restart {
			i := s.pick(features, list, attempted)
			if i < 0 {
				break
			}
			attempted[i] = true
			f := features[i]
			logger := s.logger.WithField("step", f.Step)
			logger.Debug("xmppc: negotiating feature")

			var (
				mask SessionState
				rw   io.ReadWriteCloser
			)
			err := s.step(ctx, timeout, func(ctx context.Context) error {
				var err error
				mask, rw, err = f.Negotiate(ctx, s, list.parsed[f.Name].data)
				return err
			})
			if err != nil {
				logger.WithField("error", err).Debug("xmppc: negotiating feature failed")
				return &NegotiationError{Step: f.Step, Err: err}
			}
			if mask == 0 && rw == nil {
				logger.Debug("xmppc: feature skipped")
				continue
			}

			negotiated[f.Name] = true
			s.state |= mask
			if rw != nil {
				s.setTransport(rw)
			}
			onMask(mask)
			if s.state&Ready == Ready {
				return nil
			}
			if s.state&StreamRestartRequired == StreamRestartRequired {
				s.state &^= StreamRestartRequired
				s.reset()
				restart = true
			}
		}
		if restart {
			continue
		}
		if list.unhandledReq || missingRequired(list, negotiated) {
			return &NegotiationError{Step: StepStream, Err: stream.UnsupportedFeature}
		}
		s.state |= Ready
		s.logger.WithFields(logrus.Fields{
			"local": s.local.String(),
			"id":    s.in.ID,
		}).Debug("xmppc: stream negotiated")
		return nil
	}
}

// missingRequired reports whether the server marked a feature as required that
// could not be negotiated on this stream.
func missingRequired(list *featureList, negotiated map[xml.Name]bool) bool {
	for name, p := range list.parsed {
		if p.req && !negotiated[name] {
			return true
		}
	}
	return false
}

// pick returns the index of the first configured feature that the server
// advertised, that has not been attempted on this stream, and whose state
// requirements are met, or -1 if there is none.
func (s *Session) pick(features []StreamFeature, list *featureList, attempted []bool) int {
	for i, f := range features {
		if attempted[i] {
			continue
		}
		if _, ok := list.parsed[f.Name]; !ok {
			continue
		}
		if f.eligible(s.state) {
			return i
		}
	}
	return -1
}

// step runs f with a deadline.
// When the deadline passes (or ctx is canceled) the transport is closed to
// unblock any pending read or write, and the context error is returned.
func (s *Session) step(ctx context.Context, timeout time.Duration, f func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	raw := s.raw
	stop := context.AfterFunc(ctx, func() {
		raw.Close()
	})
	err := f(ctx)
	if !stop() {
		return ctx.Err()
	}
	return err
}
