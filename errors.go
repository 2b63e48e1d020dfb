// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by Conn.
var (
	// ErrNotConnected is returned when sending on a connection that is not
	// connected, and by pending requests when the connection goes away.
	ErrNotConnected = errors.New("xmppc: not connected")

	// ErrNoResponse is matched by errors.Is for every *NoResponseError.
	ErrNoResponse = errors.New("xmppc: no response")

	// ErrIQNotHandled may be returned by an IQHandler to have the request
	// answered with the configured fallback error.
	ErrIQNotHandled = errors.New("xmppc: iq not handled")

	// ErrClosed is returned by Connect after Close has been called.
	ErrClosed = errors.New("xmppc: connection closed")

	errStreamClosed = errors.New("xmppc: stream closed by peer")
)

// Negotiation steps reported in a NegotiationError.
const (
	StepStream   = "stream"
	StepTLS      = "tls"
	StepSASL     = "sasl"
	StepCompress = "compress"
	StepBind     = "bind"
	StepResume   = "resume"
	StepSM       = "sm"
)

// NegotiationError is returned by Connect when negotiating a stream feature
// failed or did not complete in time.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("xmppc: negotiating %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// ParseError is a fatal error caused by XML on the stream that is not well
// formed.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "xmppc: malformed xml: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NoResponseError is returned when no reply to a request arrived in time.
type NoResponseError struct {
	ID      string
	Timeout time.Duration
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("xmppc: no response to %q within %s", e.ID, e.Timeout)
}

// Is reports whether target is ErrNoResponse.
func (e *NoResponseError) Is(target error) bool {
	return target == ErrNoResponse
}
