// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

// State is the lifecycle state of a Conn.
type State uint8

// A list of connection states.
const (
	Initial State = iota
	Connecting
	StreamNegotiating
	Authenticated
	Bound
	Connected
	Disconnecting
	Disconnected
	Error
)

var stateNames = [...]string{
	Initial:           "initial",
	Connecting:        "connecting",
	StreamNegotiating: "stream-negotiating",
	Authenticated:     "authenticated",
	Bound:             "bound",
	Connected:         "connected",
	Disconnecting:     "disconnecting",
	Disconnected:      "disconnected",
	Error:             "error",
}

// String returns a lower case name for the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// canConnect reports whether Connect may be called from state s.
func (s State) canConnect() bool {
	return s == Initial || s == Disconnected || s == Error
}

// SessionState represents the current state of an XMPP session. For a
// description of each bit, see the various SessionState typed constants.
type SessionState uint16

const (
	// Secure indicates that the underlying connection has been secured, for
	// instance after STARTTLS has been performed.
	Secure SessionState = 1 << iota

	// Authn indicates that the session has been authenticated via SASL.
	Authn

	// BoundResource indicates that a resource has been bound (or that a
	// previous binding was restored by resuming the session).
	BoundResource

	// Ready indicates that the session is fully negotiated and that stanzas may
	// be sent and received.
	Ready

	// Resumed indicates that a previous session was resumed instead of
	// binding a new resource.
	Resumed

	// SMEnabled indicates that stream management is active on the stream.
	SMEnabled

	// Compressed indicates that stream compression is active.
	Compressed

	// StreamRestartRequired indicates that the session's streams must be
	// restarted. This bit will trigger an automatic restart and will be flipped
	// back to off as soon as the stream is restarted.
	StreamRestartRequired
)
