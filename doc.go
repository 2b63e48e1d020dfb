// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmppc implements the client side of a long lived XMPP connection.
//
// A Conn dials a transport, negotiates a stream using the configured
// StreamFeatures (StartTLS, SASL, compression, resource binding and stream
// management), and then runs a reader and a writer goroutine until the stream
// is closed.
// Incoming stanzas are decoded by a provider.Registry and handed to a
// dispatch.Dispatcher where listeners and collectors pick them up.
// SendIQ correlates requests with their replies.
//
// Be advised: This API is still unstable and is subject to change.
package xmppc // import "mellium.im/xmppc"
