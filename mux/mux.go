// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package mux implements an IQ multiplexer for connections.
package mux // import "mellium.im/xmppc/mux"

import (
	"context"
	"encoding/xml"

	"mellium.im/xmppc"
	"mellium.im/xmppc/stanza"
)

type patternKey struct {
	xml.Name
	Type stanza.IQType
}

// IQMux is an xmppc.IQHandler that routes requests to other handlers.
//
// IQs are matched by the type and the XML name of their payload.
// If either the namespace or the localname is left off, any namespace or
// localname will be matched.
// Full XML names take precedence, followed by wildcard localnames, followed by
// wildcard namespaces, followed by a handler registered for the type alone.
//
// Requests that match no handler are reported as not handled, so the
// connection answers them with its fallback error.
type IQMux struct {
	patterns map[patternKey]xmppc.IQHandler
}

// NewIQMux allocates and returns a new IQMux.
func NewIQMux(opt ...IQOption) *IQMux {
	m := &IQMux{}
	for _, o := range opt {
		o(m)
	}
	return m
}

// Handler returns the handler to use for an IQ payload with the given name and
// type.
// If no handler exists ok is false.
func (m *IQMux) Handler(iqType stanza.IQType, name xml.Name) (h xmppc.IQHandler, ok bool) {
	pattern := patternKey{Name: name, Type: iqType}
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	pattern.Name = xml.Name{Local: name.Local}
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	pattern.Name = xml.Name{Space: name.Space}
	if h = m.patterns[pattern]; h != nil {
		return h, true
	}

	pattern.Name = xml.Name{}
	h = m.patterns[pattern]
	return h, h != nil
}

// HandleIQ dispatches the request to the handler whose pattern most closely
// matches its type and payload.
func (m *IQMux) HandleIQ(ctx context.Context, iq stanza.IQ) (stanza.IQ, error) {
	var name xml.Name
	if payload, ok := iq.Payload(); ok {
		name = payload.Name()
	}
	h, ok := m.Handler(iq.Type, name)
	if !ok {
		return stanza.IQ{}, xmppc.ErrIQNotHandled
	}
	return h.HandleIQ(ctx, iq)
}
