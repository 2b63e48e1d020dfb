// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"encoding/xml"

	"mellium.im/xmppc"
	"mellium.im/xmppc/stanza"
)

// IQOption configures an IQMux.
type IQOption func(m *IQMux)

// HandleIQ returns an option that matches the IQ payload by XML name and IQ
// type.
// If a handler already exists for the pattern when the option is applied, the
// option panics.
func HandleIQ(iqType stanza.IQType, n xml.Name, h xmppc.IQHandler) IQOption {
	return func(m *IQMux) {
		if h == nil {
			panic("mux: nil handler")
		}
		pattern := patternKey{Name: n, Type: iqType}
		if _, ok := m.patterns[pattern]; ok {
			panic("mux: multiple registrations for {" + pattern.Space + "}" + pattern.Local + " of type " + string(iqType))
		}
		if m.patterns == nil {
			m.patterns = make(map[patternKey]xmppc.IQHandler)
		}
		m.patterns[pattern] = h
	}
}

// HandleIQFunc returns an option that matches the IQ payload by XML name and
// IQ type.
func HandleIQFunc(iqType stanza.IQType, n xml.Name, h xmppc.IQHandlerFunc) IQOption {
	return HandleIQ(iqType, n, h)
}

// GetIQ is a shortcut for HandleIQ with the type set to "get".
func GetIQ(n xml.Name, h xmppc.IQHandler) IQOption {
	return HandleIQ(stanza.GetIQ, n, h)
}

// GetIQFunc is a shortcut for HandleIQFunc with the type set to "get".
func GetIQFunc(n xml.Name, h xmppc.IQHandlerFunc) IQOption {
	return GetIQ(n, h)
}

// SetIQ is a shortcut for HandleIQ with the type set to "set".
func SetIQ(n xml.Name, h xmppc.IQHandler) IQOption {
	return HandleIQ(stanza.SetIQ, n, h)
}

// SetIQFunc is a shortcut for HandleIQFunc with the type set to "set".
func SetIQFunc(n xml.Name, h xmppc.IQHandlerFunc) IQOption {
	return SetIQ(n, h)
}
