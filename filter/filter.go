// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package filter contains predicates over stanzas.
//
// Filters select which stanzas are delivered to listeners and collectors.
// They are evaluated on the goroutine that reads from the stream and must not
// block.
package filter // import "mellium.im/xmppc/filter"

import (
	"encoding/xml"

	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stanza"
)

// Filter reports whether a stanza should be accepted.
type Filter interface {
	Match(s stanza.Stanza) bool
}

// Func is an adapter that allows the use of ordinary functions as filters.
type Func func(s stanza.Stanza) bool

// Match calls f(s).
func (f Func) Match(s stanza.Stanza) bool {
	return f(s)
}

// All matches every stanza.
var All Filter = Func(func(stanza.Stanza) bool { return true })

// And matches when every filter matches.
// An empty And matches everything.
func And(filters ...Filter) Filter {
	return Func(func(s stanza.Stanza) bool {
		for _, f := range filters {
			if !f.Match(s) {
				return false
			}
		}
		return true
	})
}

// Or matches when any filter matches.
// An empty Or matches nothing.
func Or(filters ...Filter) Filter {
	return Func(func(s stanza.Stanza) bool {
		for _, f := range filters {
			if f.Match(s) {
				return true
			}
		}
		return false
	})
}

// Not inverts f.
func Not(f Filter) Filter {
	return Func(func(s stanza.Stanza) bool {
		return !f.Match(s)
	})
}

// ID matches stanzas with the given id.
func ID(id string) Filter {
	return Func(func(s stanza.Stanza) bool {
		return s.StanzaHeader().ID == id
	})
}

// Kind matches stanzas of kind k.
func Kind(k stanza.Kind) Filter {
	return Func(func(s stanza.Stanza) bool {
		return s.Kind() == k
	})
}

// IQType matches IQs with one of the given types.
func IQType(types ...stanza.IQType) Filter {
	return Func(func(s stanza.Stanza) bool {
		iq, ok := s.(stanza.IQ)
		if !ok {
			return false
		}
		for _, t := range types {
			if iq.Type == t {
				return true
			}
		}
		return false
	})
}

// MessageType matches messages with one of the given types.
// A message without a type is treated as a normal message.
func MessageType(types ...stanza.MessageType) Filter {
	return Func(func(s stanza.Stanza) bool {
		msg, ok := s.(stanza.Message)
		if !ok {
			return false
		}
		typ := msg.Type
		if typ == "" {
			typ = stanza.NormalMessage
		}
		for _, t := range types {
			if typ == t {
				return true
			}
		}
		return false
	})
}

// PresenceType matches presences with one of the given types.
func PresenceType(types ...stanza.PresenceType) Filter {
	return Func(func(s stanza.Stanza) bool {
		p, ok := s.(stanza.Presence)
		if !ok {
			return false
		}
		for _, t := range types {
			if p.Type == t {
				return true
			}
		}
		return false
	})
}

// From matches stanzas sent from exactly j.
func From(j jid.JID) Filter {
	return Func(func(s stanza.Stanza) bool {
		return s.StanzaHeader().From.Equal(j)
	})
}

// FromBare matches stanzas sent from any resource of the bare JID of j.
func FromBare(j jid.JID) Filter {
	bare := j.Bare()
	return Func(func(s stanza.Stanza) bool {
		return s.StanzaHeader().From.Bare().Equal(bare)
	})
}

// HasExtension matches stanzas that carry at least one extension with the
// given name.
func HasExtension(name xml.Name) Filter {
	return Func(func(s stanza.Stanza) bool {
		_, ok := s.StanzaHeader().Extension(name)
		return ok
	})
}

// IQReply matches the result or error sent in reply to req.
//
// The reply must have the same id and come from the entity the request was
// addressed to.
// Requests without a to address are handled by the server on behalf of the
// account, so replies from local (full or bare), from the server domain of
// local, or with no from address at all are accepted.
// The same is true of requests addressed to the bare JID of local.
func IQReply(req stanza.IQ, local jid.JID) Filter {
	to := req.To
	toSelf := to.IsZero() || (!local.IsZero() && to.Equal(local.Bare()))
	return Func(func(s stanza.Stanza) bool {
		iq, ok := s.(stanza.IQ)
		if !ok || iq.ID != req.ID {
			return false
		}
		if iq.Type != stanza.ResultIQ && iq.Type != stanza.ErrorIQ {
			return false
		}
		from := iq.From
		if from.Equal(to) {
			return true
		}
		if !toSelf {
			return false
		}
		return from.IsZero() ||
			from.Equal(local) ||
			from.Equal(local.Bare()) ||
			from.Equal(local.Domain())
	})
}
