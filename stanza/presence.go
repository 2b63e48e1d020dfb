// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// AvailablePresence is a special case that signals that the entity is
	// available for communication.
	AvailablePresence PresenceType = ""

	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza; if the presence stanza is of type
	// "error", it MUST include an <error/> child element
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence. It should
	// generally only be generated and sent by servers on behalf of a user.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

func (t PresenceType) valid() bool {
	switch t {
	case AvailablePresence, ErrorPresence, ProbePresence, SubscribePresence,
		SubscribedPresence, UnavailablePresence, UnsubscribePresence,
		UnsubscribedPresence:
		return true
	}
	return false
}

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication. It is used to set a status message, broadcast
// availability, and advertise entity capabilities. It can be directed
// (one-to-one), or used as a broadcast mechanism (one-to-many).
type Presence struct {
	Header
	Type PresenceType
}

// NewPresence returns a presence of the given type addressed by h with the
// provided extensions.
func NewPresence(h Header, typ PresenceType, ext ...Extension) Presence {
	return Presence{Header: h.withExtensions(ext...), Type: typ}
}

// Kind returns PresenceKind.
func (Presence) Kind() Kind { return PresenceKind }

// With returns a copy of the presence with ext appended.
func (p Presence) With(ext ...Extension) Presence {
	p.Header = p.Header.withExtensions(ext...)
	return p
}

func (p Presence) withID(id string) Stanza {
	p.ID = id
	return p
}

// Validate checks the presence type and the presence of an error payload on
// error presences.
func (p Presence) Validate() error {
	switch {
	case !p.Type.valid():
		return &MalformedError{Kind: PresenceKind, ID: p.ID, Reason: "unknown type " + string(p.Type)}
	case p.Type == ErrorPresence && p.Err == nil:
		return &MalformedError{Kind: PresenceKind, ID: p.ID, Reason: "error presence without error payload"}
	}
	return nil
}

// StartElement converts the Presence into an XML token.
func (p Presence) StartElement() xml.StartElement {
	return p.start("presence", string(p.Type))
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (p Presence) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(p.payload(), p.StartElement())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (p Presence) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, p.TokenReader())
}
