// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message that is sent outside the context of
	// a one-to-one conversation or groupchat, and to which it is expected that
	// the recipient will reply.
	NormalMessage MessageType = "normal"

	// ChatMessage represents a message sent in the context of a one-to-one chat
	// session.
	ChatMessage MessageType = "chat"

	// ErrorMessage is generated by an entity that experiences an error when
	// processing a message received from another entity.
	ErrorMessage MessageType = "error"

	// GroupChatMessage is sent in the context of a multi-user chat environment.
	GroupChatMessage MessageType = "groupchat"

	// HeadlineMessage provides an alert, a notification, or other transient
	// information to which no reply is expected.
	HeadlineMessage MessageType = "headline"
)

func (t MessageType) valid() bool {
	switch t {
	case "", NormalMessage, ChatMessage, ErrorMessage, GroupChatMessage, HeadlineMessage:
		return true
	}
	return false
}

// Message is an XMPP stanza that contains a payload for direct one-to-one
// communication with another network entity.
type Message struct {
	Header
	Type MessageType
}

// NewMessage returns a message of the given type addressed by h with the
// provided extensions.
func NewMessage(h Header, typ MessageType, ext ...Extension) Message {
	return Message{Header: h.withExtensions(ext...), Type: typ}
}

// Kind returns MessageKind.
func (Message) Kind() Kind { return MessageKind }

// With returns a copy of the message with ext appended.
func (m Message) With(ext ...Extension) Message {
	m.Header = m.Header.withExtensions(ext...)
	return m
}

func (m Message) withID(id string) Stanza {
	m.ID = id
	return m
}

// Validate checks the message type and the presence of an error payload on
// error messages.
func (m Message) Validate() error {
	switch {
	case !m.Type.valid():
		return &MalformedError{Kind: MessageKind, ID: m.ID, Reason: "unknown type " + string(m.Type)}
	case m.Type == ErrorMessage && m.Err == nil:
		return &MalformedError{Kind: MessageKind, ID: m.ID, Reason: "error message without error payload"}
	}
	return nil
}

// Body returns the text of the first body extension, if any.
func (m Message) Body() string {
	if b, ok := ExtensionOf[Body](m); ok {
		return b.Text
	}
	return ""
}

// StartElement converts the Message into an XML token.
func (m Message) StartElement() xml.StartElement {
	return m.start("message", string(m.Type))
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (m Message) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(m.payload(), m.StartElement())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (m Message) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, m.TokenReader())
}
