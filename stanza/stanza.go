// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanza contains the three top level XMPP stanzas (message, presence,
// and iq) and the extension elements they carry.
//
// Stanzas are values: once built they are not modified.
// Methods that add extensions or change the ID return a copy.
package stanza // import "mellium.im/xmppc/stanza"

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
)

// Kind identifies which of the three stanza types a Stanza is.
type Kind uint8

// A list of stanza kinds.
const (
	MessageKind Kind = iota
	PresenceKind
	IQKind
)

// String returns the local name of the stanza kind.
func (k Kind) String() string {
	switch k {
	case MessageKind:
		return "message"
	case PresenceKind:
		return "presence"
	case IQKind:
		return "iq"
	}
	return "unknown"
}

// Is tests whether name is a valid client stanza based on name and space.
// Elements without a namespace are assumed to inherit the client namespace of
// the stream.
func Is(name xml.Name) bool {
	return (name.Local == "iq" || name.Local == "message" || name.Local == "presence") &&
		(name.Space == ns.Client || name.Space == "")
}

// Stanza is implemented by Message, Presence, and IQ.
// The set of stanzas is closed; other packages extend stanzas by adding
// extension elements.
type Stanza interface {
	xmlstream.Marshaler
	xmlstream.WriterTo

	// Kind returns the type of stanza.
	Kind() Kind

	// StanzaHeader returns the attributes and payload common to all stanzas.
	StanzaHeader() Header

	// Validate reports a *MalformedError if the stanza violates the stanza
	// grammar.
	Validate() error

	withID(id string) Stanza
}

// WithID returns a copy of s with its ID set to id.
func WithID(s Stanza, id string) Stanza {
	return s.withID(id)
}

// Extension is an element carried inside a stanza, eg. a message body or a
// ping payload.
type Extension interface {
	xmlstream.Marshaler

	// Name returns the qualified name of the outermost element.
	Name() xml.Name
}

// Header contains the parts of a stanza common to messages, presences, and
// IQs.
type Header struct {
	ID   string
	To   jid.JID
	From jid.JID
	Lang string

	// Err is set on stanzas of type error.
	Err *Error

	ext []Extension
}

// StanzaHeader returns the header.
// It lets stanza types that embed a Header satisfy the Stanza interface.
func (h Header) StanzaHeader() Header {
	return h
}

// Extensions returns the extensions in the order they were added or decoded.
// The returned slice is a copy.
func (h Header) Extensions() []Extension {
	if len(h.ext) == 0 {
		return nil
	}
	out := make([]Extension, len(h.ext))
	copy(out, h.ext)
	return out
}

// Extension returns the first extension with the given name.
func (h Header) Extension(name xml.Name) (Extension, bool) {
	for _, e := range h.ext {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// ExtensionsByName returns every extension with the given name in insertion
// order.
func (h Header) ExtensionsByName(name xml.Name) []Extension {
	var out []Extension
	for _, e := range h.ext {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

// withExtensions returns a copy of the header with ext appended.
// A new backing array is always allocated so that copies never share
// extension storage.
func (h Header) withExtensions(ext ...Extension) Header {
	n := make([]Extension, 0, len(h.ext)+len(ext))
	n = append(n, h.ext...)
	for _, e := range ext {
		if e != nil {
			n = append(n, e)
		}
	}
	h.ext = n
	return h
}

// ExtensionOf returns the first extension of s that has the concrete type T.
func ExtensionOf[T Extension](s Stanza) (T, bool) {
	for _, e := range s.StanzaHeader().ext {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func (h Header) start(local, typ string) xml.StartElement {
	attr := make([]xml.Attr, 0, 5)
	if h.ID != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "id"}, Value: h.ID})
	}
	if !h.To.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "to"}, Value: h.To.String()})
	}
	if !h.From.IsZero() {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: h.From.String()})
	}
	if h.Lang != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: h.Lang})
	}
	if typ != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: typ})
	}
	return xml.StartElement{
		Name: xml.Name{Local: local},
		Attr: attr,
	}
}

// payload returns the extensions in order followed by the error, if any.
func (h Header) payload() xml.TokenReader {
	readers := make([]xml.TokenReader, 0, len(h.ext)+1)
	for _, e := range h.ext {
		readers = append(readers, e.TokenReader())
	}
	if h.Err != nil {
		readers = append(readers, h.Err.TokenReader())
	}
	return xmlstream.MultiReader(readers...)
}

// ParseHeader sets the header attributes from a stanza start element.
// It returns the value of the type attribute.
// Extensions are not touched.
func (h *Header) ParseHeader(start xml.StartElement) (typ string, err error) {
	for _, a := range start.Attr {
		switch a.Name {
		case xml.Name{Local: "id"}:
			h.ID = a.Value
		case xml.Name{Local: "to"}:
			if err = (&h.To).UnmarshalXMLAttr(a); err != nil {
				return typ, err
			}
		case xml.Name{Local: "from"}:
			if err = (&h.From).UnmarshalXMLAttr(a); err != nil {
				return typ, err
			}
		case xml.Name{Space: ns.XML, Local: "lang"}, xml.Name{Space: "xml", Local: "lang"}:
			h.Lang = a.Value
		case xml.Name{Local: "type"}:
			typ = a.Value
		}
	}
	return typ, nil
}
