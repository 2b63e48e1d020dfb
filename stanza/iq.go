// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// IsRequest reports whether t is get or set.
func (t IQType) IsRequest() bool {
	return t == GetIQ || t == SetIQ
}

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	Header
	Type IQType
}

// NewIQ returns an IQ of the given type addressed by h with payload as its only
// child element.
func NewIQ(h Header, typ IQType, payload Extension) IQ {
	return IQ{Header: h.withExtensions(payload), Type: typ}
}

// Kind returns IQKind.
func (IQ) Kind() Kind { return IQKind }

// With returns a copy of the IQ with ext appended.
func (iq IQ) With(ext ...Extension) IQ {
	iq.Header = iq.Header.withExtensions(ext...)
	return iq
}

func (iq IQ) withID(id string) Stanza {
	iq.ID = id
	return iq
}

// Payload returns the first child element of the IQ, if any.
func (iq IQ) Payload() (Extension, bool) {
	if len(iq.ext) == 0 {
		return nil, false
	}
	return iq.ext[0], true
}

// Validate checks that the IQ has an id, a known type, exactly one payload if
// it is a request, and an error payload if it is an error.
func (iq IQ) Validate() error {
	var reason string
	switch {
	case iq.Type == "":
		reason = "missing type"
	case iq.Type != GetIQ && iq.Type != SetIQ && iq.Type != ResultIQ && iq.Type != ErrorIQ:
		reason = "unknown type " + string(iq.Type)
	case iq.ID == "":
		reason = "missing id"
	case iq.Type.IsRequest() && len(iq.ext) != 1:
		reason = "request must contain exactly one payload"
	case iq.Type == ErrorIQ && iq.Err == nil:
		reason = "error iq without error payload"
	default:
		return nil
	}
	return &MalformedError{Kind: IQKind, ID: iq.ID, Reason: reason}
}

// Result returns a result reply to iq with the addresses swapped and the ID
// retained.
func (iq IQ) Result(payload ...Extension) IQ {
	return IQ{
		Header: Header{
			ID:   iq.ID,
			To:   iq.From,
			From: iq.To,
			Lang: iq.Lang,
		}.withExtensions(payload...),
		Type: ResultIQ,
	}
}

// ErrorReply returns an error reply to iq with the addresses swapped and the ID
// retained.
func (iq IQ) ErrorReply(e Error) IQ {
	reply := iq.Result()
	reply.Type = ErrorIQ
	reply.Err = &e
	return reply
}

// StartElement converts the IQ into an XML token.
func (iq IQ) StartElement() xml.StartElement {
	return iq.start("iq", string(iq.Type))
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (iq IQ) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(iq.payload(), iq.StartElement())
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (iq IQ) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, iq.TokenReader())
}
