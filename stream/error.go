// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
)

// A list of stream errors defined in RFC 6120 §4.9.3
var (
	// BadFormat is used when the entity has sent XML that cannot be processed.
	BadFormat = Error{Err: "bad-format"}

	// BadNamespacePrefix is sent when an entity has sent a namespace prefix that
	// is unsupported, or has sent no namespace prefix on an element that needs
	// such a prefix.
	BadNamespacePrefix = Error{Err: "bad-namespace-prefix"}

	// Conflict is sent when the server is closing the existing stream for this
	// entity because a new stream has been initiated that conflicts with the
	// existing stream.
	Conflict = Error{Err: "conflict"}

	// ConnectionTimeout results when one party is closing the stream because it
	// has reason to believe that the other party has permanently lost the ability
	// to communicate over the stream.
	ConnectionTimeout = Error{Err: "connection-timeout"}

	// HostGone is sent when the value of the 'to' attribute provided in the
	// initial stream header corresponds to an FQDN that is no longer serviced by
	// the receiving entity.
	HostGone = Error{Err: "host-gone"}

	// HostUnknown is sent when the value of the 'to' attribute provided in the
	// initial stream header does not correspond to an FQDN that is serviced by
	// the receiving entity.
	HostUnknown = Error{Err: "host-unknown"}

	// ImproperAddressing is used when a stanza lacks a required 'to' or 'from'
	// attribute or the attribute violates the rules for XMPP addresses.
	ImproperAddressing = Error{Err: "improper-addressing"}

	// InternalServerError is sent when the server has experienced a
	// misconfiguration or other internal error that prevents it from servicing
	// the stream.
	InternalServerError = Error{Err: "internal-server-error"}

	// InvalidFrom is sent when data provided in a 'from' attribute does not match
	// an authorized JID or validated domain.
	InvalidFrom = Error{Err: "invalid-from"}

	// InvalidNamespace may be sent when the stream namespace name is something
	// other than "http://etherx.jabber.org/streams" or the content namespace is
	// not supported.
	InvalidNamespace = Error{Err: "invalid-namespace"}

	// InvalidXML may be sent when the entity has sent invalid XML over the stream
	// to a server that performs validation.
	InvalidXML = Error{Err: "invalid-xml"}

	// NotAuthorized may be sent when the entity has attempted to send XML stanzas
	// or other outbound data before the stream has been authenticated.
	NotAuthorized = Error{Err: "not-authorized"}

	// NotWellFormed may be sent when the initiating entity has sent XML that
	// violates the well-formedness rules of XML or XML namespaces.
	NotWellFormed = Error{Err: "not-well-formed"}

	// PolicyViolation may be sent when an entity has violated some local service
	// policy (e.g., a stanza exceeds a configured size limit).
	PolicyViolation = Error{Err: "policy-violation"}

	// RemoteConnectionFailed may be sent when the server is unable to properly
	// connect to a remote entity that is needed for authentication or
	// authorization.
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}

	// Reset is sent when the server is closing the stream because it has new
	// (typically security-critical) features to offer.
	Reset = Error{Err: "reset"}

	// ResourceConstraint may be sent when the server lacks the system resources
	// necessary to service the stream.
	ResourceConstraint = Error{Err: "resource-constraint"}

	// RestrictedXML may be sent when the entity has attempted to send restricted
	// XML features such as a comment, processing instruction, DTD subset, or XML
	// entity reference.
	RestrictedXML = Error{Err: "restricted-xml"}

	// SeeOtherHost is sent when the server will not provide service to the
	// initiating entity but is redirecting traffic to another host.
	// The new host is carried in the error text.
	SeeOtherHost = Error{Err: "see-other-host"}

	// SystemShutdown may be sent when server is being shut down and all active
	// streams are being closed.
	SystemShutdown = Error{Err: "system-shutdown"}

	// UndefinedCondition may be sent when the error condition is not one of those
	// defined by the other conditions in this list.
	UndefinedCondition = Error{Err: "undefined-condition"}

	// UnsupportedEncoding may be sent when initiating entity has encoded the
	// stream in an encoding that is not UTF-8.
	UnsupportedEncoding = Error{Err: "unsupported-encoding"}

	// UnsupportedFeature may be sent when receiving entity has advertised a
	// mandatory-to-negotiate stream feature that the initiating entity does not
	// support.
	UnsupportedFeature = Error{Err: "unsupported-feature"}

	// UnsupportedStanzaType may be sent when the initiating entity has sent a
	// first-level child of the stream that is not supported by the server.
	UnsupportedStanzaType = Error{Err: "unsupported-stanza-type"}

	// UnsupportedVersion may be sent when the 'version' attribute provided by the
	// initiating entity in the stream header specifies a version of XMPP that is
	// not supported by the server.
	UnsupportedVersion = Error{Err: "unsupported-version"}
)

// A Error represents an unrecoverable stream-level error.
// Stream errors are fatal: the stream is closed after one is sent or received.
type Error struct {
	// Err is the defined condition, eg. "host-unknown".
	Err string

	// Text is optional human readable text, or for see-other-host the address of
	// the new host.
	Text string
	Lang string
}

// Error satisfies the builtin error interface and returns the name of the
// condition, followed by the text if any.
func (s Error) Error() string {
	if s.Text == "" {
		return s.Err
	}
	return s.Err + ": " + s.Text
}

// Is allows errors.Is to match stream errors by condition regardless of text.
func (s Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Err == s.Err
}

// UnmarshalXML satisfies the xml package's Unmarshaler interface and allows
// stream errors to be correctly unmarshaled from XML.
func (s *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != ns.Streams {
				if err = d.Skip(); err != nil {
					return err
				}
				continue
			}
			if t.Name.Local != "text" {
				s.Err = t.Name.Local
				var data struct {
					Host string `xml:",chardata"`
				}
				if err = d.DecodeElement(&data, &t); err != nil {
					return err
				}
				if s.Text == "" {
					s.Text = data.Host
				}
				continue
			}
			var text struct {
				Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
				Data string `xml:",chardata"`
			}
			if err = d.DecodeElement(&text, &t); err != nil {
				return err
			}
			s.Text, s.Lang = text.Data, text.Lang
		case xml.EndElement:
			return nil
		}
	}
}

// MarshalXML satisfies the xml package's Marshaler interface and allows
// stream errors to be correctly marshaled back into XML.
func (s Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := s.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (s Error) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, s.TokenReader())
}

// TokenReader returns a new xml.TokenReader that returns an encoding of
// the error.
func (s Error) TokenReader() xml.TokenReader {
	var cond xml.TokenReader
	if s.Err == SeeOtherHost.Err && s.Text != "" {
		cond = xmlstream.Wrap(
			chardata(s.Text),
			xml.StartElement{Name: xml.Name{Local: s.Err, Space: ns.Streams}},
		)
		return xmlstream.Wrap(cond, xml.StartElement{Name: xml.Name{Local: "error", Space: NS}})
	}
	cond = xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: s.Err, Space: ns.Streams}})
	if s.Text != "" {
		start := xml.StartElement{Name: xml.Name{Local: "text", Space: ns.Streams}}
		if s.Lang != "" {
			start.Attr = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: s.Lang}}
		}
		cond = xmlstream.MultiReader(cond, xmlstream.Wrap(chardata(s.Text), start))
	}
	return xmlstream.Wrap(cond, xml.StartElement{Name: xml.Name{Local: "error", Space: NS}})
}

func chardata(s string) xml.TokenReader {
	return xmlstream.ReaderFunc(func() (xml.Token, error) {
		return xml.CharData(s), io.EOF
	})
}
