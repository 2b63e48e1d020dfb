// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"fmt"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
)

// ErrorType is the type of an stanza error payloads.
// It should normally be one of the constants defined in this package.
type ErrorType string

const (
	// Cancel indicates that the error cannot be remedied and the operation should
	// not be retried.
	Cancel ErrorType = "cancel"

	// Auth indicates that an operation should be retried after providing
	// credentials.
	Auth ErrorType = "auth"

	// Continue indicates that the operation can proceed (the condition was only a
	// warning).
	Continue ErrorType = "continue"

	// Modify indicates that the operation can be retried after changing the data
	// sent.
	Modify ErrorType = "modify"

	// Wait is indicates that an error is temporary and may be retried.
	Wait ErrorType = "wait"
)

// Condition represents a more specific stanza error condition that can be
// encapsulated by an <error/> element.
type Condition string

// A list of stanza error conditions defined in RFC 6120 §8.3.3
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

// Error is a stanza level error reported by a remote entity, or sent in reply
// to a request that could not be processed.
type Error struct {
	By        jid.JID
	Type      ErrorType
	Condition Condition
	Text      string
	Lang      string
}

// Error satisfies the error interface by returning the condition and text.
func (se Error) Error() string {
	if se.Text == "" {
		return string(se.Condition)
	}
	return fmt.Sprintf("%s: %s", se.Condition, se.Text)
}

// Is allows errors.Is to match stanza errors by condition.
// A target with an empty condition matches any stanza error.
func (se Error) Is(target error) bool {
	switch t := target.(type) {
	case Error:
		return t.Condition == "" || t.Condition == se.Condition
	case *Error:
		return t != nil && (t.Condition == "" || t.Condition == se.Condition)
	}
	return false
}

// Name returns the name of the <error/> element.
func (Error) Name() xml.Name {
	return xml.Name{Local: "error"}
}

// TokenReader satisfies the xmlstream.Marshaler interface for Error.
func (se Error) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "error"}}
	if se.Type != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(se.Type)})
	}
	if !se.By.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "by"}, Value: se.By.String()})
	}

	cond := se.Condition
	if cond == "" {
		cond = UndefinedCondition
	}
	inner := xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Space: ns.Stanza, Local: string(cond)},
	})
	if se.Text != "" {
		var attrs []xml.Attr
		if se.Lang != "" {
			attrs = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: se.Lang}}
		}
		inner = xmlstream.MultiReader(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(se.Text)),
			xml.StartElement{Name: xml.Name{Space: ns.Stanza, Local: "text"}, Attr: attrs},
		))
	}
	return xmlstream.Wrap(inner, start)
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (se Error) WriteXML(w xmlstream.TokenWriter) (n int, err error) {
	return xmlstream.Copy(w, se.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for Error.
func (se Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := se.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition []struct {
			XMLName xml.Name
		} `xml:",any"`
		Type ErrorType `xml:"type,attr"`
		By   jid.JID   `xml:"by,attr"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	se.Type = decoded.Type
	se.By = decoded.By
	for _, c := range decoded.Condition {
		if c.XMLName.Space == ns.Stanza && c.XMLName.Local != "text" {
			se.Condition = Condition(c.XMLName.Local)
			break
		}
	}
	for _, text := range decoded.Text {
		if text.Data == "" {
			continue
		}
		se.Text, se.Lang = text.Data, text.Lang
		break
	}
	return nil
}

// MalformedError is returned when a stanza does not conform to the stanza
// grammar and cannot be sent.
type MalformedError struct {
	Kind   Kind
	ID     string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("stanza: malformed %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("stanza: malformed %s %q: %s", e.Kind, e.ID, e.Reason)
}
