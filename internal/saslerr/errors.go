// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslerr provides error conditions for the XMPP profile of SASL as
// defined by RFC 6120 §6.5.
package saslerr // import "mellium.im/xmppc/internal/saslerr"

import (
	"encoding/xml"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
)

// Condition represents a SASL error condition that can be encapsulated by a
// <failure/> element.
type Condition string

// String returns the element name of the condition.
func (c Condition) String() string {
	return string(c)
}

// Standard SASL error conditions.
const (
	Aborted              Condition = "aborted"
	AccountDisabled      Condition = "account-disabled"
	CredentialsExpired   Condition = "credentials-expired"
	EncryptionRequired   Condition = "encryption-required"
	IncorrectEncoding    Condition = "incorrect-encoding"
	InvalidAuthzID       Condition = "invalid-authzid"
	InvalidMechanism     Condition = "invalid-mechanism"
	MalformedRequest     Condition = "malformed-request"
	MechanismTooWeak     Condition = "mechanism-too-weak"
	NotAuthorized        Condition = "not-authorized"
	TemporaryAuthFailure Condition = "temporary-auth-failure"
)

// Failure represents a SASL error that is marshalable to XML.
// Conditions that are not defined in RFC 6120 are kept as is.
type Failure struct {
	Condition Condition
	Lang      language.Tag
	Text      string
}

// Error satisfies the error interface for a Failure. It returns the text string
// if set, or the condition otherwise.
func (f Failure) Error() string {
	if f.Text != "" {
		return f.Text
	}
	return string(f.Condition)
}

// Is reports whether target is a Failure with the same condition.
func (f Failure) Is(target error) bool {
	t, ok := target.(Failure)
	return ok && t.Condition == f.Condition
}

// TokenReader satisfies the xmlstream.Marshaler interface.
func (f Failure) TokenReader() xml.TokenReader {
	inner := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: string(f.Condition)}})
	if f.Text != "" {
		inner = xmlstream.MultiReader(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(f.Text)),
			xml.StartElement{
				Name: xml.Name{Local: "text"},
				Attr: []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: f.Lang.String()}},
			},
		))
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "failure"}})
}

// WriteXML satisfies the xmlstream.WriterTo interface.
// It is like MarshalXML except it writes tokens to w.
func (f Failure) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, f.TokenReader())
}

// MarshalXML satisfies the xml.Marshaler interface for a Failure.
func (f Failure) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	if _, err := f.WriteXML(e); err != nil {
		return err
	}
	return e.Flush()
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for a Failure.
// If multiple text elements are present the one whose xml:lang most closely
// matches the language already set on f is selected.
func (f *Failure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Text []struct {
			Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr"`
			Data string `xml:",chardata"`
		} `xml:"text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	f.Condition = Condition(decoded.Condition.XMLName.Local)

	if len(decoded.Text) == 0 {
		return nil
	}
	tags := make([]language.Tag, 0, len(decoded.Text))
	data := make(map[language.Tag]string, len(decoded.Text))
	for _, text := range decoded.Text {
		tag, err := language.Parse(text.Lang)
		if err != nil {
			tag = language.Und
		}
		if _, ok := data[tag]; ok {
			continue
		}
		tags = append(tags, tag)
		data[tag] = text.Data
	}
	_, idx, _ := language.NewMatcher(tags).Match(f.Lang)
	f.Lang = tags[idx]
	f.Text = data[f.Lang]
	return nil
}
