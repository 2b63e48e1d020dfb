// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"io"
	"strconv"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
)

// Unparsed is an extension element for which no provider was registered, or
// whose provider failed to parse it.
// It keeps a copy of the raw tokens and re-encodes them unchanged.
type Unparsed struct {
	XMLName xml.Name

	// Err is the error returned by the provider, if any.
	Err error

	toks []xml.Token
}

// NewUnparsed returns an Unparsed extension from a list of tokens starting
// with the start element and ending with its end element.
// The tokens are copied.
func NewUnparsed(toks []xml.Token, err error) Unparsed {
	u := Unparsed{Err: err, toks: make([]xml.Token, 0, len(toks))}
	for _, t := range toks {
		u.toks = append(u.toks, xml.CopyToken(t))
	}
	if len(u.toks) > 0 {
		if start, ok := u.toks[0].(xml.StartElement); ok {
			u.XMLName = start.Name
		}
	}
	return u
}

// Name returns the name of the outermost element.
func (u Unparsed) Name() xml.Name {
	return u.XMLName
}

// TokenReader satisfies the xmlstream.Marshaler interface.
// Children in the same namespace as their parent are written without a
// namespace so that they inherit it, which keeps the encoded form close to the
// form that was received.
func (u Unparsed) TokenReader() xml.TokenReader {
	i := 0
	spaces := []string{ns.Client}
	return xmlstream.ReaderFunc(func() (xml.Token, error) {
		if i >= len(u.toks) {
			return nil, io.EOF
		}
		t := u.toks[i]
		i++
		switch tok := t.(type) {
		case xml.StartElement:
			parent := spaces[len(spaces)-1]
			spaces = append(spaces, tok.Name.Space)
			if tok.Name.Space == parent {
				tok = tok.Copy()
				tok.Name.Space = ""
			}
			return tok, nil
		case xml.EndElement:
			if len(spaces) > 1 {
				spaces = spaces[:len(spaces)-1]
			}
			if tok.Name.Space == spaces[len(spaces)-1] {
				tok.Name.Space = ""
			}
			return tok, nil
		}
		return t, nil
	})
}

// Body is the human readable content of a message.
type Body struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Name returns the name of the <body/> element.
func (Body) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "body"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (b Body) TokenReader() xml.TokenReader {
	return textElement("body", b.Lang, b.Text)
}

// Subject is the topic of a message.
type Subject struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Name returns the name of the <subject/> element.
func (Subject) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "subject"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (s Subject) TokenReader() xml.TokenReader {
	return textElement("subject", s.Lang, s.Text)
}

// Thread identifies the conversation a message belongs to.
type Thread struct {
	Parent string `xml:"parent,attr,omitempty"`
	ID     string `xml:",chardata"`
}

// Name returns the name of the <thread/> element.
func (Thread) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "thread"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (t Thread) TokenReader() xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: "thread"}}
	if t.Parent != "" {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "parent"}, Value: t.Parent}}
	}
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(t.ID)), start)
}

// Show is the availability sub-state of a presence, eg. "away" or "dnd".
type Show string

// Valid values of Show.
const (
	ShowAway Show = "away"
	ShowChat Show = "chat"
	ShowDND  Show = "dnd"
	ShowXA   Show = "xa"
)

// Name returns the name of the <show/> element.
func (Show) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "show"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (s Show) TokenReader() xml.TokenReader {
	return textElement("show", "", string(s))
}

// Status is a human readable description of availability.
type Status struct {
	Lang string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Text string `xml:",chardata"`
}

// Name returns the name of the <status/> element.
func (Status) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "status"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (s Status) TokenReader() xml.TokenReader {
	return textElement("status", s.Lang, s.Text)
}

// Priority is the priority level of a resource, from -128 to 127.
type Priority int8

// Name returns the name of the <priority/> element.
func (Priority) Name() xml.Name { return xml.Name{Space: ns.Client, Local: "priority"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (p Priority) TokenReader() xml.TokenReader {
	return textElement("priority", "", strconv.Itoa(int(p)))
}

// Elements in the client namespace are written without a namespace and inherit
// it from the stream.
func textElement(local, lang, text string) xml.TokenReader {
	start := xml.StartElement{Name: xml.Name{Local: local}}
	if lang != "" {
		start.Attr = []xml.Attr{{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: lang}}
	}
	if text == "" {
		return xmlstream.Wrap(nil, start)
	}
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(text)), start)
}
