// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
)

// Info contains metadata extracted from a stream start token.
type Info struct {
	XMLNS   string
	To      jid.JID
	From    jid.JID
	ID      string
	Version Version
	Lang    string
}

// FromStartElement sets the data in Info from the provided StartElement.
// Only errors of type Error are returned.
func (i *Info) FromStartElement(s xml.StartElement) error {
	switch {
	case s.Name.Local != "stream":
		return BadFormat
	case s.Name.Space != NS:
		return InvalidNamespace
	}
	for _, attr := range s.Attr {
		switch attr.Name {
		case xml.Name{Local: "to"}:
			if err := (&i.To).UnmarshalXMLAttr(attr); err != nil {
				return ImproperAddressing
			}
		case xml.Name{Local: "from"}:
			if err := (&i.From).UnmarshalXMLAttr(attr); err != nil {
				return ImproperAddressing
			}
		case xml.Name{Local: "id"}:
			i.ID = attr.Value
		case xml.Name{Local: "version"}:
			if err := (&i.Version).UnmarshalXMLAttr(attr); err != nil {
				return BadFormat
			}
		case xml.Name{Local: "xmlns"}:
			if attr.Value != ns.Client {
				return InvalidNamespace
			}
			i.XMLNS = attr.Value
		case xml.Name{Space: "xmlns", Local: "stream"}:
			if attr.Value != NS {
				return InvalidNamespace
			}
		case xml.Name{Space: ns.XML, Local: "lang"}, xml.Name{Space: "xml", Local: "lang"}:
			i.Lang = attr.Value
		}
	}
	return nil
}
