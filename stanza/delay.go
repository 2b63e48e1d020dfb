// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"time"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
)

// Delay can be added to a stanza to indicate that stanza delivery was delayed
// (XEP-0203).
// For example, messages stored while a client was offline carry a delay.
type Delay struct {
	From   jid.JID
	Stamp  time.Time
	Reason string
}

// Name returns the name of the <delay/> element.
func (Delay) Name() xml.Name { return xml.Name{Space: ns.Delay, Local: "delay"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (d Delay) TokenReader() xml.TokenReader {
	start := xml.StartElement{
		Name: d.Name(),
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "stamp"}, Value: d.Stamp.UTC().Format(time.RFC3339Nano)},
		},
	}
	if !d.From.IsZero() {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "from"}, Value: d.From.String()})
	}
	if d.Reason == "" {
		return xmlstream.Wrap(nil, start)
	}
	return xmlstream.Wrap(xmlstream.Token(xml.CharData(d.Reason)), start)
}

// UnmarshalXML implements xml.Unmarshaler.
func (d *Delay) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	var err error
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "from":
			if d.From, err = jid.Parse(attr.Value); err != nil {
				return err
			}
		case "stamp":
			if d.Stamp, err = time.Parse(time.RFC3339Nano, attr.Value); err != nil {
				return err
			}
		}
	}
	var reason struct {
		Text string `xml:",chardata"`
	}
	if err = dec.DecodeElement(&reason, &start); err != nil {
		return err
	}
	d.Reason = reason.Text
	return nil
}
