// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/attr"
	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stanza"
	"mellium.im/xmppc/stream"
)

// bindPayload is the <bind/> element of a bind request.
type bindPayload struct {
	resource string
}

func (bindPayload) Name() xml.Name {
	return xml.Name{Space: ns.Bind, Local: "bind"}
}

func (b bindPayload) TokenReader() xml.TokenReader {
	var inner xml.TokenReader
	if b.resource != "" {
		inner = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(b.resource)),
			xml.StartElement{Name: xml.Name{Local: "resource"}},
		)
	}
	return xmlstream.Wrap(inner, xml.StartElement{Name: b.Name()})
}

// BindResource is a stream feature that can be used for binding a resource.
// The resourcepart of the configured origin is requested; if it has none the
// server picks one.
// The address assigned by the server becomes the local address of the
// connection.
func BindResource() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Step:       StepBind,
		Necessary:  Authn,
		Prohibited: BoundResource,
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			return true, nil, xmlstream.Skip(r)
		},
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (SessionState, io.ReadWriteCloser, error) {
			req := stanza.NewIQ(
				stanza.Header{ID: attr.RandomID()},
				stanza.SetIQ,
				bindPayload{resource: session.LocalAddr().Resourcepart()},
			)
			if err := marshal.EncodeXML(session, req); err != nil {
				return 0, nil, err
			}

			start, err := session.NextStart()
			if err != nil {
				return 0, nil, err
			}
			if start.Name.Local != "iq" {
				return 0, nil, stream.BadFormat
			}
			resp := struct {
				ID   string `xml:"id,attr"`
				Type string `xml:"type,attr"`
				Bind struct {
					JID string `xml:"jid"`
				} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
				Err *stanza.Error `xml:"error"`
			}{}
			if err = marshal.DecodeElement(session, &start, &resp); err != nil {
				return 0, nil, err
			}

			switch {
			case resp.ID != req.ID:
				return 0, nil, fmt.Errorf("xmppc: bind reply has id %q, want %q", resp.ID, req.ID)
			case stanza.IQType(resp.Type) == stanza.ErrorIQ:
				if resp.Err == nil {
					return 0, nil, stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition}
				}
				return 0, nil, *resp.Err
			case stanza.IQType(resp.Type) != stanza.ResultIQ:
				return 0, nil, stream.BadFormat
			}
			j, err := jid.Parse(resp.Bind.JID)
			if err != nil {
				return 0, nil, err
			}
			session.local = j
			return BoundResource, nil, nil
		},
	}
}
