// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ping implements XEP-0199: XMPP Ping.
package ping // import "mellium.im/xmppc/ping"

import (
	"context"
	"encoding/xml"
	"errors"
	"time"

	"mellium.im/xmlstream"

	"mellium.im/xmppc"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/provider"
	"mellium.im/xmppc/stanza"
)

// NS is the XML namespace used by XMPP pings. It is provided as a convenience.
const NS = `urn:xmpp:ping`

// Ping is the payload of a ping request.
type Ping struct {
	XMLName xml.Name `xml:"urn:xmpp:ping ping"`
}

// Name returns the name of the <ping/> element.
func (Ping) Name() xml.Name { return xml.Name{Space: NS, Local: "ping"} }

// TokenReader satisfies the xmlstream.Marshaler interface.
func (p Ping) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{Name: p.Name()})
}

// Register adds a provider for ping payloads to r.
func Register(r *provider.Registry) {
	r.Register(Ping{}.Name(), provider.Element[Ping]())
}

// IQ returns a ping request addressed to the given entity.
func IQ(to jid.JID) stanza.IQ {
	return stanza.NewIQ(stanza.Header{To: to}, stanza.GetIQ, Ping{})
}

// Send pings to and returns the time it took to receive the reply.
//
// An entity that does not support pings may reply with a service-unavailable
// or feature-not-implemented error; it was still reached, so these are not
// reported as errors.
func Send(ctx context.Context, c *xmppc.Conn, to jid.JID) (time.Duration, error) {
	start := time.Now()
	_, err := c.SendIQ(ctx, IQ(to))
	rtt := time.Since(start)
	var se stanza.Error
	if errors.As(err, &se) {
		switch se.Condition {
		case stanza.ServiceUnavailable, stanza.FeatureNotImplemented:
			return rtt, nil
		}
	}
	return rtt, err
}

// Handler answers ping requests with an empty result.
// Other requests are not handled.
var Handler xmppc.IQHandler = xmppc.IQHandlerFunc(func(_ context.Context, iq stanza.IQ) (stanza.IQ, error) {
	payload, ok := iq.Payload()
	if !ok || iq.Type != stanza.GetIQ || payload.Name() != (Ping{}).Name() {
		return stanza.IQ{}, xmppc.ErrIQNotHandled
	}
	return iq.Result(), nil
})
