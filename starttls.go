// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"io"
	"net"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/stream"
)

// Errors returned while negotiating StartTLS.
var (
	ErrTLSRefused     = errors.New("xmppc: server refused to start tls")
	errNotUpgradeable = errors.New("xmppc: transport is not a net.Conn and cannot be upgraded to tls")
)

// StartTLS returns a new stream feature that can be used for negotiating TLS.
// If cfg is nil or has no ServerName, the domain of the server is used as the
// server name.
func StartTLS(cfg *tls.Config) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Local: "starttls", Space: ns.StartTLS},
		Step:       StepTLS,
		Prohibited: Secure,
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
				Required *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-tls required"`
			}{}
			err := xml.NewTokenDecoder(r).DecodeElement(&parsed, start)
			return parsed.Required != nil, nil, err
		},
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (SessionState, io.ReadWriteCloser, error) {
			conn, ok := session.Conn().(net.Conn)
			if !ok {
				return 0, nil, errNotUpgradeable
			}

			start := xml.StartElement{Name: xml.Name{Space: ns.StartTLS, Local: "starttls"}}
			if _, err := xmlstream.Copy(session, xmlstream.Wrap(nil, start)); err != nil {
				return 0, nil, err
			}
			if err := session.Flush(); err != nil {
				return 0, nil, err
			}

			// Receive a <proceed/> or <failure/> response from the server.
			tok, err := session.NextStart()
			if err != nil {
				return 0, nil, err
			}
			if tok.Name.Space != ns.StartTLS {
				return 0, nil, stream.UnsupportedStanzaType
			}
			if err = xmlstream.Skip(session); err != nil {
				return 0, nil, err
			}
			switch tok.Name.Local {
			case "proceed":
			case "failure":
				// The server closes the stream after a failure.
				return 0, nil, ErrTLSRefused
			default:
				return 0, nil, stream.UnsupportedStanzaType
			}

			tlsCfg := cfg
			if tlsCfg == nil {
				tlsCfg = &tls.Config{}
			}
			if tlsCfg.ServerName == "" {
				tlsCfg = tlsCfg.Clone()
				tlsCfg.ServerName = session.RemoteAddr().Domainpart()
			}
			tlsConn := tls.Client(conn, tlsCfg)
			if err = tlsConn.HandshakeContext(ctx); err != nil {
				return 0, nil, err
			}
			return Secure | StreamRestartRequired, tlsConn, nil
		},
	}
}
