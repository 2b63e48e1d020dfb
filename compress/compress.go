// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package compress implements XEP-0138: Stream Compression.
//
// Be advised: stream compression has many of the same security considerations
// as TLS compression (see RFC3749 §6) and may be difficult to implement safely
// without special expertise.
package compress // import "mellium.im/xmppc/compress"

import (
	"context"
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"

	"mellium.im/xmppc"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/stream"
)

// Namespaces used by stream compression.
const (
	NSFeatures = ns.CompressFeature
	NSProtocol = ns.CompressProtocol
)

// New returns a new xmppc.StreamFeature that can be used to negotiate stream
// compression after authentication.
// The returned stream feature always supports ZLIB compression; other
// compression methods are optional and are preferred in the order given.
//
// Compression is never required: if the server supports none of the methods
// or refuses to compress the stream, the feature is skipped.
func New(methods ...Method) xmppc.StreamFeature {
	methods = append(methods, ZLIB)
	return xmppc.StreamFeature{
		Name:       xml.Name{Space: NSFeatures, Local: "compression"},
		Step:       xmppc.StepCompress,
		Necessary:  xmppc.Authn,
		Prohibited: xmppc.Compressed | xmppc.BoundResource,
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			listed := struct {
				XMLName xml.Name `xml:"http://jabber.org/features/compress compression"`
				Methods []string `xml:"http://jabber.org/features/compress method"`
			}{}
			err := xml.NewTokenDecoder(r).DecodeElement(&listed, start)
			return false, listed.Methods, err
		},
		Negotiate: func(ctx context.Context, session *xmppc.Session, data interface{}) (xmppc.SessionState, io.ReadWriteCloser, error) {
			remote, _ := data.([]string)
			method, ok := selectMethod(methods, remote)
			logger := session.Logger()
			if !ok {
				logger.WithField("methods", remote).Debug("compress: no supported compression method")
				return 0, nil, nil
			}

			req := xmlstream.Wrap(
				xmlstream.Wrap(
					xmlstream.Token(xml.CharData(method.Name)),
					xml.StartElement{Name: xml.Name{Local: "method"}},
				),
				xml.StartElement{Name: xml.Name{Space: NSProtocol, Local: "compress"}},
			)
			if _, err := xmlstream.Copy(session, req); err != nil {
				return 0, nil, err
			}
			if err := session.Flush(); err != nil {
				return 0, nil, err
			}

			start, err := session.NextStart()
			if err != nil {
				return 0, nil, err
			}
			if err = xmlstream.Skip(session); err != nil {
				return 0, nil, err
			}
			switch start.Name {
			case xml.Name{Space: NSProtocol, Local: "compressed"}:
			case xml.Name{Space: NSProtocol, Local: "failure"}:
				logger.WithField("method", method.Name).Warn("compress: server refused to compress the stream")
				return 0, nil, nil
			default:
				return 0, nil, stream.UnsupportedStanzaType
			}

			rwc, err := method.Wrapper(session.Conn())
			if err != nil {
				return 0, nil, err
			}
			logger.WithField("method", method.Name).Debug("compress: stream compressed")
			return xmppc.Compressed | xmppc.StreamRestartRequired, rwc, nil
		},
	}
}

// selectMethod returns the first of methods that the server supports.
func selectMethod(methods []Method, remote []string) (Method, bool) {
	for _, m := range methods {
		for _, name := range remote {
			if name == m.Name {
				return m, true
			}
		}
	}
	return Method{}, false
}
