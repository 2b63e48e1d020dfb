// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains internal stream parsing and handling behavior.
package stream // import "mellium.im/xmppc/internal/stream"

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stream"
)

// XMLHeader is an XML header like the one in encoding/xml but without a
// newline at the end.
const XMLHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// Close is the closing tag of a stream.
const Close = `</stream:stream>`

// Send sends a new XML header followed by a client stream start element on the
// given io.Writer.
// We don't use an xml.Encoder both because Go's standard library xml package
// really doesn't like the namespaced stream:stream attribute and because we can
// guarantee well-formedness of the XML with a print in this case.
func Send(w io.Writer, to, from jid.JID, lang string) (stream.Info, error) {
	info := stream.Info{
		XMLNS:   ns.Client,
		To:      to,
		From:    from,
		Version: stream.DefaultVersion,
		Lang:    lang,
	}

	b := bufio.NewWriter(w)
	_, err := fmt.Fprintf(b, XMLHeader+`<stream:stream to='%s' `, to)
	if err != nil {
		return info, err
	}
	if !from.IsZero() {
		if _, err = fmt.Fprintf(b, `from='%s' `, from); err != nil {
			return info, err
		}
	}
	if _, err = fmt.Fprintf(b, `version='%s' `, info.Version); err != nil {
		return info, err
	}
	if lang != "" {
		if _, err = b.WriteString(`xml:lang='`); err != nil {
			return info, err
		}
		if err = xml.EscapeText(b, []byte(lang)); err != nil {
			return info, err
		}
		if _, err = b.WriteString(`' `); err != nil {
			return info, err
		}
	}
	_, err = fmt.Fprintf(b, `xmlns='%s' xmlns:stream='%s'>`, ns.Client, stream.NS)
	if err != nil {
		return info, err
	}
	return info, b.Flush()
}

// Expect reads a token from r and expects that it will be a new stream start
// token from the receiving entity.
// An XML declaration and any whitespace before the stream header are skipped.
// If the server sends a stream error instead it is decoded and returned.
//
// Expect does not interrupt a blocked read when ctx is canceled; callers that
// need that must close the underlying transport.
func Expect(ctx context.Context, r xml.TokenReader) (info stream.Info, err error) {
	for {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}
		t, err := r.Token()
		if err != nil {
			return info, err
		}
		switch tok := t.(type) {
		case xml.ProcInst:
			if tok.Target != "xml" {
				return info, stream.RestrictedXML
			}
			continue
		case xml.CharData:
			if !isWhitespace(tok) {
				return info, stream.BadFormat
			}
			continue
		case xml.StartElement:
			if tok.Name.Local == "error" && tok.Name.Space == stream.NS {
				se := stream.Error{}
				if err := xml.NewTokenDecoder(r).DecodeElement(&se, &tok); err != nil {
					return info, err
				}
				return info, se
			}
			if err = info.FromStartElement(tok); err != nil {
				return info, err
			}
			switch {
			case info.Version != stream.DefaultVersion:
				return info, stream.UnsupportedVersion
			case info.ID == "":
				// The receiving entity must always send a stream ID.
				return info, stream.BadFormat
			}
			return info, nil
		case xml.EndElement:
			return info, stream.NotWellFormed
		default:
			return info, stream.RestrictedXML
		}
	}
}

func isWhitespace(c xml.CharData) bool {
	for _, b := range c {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
