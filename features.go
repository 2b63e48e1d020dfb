// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/xml"
	"io"

	"mellium.im/xmppc/stream"
)

// A StreamFeature represents a feature that may be selected during stream
// negotiation. Features should be stateless and usable from multiple goroutines
// unless otherwise specified.
type StreamFeature struct {
	// The XML name of the feature in the <stream:features/> list. If a start
	// element with this name is seen while the connection is reading the features
	// list, it will trigger this StreamFeature's Parse function as a callback.
	// Features that share a name share the result of the first one's Parse.
	Name xml.Name

	// Step names the feature in logs and in a NegotiationError.
	Step string

	// Bits that are required before this feature is negotiated. For instance,
	// if this feature should only be negotiated after the session is
	// authenticated we might set this to "Authn".
	Necessary SessionState

	// Bits that must be off for this feature to be negotiated. For instance, if
	// this feature performs authentication itself we might set this to "Authn".
	Prohibited SessionState

	// Used to parse the feature that begins with the given xml start element
	// (which should have a Name that matches this stream feature's Name).
	// Returns whether or not the feature is required, and any data that will be
	// needed if the feature is selected for negotiation (eg. the list of
	// mechanisms if the feature was SASL).
	// If nil, the element is skipped and the feature is treated as optional.
	Parse func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (req bool, data interface{}, err error)

	// A function that will take over the session temporarily while negotiating
	// the feature. The "mask" SessionState represents the state bits that should
	// be flipped after negotiation of the feature is complete. For instance, if
	// this feature creates a security layer (such as TLS) mask would be
	// Secure|StreamRestartRequired.
	// If the feature replaces the transport the new one is returned as rw, and
	// it is used for the rest of the session.
	// Returning a zero mask and a nil error skips the feature.
	Negotiate func(ctx context.Context, session *Session, data interface{}) (mask SessionState, rw io.ReadWriteCloser, err error)
}

func (f StreamFeature) eligible(state SessionState) bool {
	return state&f.Necessary == f.Necessary && state&f.Prohibited == 0
}

type parsedFeature struct {
	req  bool
	data interface{}
}

// featureList is a <stream:features/> element read from the server.
type featureList struct {
	parsed map[xml.Name]parsedFeature

	// unhandledReq is set when the server marked a feature as required that
	// none of the configured features handle.
	unhandledReq bool
}

func readFeatures(ctx context.Context, r xml.TokenReader, features []StreamFeature) (*featureList, error) {
	start, err := nextStart(r)
	if err != nil {
		return nil, err
	}
	if start.Name != (xml.Name{Space: stream.NS, Local: "features"}) {
		return nil, stream.InvalidXML
	}

	list := &featureList{parsed: make(map[xml.Name]parsedFeature)}
	for {
		tok, err := r.Token()
		if err != nil {
			return nil, err
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			f, ok := findFeature(features, tok.Name)
			switch {
			case !ok:
				req, err := skipFeature(r)
				if err != nil {
					return nil, err
				}
				if req {
					list.unhandledReq = true
				}
			case f.Parse == nil:
				if _, err := skipFeature(r); err != nil {
					return nil, err
				}
				list.parsed[tok.Name] = parsedFeature{}
			default:
				req, data, err := f.Parse(ctx, r, &tok)
				if err != nil {
					return nil, err
				}
				list.parsed[tok.Name] = parsedFeature{req: req, data: data}
			}
		case xml.EndElement:
			return list, nil
		case xml.CharData:
			if !isWhitespace(tok) {
				return nil, stream.BadFormat
			}
		default:
			return nil, stream.RestrictedXML
		}
	}
}

func findFeature(features []StreamFeature, name xml.Name) (StreamFeature, bool) {
	for _, f := range features {
		if f.Name == name {
			return f, true
		}
	}
	return StreamFeature{}, false
}

// skipFeature consumes an unknown feature and reports whether it contained a
// <required/> child.
func skipFeature(r xml.TokenReader) (req bool, err error) {
	depth := 1
	for depth > 0 {
		tok, err := r.Token()
		if err != nil {
			return req, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 && t.Name.Local == "required" {
				req = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return req, nil
}
