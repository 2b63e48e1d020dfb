// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/stream"
)

// Errors related to stream handling
var (
	ErrUnknownStreamElement = errors.New("xmppc: unknown stream level element")
	ErrUnexpectedRestart    = errors.New("xmppc: unexpected stream restart")
)

type reader struct {
	r xml.TokenReader
}

func (r reader) Token() (xml.Token, error) {
	tok, err := r.r.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case xml.StartElement:
		if t.Name.Space != stream.NS {
			return tok, nil
		}

		switch t.Name.Local {
		case "error":
			e := stream.Error{}
			if err = marshal.DecodeElement(r.r, &t, &e); err != nil {
				return nil, err
			}
			return nil, e
		case "stream":
			return nil, ErrUnexpectedRestart
		default:
			return nil, ErrUnknownStreamElement
		}
	case xml.EndElement:
		if t.Name.Space != stream.NS {
			return tok, nil
		}
		if t.Name.Local == "stream" {
			return nil, io.EOF
		}
		return nil, stream.BadFormat
	case xml.CharData:
		if !isWhitespace(t) {
			return nil, stream.BadFormat
		}
		return tok, nil
	}
	return nil, fmt.Errorf("xmppc: invalid token type: %T", tok)
}

// Reader returns a token reader that handles stream level tokens on an already
// established stream.
// Top level character data must be whitespace (used as a keepalive).
// A closing stream tag is reported as io.EOF and a stream error is decoded and
// returned as the error.
// Only the top level tokens are inspected; children of stanzas must be read
// from the underlying reader.
func Reader(r xml.TokenReader) xml.TokenReader {
	return reader{r: r}
}
