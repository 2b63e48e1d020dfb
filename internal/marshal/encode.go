// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package marshal contains functions for moving between XML token streams,
// Go values, and bytes.
package marshal // import "mellium.im/xmppc/internal/marshal"

import (
	"bytes"
	"encoding/xml"

	"mellium.im/xmlstream"
)

// Bytes encodes the tokens of m and returns the resulting XML.
func Bytes(m xmlstream.Marshaler) ([]byte, error) {
	var b bytes.Buffer
	e := xml.NewEncoder(&b)
	if _, err := xmlstream.Copy(e, m.TokenReader()); err != nil {
		return nil, err
	}
	if err := e.Flush(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DecodeElement decodes the element that begins with start into v.
// The reader must yield the remaining tokens of the element, up to and
// including the end element.
//
// Unlike calling xml.NewTokenDecoder(r).DecodeElement(v, start), the new
// decoder sees the start element itself so the end element is matched against
// it.
func DecodeElement(r xml.TokenReader, start *xml.StartElement, v interface{}) error {
	return xml.NewTokenDecoder(xmlstream.MultiReader(xmlstream.Token(*start), r)).Decode(v)
}

// EncodeXML writes the XML encoding of v to the stream.
//
// If the stream is an xmlstream.Flusher, EncodeXML calls Flush before
// returning.
func EncodeXML(w xmlstream.TokenWriter, v xmlstream.Marshaler) error {
	_, err := xmlstream.Copy(w, v.TokenReader())
	if err != nil {
		return err
	}
	if wf, ok := w.(xmlstream.Flusher); ok {
		return wf.Flush()
	}
	return nil
}
