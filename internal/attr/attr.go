// Copyright 2017 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package attr contains unexported functionality related to XML attributes.
package attr // import "mellium.im/xmppc/internal/attr"

import (
	"encoding/xml"
)

// Get returns the value of the first attribute with the provided local name
// from a list of attributes or an empty string if no such attribute exists.
// The index of the attribute is also returned, or -1 if it was not found.
func Get(attr []xml.Attr, local string) (int, string) {
	for i, a := range attr {
		if a.Name.Local == local {
			return i, a.Value
		}
	}
	return -1, ""
}

// StripNS returns a copy of attrs with any namespace declarations removed.
// Namespaces are tracked on element names, and keeping the declarations causes
// the encoder to emit them twice.
func StripNS(attrs []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs))
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}
