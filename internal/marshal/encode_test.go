// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package marshal_test

import (
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/stanza"
)

type testWriteFlusher struct {
	toks    int
	flushes int
}

func (wf *testWriteFlusher) EncodeToken(t xml.Token) error {
	wf.toks++
	return nil
}

func (wf *testWriteFlusher) Flush() error {
	wf.flushes++
	return nil
}

func TestEncodeXMLFlushes(t *testing.T) {
	wf := &testWriteFlusher{}
	if err := marshal.EncodeXML(wf, stanza.Body{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if wf.flushes != 1 {
		t.Errorf("Expected one flush, got %d", wf.flushes)
	}
	if wf.toks != 3 {
		t.Errorf("Expected three tokens, got %d", wf.toks)
	}
}

func TestBytes(t *testing.T) {
	b, err := marshal.Bytes(stanza.Body{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "<body>hi</body>" {
		t.Errorf("Unexpected output: %s", b)
	}
}

func TestDecodeElement(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(`<a><b x="1">text</b><c/></a>`))
	tok, err := d.Token()
	if err != nil {
		t.Fatal(err)
	}
	start := tok.(xml.StartElement)
	var v struct {
		B struct {
			X    string `xml:"x,attr"`
			Text string `xml:",chardata"`
		} `xml:"b"`
	}
	if err = marshal.DecodeElement(d, &start, &v); err != nil {
		t.Fatal(err)
	}
	if v.B.X != "1" || v.B.Text != "text" {
		t.Errorf("Bad decode: %+v", v)
	}
	if _, err = d.Token(); err == nil {
		t.Errorf("Expected the element to be fully consumed")
	}
}
