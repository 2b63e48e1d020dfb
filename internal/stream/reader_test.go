// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"

	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/stream"
	streamerr "mellium.im/xmppc/stream"
)

const prefix = `<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`

var readerTestCases = [...]struct {
	in  string
	out string
	err error
}{
	0: {in: ` </stream:stream>`, out: ` `, err: io.EOF},
	1: {in: ` <message/> </stream:stream>`, out: ` <message xmlns="jabber:client"></message> `, err: io.EOF},
	2: {in: `</stream:stream>`, err: io.EOF},
	3: {in: `<stream:stream>`, err: stream.ErrUnexpectedRestart},
	4: {in: `<stream:unknown/>`, err: stream.ErrUnknownStreamElement},
	5: {
		in:  `<stream:error><conflict xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error>`,
		err: streamerr.Conflict,
	},
	6: {in: `junk`, err: streamerr.BadFormat},
}

func TestReader(t *testing.T) {
	for i, tc := range readerTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			var out strings.Builder
			d := xml.NewDecoder(strings.NewReader(prefix + tc.in))
			if _, err := d.Token(); err != nil {
				t.Fatalf("error popping stream header: %v", err)
			}
			e := xml.NewEncoder(&out)
			r := stream.Reader(d)
			var err error
			for {
				var tok xml.Token
				tok, err = r.Token()
				if err != nil {
					break
				}
				if err = e.EncodeToken(tok); err != nil {
					t.Fatalf("error encoding: %v", err)
				}
				if start, ok := tok.(xml.StartElement); ok {
					if _, err = xmlstream.Copy(e, xmlstream.Inner(d)); err != nil {
						t.Fatalf("error copying element: %v", err)
					}
					if err = e.EncodeToken(start.End()); err != nil {
						t.Fatalf("error encoding: %v", err)
					}
				}
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("unexpected error: want=%v, got=%v", tc.err, err)
			}
			if err := e.Flush(); err != nil {
				t.Fatalf("error flushing output to buffer: %v", err)
			}
			if s := out.String(); s != tc.out {
				t.Errorf("wrong output: want=%q, got=%q", tc.out, s)
			}
		})
	}
}
