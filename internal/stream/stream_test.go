// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"context"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"testing"

	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stream"
)

var expectTestCases = [...]struct {
	XML string
	Err error
}{
	0: {Err: errors.New("EOF")},
	1: {
		XML: "<?xml version='1.0'?>\n\t <stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
	},
	2: {
		XML: "<?xml version='1.0'?><stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
	},
	3: {
		XML: "<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
	},
	4: {
		XML: "<foo/>",
		Err: stream.BadFormat,
	},
	5: {
		XML: "<?xml version='1.0'?>",
		Err: errors.New("EOF"),
	},
	6: {
		XML: "\n\t <stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
	},
	7: {
		XML: "<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='0.9' id='123'>",
		Err: stream.UnsupportedVersion,
	},
	8: {
		XML: "<stream:stream xmlns='jabber:foo' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
		Err: stream.InvalidNamespace,
	},
	9: {
		XML: "<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0'>",
		Err: stream.BadFormat,
	},
	10: {
		XML: "<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1' id='123'>",
		Err: stream.BadFormat,
	},
	11: {
		XML: "<stream:error xmlns:stream='http://etherx.jabber.org/streams'><host-unknown xmlns='urn:ietf:params:xml:ns:xmpp-streams'/></stream:error>",
		Err: stream.HostUnknown,
	},
	12: {
		XML: "text<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams' version='1.0' id='123'>",
		Err: stream.BadFormat,
	},
}

func TestExpect(t *testing.T) {
	for i, tc := range expectTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			d := xml.NewDecoder(strings.NewReader(tc.XML))
			info, err := intstream.Expect(context.Background(), d)
			switch {
			case err != nil && tc.Err == nil:
				t.Errorf("did not expect error but got %v", err)
			case err == nil && tc.Err != nil:
				t.Error("expected error but did not get one")
			case err != nil && !errors.Is(err, tc.Err) && err.Error() != tc.Err.Error():
				t.Errorf("wrong error: want=%v, got=%v", tc.Err, err)
			case err == nil && info.ID != "123":
				t.Errorf("wrong stream id: %q", info.ID)
			}
		})
	}
}

func TestExpectCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := intstream.Expect(ctx, xml.NewDecoder(strings.NewReader("")))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("wrong error: %v", err)
	}
}

var sendTests = [...]struct {
	to, from jid.JID
	lang     string
	out      string
}{
	0: {
		to:  jid.MustParse("example.net"),
		out: intstream.XMLHeader + `<stream:stream to='example.net' version='1.0' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`,
	},
	1: {
		to:   jid.MustParse("example.net"),
		from: jid.MustParse("juliet@example.net"),
		lang: "en<",
		out:  intstream.XMLHeader + `<stream:stream to='example.net' from='juliet@example.net' version='1.0' xml:lang='en&lt;' xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`,
	},
}

func TestSend(t *testing.T) {
	for i, tc := range sendTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			var b strings.Builder
			info, err := intstream.Send(&b, tc.to, tc.from, tc.lang)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out := b.String(); out != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, out)
			}
			if !info.To.Equal(tc.to) || info.Version != stream.DefaultVersion {
				t.Errorf("wrong stream info: %+v", info)
			}
		})
	}
}
