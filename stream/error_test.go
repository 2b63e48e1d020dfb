// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"errors"
	"strconv"
	"testing"

	"mellium.im/xmppc/stream"
)

var (
	_ error           = (*stream.Error)(nil)
	_ error           = stream.Error{}
	_ xml.Marshaler   = stream.Error{}
	_ xml.Unmarshaler = (*stream.Error)(nil)
)

var marshalTests = [...]struct {
	se  stream.Error
	xml string
}{
	0: {
		se:  stream.RestrictedXML,
		xml: `<error xmlns="http://etherx.jabber.org/streams"><restricted-xml xmlns="urn:ietf:params:xml:ns:xmpp-streams"></restricted-xml></error>`,
	},
	1: {
		se:  stream.Error{Err: "see-other-host", Text: "[::1]"},
		xml: `<error xmlns="http://etherx.jabber.org/streams"><see-other-host xmlns="urn:ietf:params:xml:ns:xmpp-streams">[::1]</see-other-host></error>`,
	},
	2: {
		se:  stream.Error{Err: "conflict", Text: "Replaced by new connection", Lang: "en"},
		xml: `<error xmlns="http://etherx.jabber.org/streams"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"></conflict><text xmlns="urn:ietf:params:xml:ns:xmpp-streams" xml:lang="en">Replaced by new connection</text></error>`,
	},
}

func TestMarshal(t *testing.T) {
	for i, tc := range marshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.se)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tc.xml {
				t.Errorf("Bad output:\nwant=`%s`,\ngot=`%s`", tc.xml, b)
			}
		})
	}
}

var unmarshalTests = [...]struct {
	xml string
	se  stream.Error
	err bool
}{
	0: {
		xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams"><restricted-xml xmlns="urn:ietf:params:xml:ns:xmpp-streams"></restricted-xml></stream:error>`,
		se:  stream.RestrictedXML,
	},
	1: {
		xml: `<stream:error></a>`,
		err: true,
	},
	2: {
		xml: `<error><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/><text xmlns="urn:ietf:params:xml:ns:xmpp-streams" xml:lang="en">bye</text><app xmlns="urn:example"/></error>`,
		se:  stream.Error{Err: "conflict", Text: "bye", Lang: "en"},
	},
	3: {
		xml: `<error><see-other-host xmlns="urn:ietf:params:xml:ns:xmpp-streams">example.org</see-other-host></error>`,
		se:  stream.Error{Err: "see-other-host", Text: "example.org"},
	},
}

func TestUnmarshal(t *testing.T) {
	for i, tc := range unmarshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			s := stream.Error{}
			err := xml.Unmarshal([]byte(tc.xml), &s)
			switch {
			case tc.err && err == nil:
				t.Fatalf("Expected unmarshaling error for `%v` to fail", tc.xml)
			case !tc.err && err != nil:
				t.Fatal(err)
			case err != nil:
				return
			}
			if s != tc.se {
				t.Errorf("Bad error: want=%#v, got=%#v", tc.se, s)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := error(stream.Error{Err: "conflict", Text: "replaced"})
	if !errors.Is(err, stream.Conflict) {
		t.Errorf("Expected conflict error with text to match stream.Conflict")
	}
	if errors.Is(err, stream.Reset) {
		t.Errorf("Did not expect conflict to match reset")
	}
}

func TestVersion(t *testing.T) {
	for i, tc := range [...]struct {
		in  string
		out stream.Version
		err bool
	}{
		0: {in: "1.0", out: stream.Version{Major: 1}},
		1: {in: "2.15", out: stream.Version{Major: 2, Minor: 15}},
		2: {in: "1", err: true},
		3: {in: "1.0.0", err: true},
		4: {in: "a.b", err: true},
		5: {in: "256.0", err: true},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v, err := stream.ParseVersion(tc.in)
			switch {
			case tc.err && err == nil:
				t.Fatalf("Expected error parsing %q", tc.in)
			case !tc.err && err != nil:
				t.Fatal(err)
			case err != nil:
				return
			}
			if v != tc.out {
				t.Errorf("Bad version: want=%v, got=%v", tc.out, v)
			}
			if v.String() != tc.in {
				t.Errorf("Bad string: want=%s, got=%s", tc.in, v)
			}
		})
	}
	if !(stream.Version{Major: 0, Minor: 9}).Less(stream.DefaultVersion) {
		t.Errorf("Expected 0.9 to be less than 1.0")
	}
}
