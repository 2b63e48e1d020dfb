// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"testing"

	"mellium.im/sasl"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/stream"
)

const featuresPrefix = `<stream:stream xmlns='jabber:client' xmlns:stream='http://etherx.jabber.org/streams'>`

var readFeaturesTestCases = [...]struct {
	in           string
	err          error
	names        []xml.Name
	req          []bool
	unhandledReq bool
}{
	0: {in: `<stream:features/>`},
	1: {
		in:    `<stream:features><starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'><required/></starttls></stream:features>`,
		names: []xml.Name{{Space: ns.StartTLS, Local: "starttls"}},
		req:   []bool{true},
	},
	2: {
		in:    `<stream:features><starttls xmlns='urn:ietf:params:xml:ns:xmpp-tls'/></stream:features>`,
		names: []xml.Name{{Space: ns.StartTLS, Local: "starttls"}},
		req:   []bool{false},
	},
	3: {
		in:           `<stream:features><unknown xmlns='urn:example'><required/></unknown></stream:features>`,
		unhandledReq: true,
	},
	4: {
		in: `<stream:features><unknown xmlns='urn:example'><child><required/></child></unknown></stream:features>`,
	},
	5: {
		in: `<stream:features>
	<mechanisms xmlns='urn:ietf:params:xml:ns:xmpp-sasl'><mechanism>PLAIN</mechanism></mechanisms>
	<sm xmlns='urn:xmpp:sm:3'/>
</stream:features>`,
		names: []xml.Name{{Space: ns.SASL, Local: "mechanisms"}, {Space: ns.SM, Local: "sm"}},
		req:   []bool{true, false},
	},
	6: {in: `<stream:other/>`, err: stream.InvalidXML},
	7: {in: `<stream:features>text</stream:features>`, err: stream.BadFormat},
}

func TestReadFeatures(t *testing.T) {
	features := []StreamFeature{
		StartTLS(nil),
		SASL("", "", sasl.Plain),
		Resume(),
		StreamManagement(true),
		BindResource(),
	}
	for i, tc := range readFeaturesTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			d := xml.NewDecoder(strings.NewReader(featuresPrefix + tc.in))
			if _, err := d.Token(); err != nil {
				t.Fatalf("error popping stream header: %v", err)
			}
			list, err := readFeatures(context.Background(), d, features)
			if !errors.Is(err, tc.err) {
				t.Fatalf("wrong error: want=%v, got=%v", tc.err, err)
			}
			if err != nil {
				return
			}
			if len(list.parsed) != len(tc.names) {
				t.Errorf("wrong number of features: want=%d, got=%d", len(tc.names), len(list.parsed))
			}
			for j, name := range tc.names {
				p, ok := list.parsed[name]
				if !ok {
					t.Errorf("feature %v not parsed", name)
					continue
				}
				if p.req != tc.req[j] {
					t.Errorf("wrong required value for %v: want=%t, got=%t", name, tc.req[j], p.req)
				}
			}
			if list.unhandledReq != tc.unhandledReq {
				t.Errorf("wrong unhandled required: want=%t, got=%t", tc.unhandledReq, list.unhandledReq)
			}
		})
	}
}

func TestPick(t *testing.T) {
	features := []StreamFeature{
		SASL("", "", sasl.Plain),
		StartTLS(nil),
		BindResource(),
	}
	list := &featureList{parsed: map[xml.Name]parsedFeature{
		{Space: ns.SASL, Local: "mechanisms"}: {req: true},
		{Space: ns.StartTLS, Local: "starttls"}: {req: true},
	}}
	s := &Session{}
	attempted := make([]bool, len(features))
	if i := s.pick(features, list, attempted); i != 1 {
		t.Fatalf("expected starttls to be picked before authentication, got %d", i)
	}
	s.state |= Secure
	if i := s.pick(features, list, attempted); i != 0 {
		t.Fatalf("expected sasl once secure, got %d", i)
	}
	attempted[0] = true
	if i := s.pick(features, list, attempted); i != -1 {
		t.Errorf("expected nothing to be picked, got %d", i)
	}
}

func TestMissingRequired(t *testing.T) {
	name := xml.Name{Space: ns.StartTLS, Local: "starttls"}
	list := &featureList{parsed: map[xml.Name]parsedFeature{name: {req: true}}}
	if !missingRequired(list, nil) {
		t.Errorf("expected required feature to be missing")
	}
	if missingRequired(list, map[xml.Name]bool{name: true}) {
		t.Errorf("expected negotiated feature not to be missing")
	}
}
