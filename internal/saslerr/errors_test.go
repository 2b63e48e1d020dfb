// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package saslerr

import (
	"encoding/xml"
	"errors"
	"strconv"
	"testing"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"
)

var (
	_ error               = Failure{}
	_ xml.Marshaler       = Failure{}
	_ xml.Unmarshaler     = (*Failure)(nil)
	_ xmlstream.Marshaler = Failure{}
	_ xmlstream.WriterTo  = Failure{}
)

func TestErrorTextOrCondition(t *testing.T) {
	f := Failure{
		Condition: MechanismTooWeak,
		Text:      "Test",
		Lang:      language.CanadianFrench,
	}
	if f.Error() != f.Text {
		t.Error("expected Error() to return the value of Text")
	}
	f = Failure{Condition: MechanismTooWeak}
	if f.Error() != f.Condition.String() {
		t.Error("expected Error() to return the value of Condition if no text")
	}
	if !errors.Is(f, Failure{Condition: MechanismTooWeak, Text: "other"}) {
		t.Error("expected failures with the same condition to match")
	}
}

var marshalTests = [...]struct {
	f   Failure
	out string
}{
	0: {
		f: Failure{
			Condition: MechanismTooWeak,
			Text:      "Test",
			Lang:      language.BrazilianPortuguese,
		},
		out: `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism-too-weak></mechanism-too-weak><text xml:lang="pt-BR">Test</text></failure>`,
	},
	1: {
		f:   Failure{Condition: IncorrectEncoding},
		out: `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><incorrect-encoding></incorrect-encoding></failure>`,
	},
}

func TestMarshal(t *testing.T) {
	for i, tc := range marshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			b, err := xml.Marshal(tc.f)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(b) != tc.out {
				t.Errorf("wrong output:\nwant=%s,\n got=%s", tc.out, b)
			}
		})
	}
}

var unmarshalTests = [...]struct {
	in   string
	lang language.Tag
	out  Failure
}{
	0: {
		in:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`,
		out: Failure{Condition: NotAuthorized},
	},
	1: {
		in:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><account-disabled/><text xml:lang="en">Call 212-555-1212 for help.</text></failure>`,
		out: Failure{Condition: AccountDisabled, Lang: language.English, Text: "Call 212-555-1212 for help."},
	},
	2: {
		in:   `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><aborted/><text xml:lang="en">Aborted</text><text xml:lang="de">Abgebrochen</text></failure>`,
		lang: language.German,
		out:  Failure{Condition: Aborted, Lang: language.German, Text: "Abgebrochen"},
	},
	3: {
		in:  `<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><custom-condition/></failure>`,
		out: Failure{Condition: "custom-condition"},
	},
}

func TestUnmarshal(t *testing.T) {
	for i, tc := range unmarshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			f := Failure{Lang: tc.lang}
			if err := xml.Unmarshal([]byte(tc.in), &f); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f != tc.out {
				t.Errorf("wrong failure: want=%+v, got=%+v", tc.out, f)
			}
		})
	}
}
