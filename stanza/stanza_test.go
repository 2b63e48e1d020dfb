// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza_test

import (
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stanza"
)

var (
	_ stanza.Stanza    = stanza.Message{}
	_ stanza.Stanza    = stanza.Presence{}
	_ stanza.Stanza    = stanza.IQ{}
	_ stanza.Extension = stanza.Body{}
	_ stanza.Extension = stanza.Delay{}
	_ stanza.Extension = stanza.Unparsed{}
	_ error            = stanza.Error{}
	_ error            = (*stanza.MalformedError)(nil)
)

func marshal(t *testing.T, s stanza.Stanza) string {
	t.Helper()
	var b strings.Builder
	e := xml.NewEncoder(&b)
	if _, err := s.WriteXML(e); err != nil {
		t.Fatalf("error encoding stanza: %v", err)
	}
	if err := e.Flush(); err != nil {
		t.Fatalf("error flushing stanza: %v", err)
	}
	return b.String()
}

var (
	romeo  = jid.MustParse("romeo@example.net/orchard")
	juliet = jid.MustParse("juliet@example.com/balcony")
)

var encodeTests = [...]struct {
	s   stanza.Stanza
	out string
}{
	0: {
		s: stanza.NewMessage(stanza.Header{ID: "1", To: juliet}, stanza.ChatMessage, stanza.Body{Text: "Art thou not Romeo?"}),
		out: `<message id="1" to="juliet@example.com/balcony" type="chat"><body>Art thou not Romeo?</body></message>`,
	},
	1: {
		s:   stanza.Presence{Header: stanza.Header{From: romeo}},
		out: `<presence from="romeo@example.net/orchard"></presence>`,
	},
	2: {
		s: stanza.NewPresence(stanza.Header{Lang: "en"}, stanza.AvailablePresence, stanza.ShowAway, stanza.Status{Text: "in the orchard"}, stanza.Priority(-1)),
		out: `<presence xml:lang="en"><show>away</show><status>in the orchard</status><priority>-1</priority></presence>`,
	},
	3: {
		s:   stanza.IQ{Header: stanza.Header{ID: "q1"}, Type: stanza.ResultIQ},
		out: `<iq id="q1" type="result"></iq>`,
	},
	4: {
		s: stanza.IQ{Header: stanza.Header{ID: "q1"}, Type: stanza.GetIQ}.ErrorReply(stanza.Error{
			Type:      stanza.Cancel,
			Condition: stanza.ServiceUnavailable,
		}),
		out: `<iq id="q1" type="error"><error type="cancel"><service-unavailable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></service-unavailable></error></iq>`,
	},
	5: {
		s: stanza.NewMessage(stanza.Header{}, "", stanza.Delay{Stamp: time.Date(2002, time.September, 10, 23, 8, 25, 0, time.UTC)}),
		out: `<message><delay xmlns="urn:xmpp:delay" stamp="2002-09-10T23:08:25Z"></delay></message>`,
	},
	6: {
		s:   stanza.NewMessage(stanza.Header{}, "", stanza.Thread{Parent: "p", ID: "t"}, stanza.Subject{Lang: "de", Text: "Betreff"}),
		out: `<message><thread parent="p">t</thread><subject xml:lang="de">Betreff</subject></message>`,
	},
}

func TestEncode(t *testing.T) {
	for i, tc := range encodeTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			if out := marshal(t, tc.s); out != tc.out {
				t.Errorf("Unexpected output:\nwant=%s,\n got=%s", tc.out, out)
			}
		})
	}
}

var validateTests = [...]struct {
	s   stanza.Stanza
	err bool
}{
	0:  {s: stanza.Message{}},
	1:  {s: stanza.Message{Type: "bogus"}, err: true},
	2:  {s: stanza.Message{Type: stanza.ErrorMessage}, err: true},
	3:  {s: stanza.Message{Type: stanza.ErrorMessage, Header: stanza.Header{Err: &stanza.Error{}}}},
	4:  {s: stanza.Presence{Type: stanza.SubscribePresence}},
	5:  {s: stanza.Presence{Type: "bogus"}, err: true},
	6:  {s: stanza.IQ{Header: stanza.Header{ID: "1"}}, err: true},
	7:  {s: stanza.IQ{Type: stanza.ResultIQ}, err: true},
	8:  {s: stanza.IQ{Header: stanza.Header{ID: "1"}, Type: stanza.GetIQ}, err: true},
	9:  {s: stanza.NewIQ(stanza.Header{ID: "1"}, stanza.GetIQ, stanza.Body{})},
	10: {s: stanza.NewIQ(stanza.Header{ID: "1"}, stanza.SetIQ, stanza.Body{}).With(stanza.Body{}), err: true},
	11: {s: stanza.IQ{Header: stanza.Header{ID: "1"}, Type: stanza.ErrorIQ}, err: true},
	12: {s: stanza.IQ{Header: stanza.Header{ID: "1"}, Type: stanza.ResultIQ}},
	13: {s: stanza.IQ{Header: stanza.Header{ID: "1"}, Type: "bogus"}, err: true},
}

func TestValidate(t *testing.T) {
	for i, tc := range validateTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			err := tc.s.Validate()
			switch {
			case tc.err && err == nil:
				t.Errorf("Expected validation error")
			case !tc.err && err != nil:
				t.Errorf("Unexpected validation error: %v", err)
			case err != nil:
				var malformed *stanza.MalformedError
				if !errors.As(err, &malformed) {
					t.Errorf("Expected a MalformedError, got %T", err)
				} else if malformed.Kind != tc.s.Kind() {
					t.Errorf("Wrong kind on error: want=%v, got=%v", tc.s.Kind(), malformed.Kind)
				}
			}
		})
	}
}

func TestExtensionLookup(t *testing.T) {
	pingName := xml.Name{Space: ns.Ping, Local: "ping"}
	first := stanza.Body{Text: "first"}
	second := stanza.Body{Text: "second"}
	m := stanza.NewMessage(stanza.Header{}, stanza.ChatMessage, first, stanza.ShowAway, second)

	ext, ok := m.Extension(stanza.Body{}.Name())
	if !ok {
		t.Fatal("Expected to find body")
	}
	if ext.(stanza.Body) != first {
		t.Errorf("Expected first body in insertion order, got %v", ext)
	}
	all := m.ExtensionsByName(stanza.Body{}.Name())
	if len(all) != 2 || all[1].(stanza.Body) != second {
		t.Errorf("Expected both bodies in order, got %v", all)
	}
	if _, ok := m.Extension(pingName); ok {
		t.Errorf("Did not expect to find a ping")
	}
	show, ok := stanza.ExtensionOf[stanza.Show](m)
	if !ok || show != stanza.ShowAway {
		t.Errorf("Bad typed lookup: %v, %t", show, ok)
	}
	if _, ok := stanza.ExtensionOf[stanza.Delay](m); ok {
		t.Errorf("Did not expect to find a delay")
	}
	if m.Body() != "first" {
		t.Errorf("Bad body: %q", m.Body())
	}
}

func TestImmutable(t *testing.T) {
	base := stanza.NewMessage(stanza.Header{ID: "a"}, stanza.ChatMessage, stanza.Body{Text: "one"})
	m1 := base.With(stanza.Subject{Text: "x"})
	m2 := base.With(stanza.Thread{ID: "y"})

	if n := len(base.Extensions()); n != 1 {
		t.Errorf("Base was modified, has %d extensions", n)
	}
	if _, ok := m1.Extension(stanza.Thread{}.Name()); ok {
		t.Errorf("Copies share extension storage")
	}
	if _, ok := m2.Extension(stanza.Subject{}.Name()); ok {
		t.Errorf("Copies share extension storage")
	}
	exts := m1.Extensions()
	exts[0] = stanza.Body{Text: "changed"}
	if m1.Body() != "one" {
		t.Errorf("Modifying the returned extensions modified the stanza")
	}

	withID := stanza.WithID(base, "b")
	if base.ID != "a" || withID.StanzaHeader().ID != "b" {
		t.Errorf("WithID should return a modified copy")
	}
}

func TestIQReplies(t *testing.T) {
	req := stanza.NewIQ(stanza.Header{ID: "123", To: juliet, From: romeo}, stanza.GetIQ, stanza.Body{})
	res := req.Result()
	if res.ID != "123" || res.Type != stanza.ResultIQ || !res.To.Equal(romeo) || !res.From.Equal(juliet) {
		t.Errorf("Bad result reply: %+v", res)
	}
	if len(res.Extensions()) != 0 {
		t.Errorf("Result should not copy the request payload")
	}
	errReply := req.ErrorReply(stanza.Error{Condition: stanza.ItemNotFound})
	if errReply.Type != stanza.ErrorIQ || errReply.Err == nil || errReply.Err.Condition != stanza.ItemNotFound {
		t.Errorf("Bad error reply: %+v", errReply)
	}
	if err := errReply.Validate(); err != nil {
		t.Errorf("Error reply did not validate: %v", err)
	}
}

func TestErrorXML(t *testing.T) {
	in := stanza.Error{
		By:        jid.MustParse("example.net"),
		Type:      stanza.Modify,
		Condition: stanza.BadRequest,
		Text:      "bad",
		Lang:      "en",
	}
	b, err := xml.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	const want = `<error type="modify" by="example.net"><bad-request xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"></bad-request><text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas" xml:lang="en">bad</text></error>`
	if string(b) != want {
		t.Errorf("Bad encoding:\nwant=%s,\n got=%s", want, b)
	}
	var out stanza.Error
	if err = xml.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("Bad round trip: want=%+v, got=%+v", in, out)
	}
	if !errors.Is(out, stanza.Error{Condition: stanza.BadRequest}) {
		t.Errorf("Expected errors.Is to match on condition")
	}
	if errors.Is(out, stanza.Error{Condition: stanza.Conflict}) {
		t.Errorf("Did not expect errors.Is to match a different condition")
	}
}
