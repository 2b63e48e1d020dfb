// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"encoding/xml"
	"math"
	"strconv"
	"testing"
)

var ackTestCases = [...]struct {
	acked   uint32
	sent    int
	h       uint32
	pending int
}{
	0: {sent: 3, h: 0, pending: 3},
	1: {sent: 3, h: 2, pending: 1},
	2: {sent: 3, h: 3, pending: 0},
	3: {sent: 3, h: 10, pending: 0},
	4: {acked: math.MaxUint32 - 1, sent: 4, h: 1, pending: 1},
	5: {acked: math.MaxUint32, sent: 2, h: math.MaxUint32, pending: 2},
}

func TestAck(t *testing.T) {
	for i, tc := range ackTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			s := &smState{acked: tc.acked}
			for j := 0; j < tc.sent; j++ {
				s.sent([]byte(strconv.Itoa(j)))
			}
			s.ack(tc.h)
			pending := s.pending()
			if len(pending) != tc.pending {
				t.Fatalf("wrong number of pending stanzas: want=%d, got=%d", tc.pending, len(pending))
			}
			if tc.pending > 0 {
				if want := strconv.Itoa(tc.sent - tc.pending); string(pending[0]) != want {
					t.Errorf("wrong first pending stanza: want=%s, got=%s", want, pending[0])
				}
			}
			if s.acked != tc.h {
				t.Errorf("wrong acked count: want=%d, got=%d", tc.h, s.acked)
			}
		})
	}
}

func TestResumable(t *testing.T) {
	var s *smState
	if s.resumable() {
		t.Errorf("nil state should not be resumable")
	}
	s = &smState{id: "abc"}
	if s.resumable() {
		t.Errorf("state without resume should not be resumable")
	}
	s.resume = true
	if !s.resumable() {
		t.Errorf("expected state to be resumable")
	}
}

func TestAckBytes(t *testing.T) {
	b, err := ackBytes(42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	const want = `<a xmlns="urn:xmpp:sm:3" h="42"></a>`
	if string(b) != want {
		t.Errorf("wrong ack: want=%s, got=%s", want, b)
	}
	b, err = requestBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	const wantReq = `<r xmlns="urn:xmpp:sm:3"></r>`
	if string(b) != wantReq {
		t.Errorf("wrong request: want=%s, got=%s", wantReq, b)
	}
}

func TestParseH(t *testing.T) {
	h, err := parseH(xml.StartElement{Attr: []xml.Attr{{Name: xml.Name{Local: "h"}, Value: "4294967295"}}})
	if err != nil || h != math.MaxUint32 {
		t.Errorf("wrong h: want=%d, got=%d (%v)", uint32(math.MaxUint32), h, err)
	}
	if _, err = parseH(xml.StartElement{}); err == nil {
		t.Errorf("expected error for missing h")
	}
	if _, err = parseH(xml.StartElement{Attr: []xml.Attr{{Name: xml.Name{Local: "h"}, Value: "-1"}}}); err == nil {
		t.Errorf("expected error for negative h")
	}
}
