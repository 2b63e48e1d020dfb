// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux_test

import (
	"context"
	"encoding/xml"
	"errors"
	"strconv"
	"testing"

	"mellium.im/xmlstream"

	"mellium.im/xmppc"
	"mellium.im/xmppc/mux"
	"mellium.im/xmppc/stanza"
)

const exampleNS = "com.example"

var errPass = errors.New("mux_test: PASSED")

var passIQHandler xmppc.IQHandlerFunc = func(context.Context, stanza.IQ) (stanza.IQ, error) {
	return stanza.IQ{}, errPass
}

var failIQHandler xmppc.IQHandlerFunc = func(context.Context, stanza.IQ) (stanza.IQ, error) {
	return stanza.IQ{}, errors.New("mux_test: FAILED")
}

type payload xml.Name

func (p payload) Name() xml.Name { return xml.Name(p) }

func (p payload) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name(p)})
}

var iqTestCases = [...]struct {
	m      *mux.IQMux
	p      xml.Name
	iqType stanza.IQType
	err    error
}{
	0: {
		// Exact match handler should be selected if available.
		m: mux.NewIQMux(
			mux.HandleIQ(stanza.GetIQ, xml.Name{Local: "a", Space: exampleNS}, failIQHandler),
			mux.HandleIQ(stanza.GetIQ, xml.Name{Local: "test", Space: "b"}, failIQHandler),
			mux.HandleIQFunc(stanza.GetIQ, xml.Name{Local: "test", Space: exampleNS}, passIQHandler),
		),
		p: xml.Name{Local: "test", Space: exampleNS},
	},
	1: {
		// If no exact match is available, fallback to the namespace wildcard
		// handler.
		m: mux.NewIQMux(
			mux.GetIQFunc(xml.Name{Local: "test", Space: ""}, passIQHandler),
			mux.HandleIQ(stanza.GetIQ, xml.Name{Local: "", Space: exampleNS}, failIQHandler),
		),
		p: xml.Name{Local: "test", Space: exampleNS},
	},
	2: {
		// If no exact match or namespace handler is available, fallback local name
		// handler.
		m: mux.NewIQMux(
			mux.HandleIQ(stanza.GetIQ, xml.Name{Local: "", Space: exampleNS}, passIQHandler),
		),
		p: xml.Name{Local: "test", Space: exampleNS},
	},
	3: {
		// If no exact match or localname/namespace wildcard is available, fallback
		// to just matching on type alone.
		m: mux.NewIQMux(
			mux.GetIQ(xml.Name{Local: "other", Space: exampleNS}, failIQHandler),
			mux.SetIQ(xml.Name{}, passIQHandler),
		),
		p:      xml.Name{Local: "test", Space: exampleNS},
		iqType: stanza.SetIQ,
	},
	4: {
		// IQs must be routed correctly by type.
		m: mux.NewIQMux(
			mux.GetIQ(xml.Name{Local: "test", Space: exampleNS}, failIQHandler),
			mux.SetIQFunc(xml.Name{Local: "test", Space: exampleNS}, passIQHandler),
		),
		p:      xml.Name{Local: "test", Space: exampleNS},
		iqType: stanza.SetIQ,
	},
	5: {
		// Unmatched requests are reported as not handled.
		m: mux.NewIQMux(
			mux.SetIQ(xml.Name{Local: "test", Space: exampleNS}, failIQHandler),
		),
		p:   xml.Name{Local: "test", Space: exampleNS},
		err: xmppc.ErrIQNotHandled,
	},
	6: {
		m:   mux.NewIQMux(),
		p:   xml.Name{Local: "test", Space: exampleNS},
		err: xmppc.ErrIQNotHandled,
	},
}

func TestIQMux(t *testing.T) {
	for i, tc := range iqTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			typ := tc.iqType
			if typ == "" {
				typ = stanza.GetIQ
			}
			want := tc.err
			if want == nil {
				want = errPass
			}
			iq := stanza.NewIQ(stanza.Header{ID: "123"}, typ, payload(tc.p))
			_, err := tc.m.HandleIQ(context.Background(), iq)
			if !errors.Is(err, want) {
				t.Errorf("unexpected error: want=%v, got=%v", want, err)
			}
		})
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected duplicate registration to panic")
		}
	}()
	mux.NewIQMux(
		mux.GetIQ(xml.Name{Local: "test"}, passIQHandler),
		mux.GetIQ(xml.Name{Local: "test"}, failIQHandler),
	)
}

func TestNilHandlerPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected nil handler to panic")
		}
	}()
	mux.NewIQMux(mux.GetIQ(xml.Name{Local: "test"}, nil))
}
