// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package compress

import (
	"strconv"
	"testing"
)

// custom is a method the test server never offers.
var custom = Method{Name: "x-custom", Wrapper: newZlib}

var selectTestCases = [...]struct {
	methods []Method
	remote  []string
	want    string
	ok      bool
}{
	0: {methods: []Method{ZLIB}, remote: []string{"zlib"}, want: "zlib", ok: true},
	1: {methods: []Method{custom, ZLIB}, remote: []string{"zlib", "x-custom"}, want: "x-custom", ok: true},
	2: {methods: []Method{custom, ZLIB}, remote: []string{"zlib"}, want: "zlib", ok: true},
	3: {methods: []Method{ZLIB}, remote: []string{"lzw"}},
	4: {methods: []Method{ZLIB}},
}

func TestSelectMethod(t *testing.T) {
	for i, tc := range selectTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			m, ok := selectMethod(tc.methods, tc.remote)
			if ok != tc.ok {
				t.Fatalf("wrong result: want=%t, got=%t", tc.ok, ok)
			}
			if m.Name != tc.want {
				t.Errorf("wrong method: want=%q, got=%q", tc.want, m.Name)
			}
		})
	}
}
