// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package attr

import (
	"strings"

	"github.com/google/uuid"
)

// IDLen is the standard length of stanza identifiers in bytes.
const IDLen = 16

// RandomID generates a new random identifier of length IDLen.
// If the OS's entropy pool isn't initialized, or we can't generate random
// numbers for some other reason, panic.
func RandomID() string {
	return RandomLen(IDLen)
}

// RandomLen is like RandomID but the length is configurable.
// Lengths longer than 64 are truncated to 64.
func RandomLen(n int) string {
	var b strings.Builder
	for b.Len() < n {
		u := uuid.Must(uuid.NewRandom())
		b.WriteString(strings.ReplaceAll(u.String(), "-", ""))
		if b.Len() >= 64 {
			break
		}
	}
	s := b.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
