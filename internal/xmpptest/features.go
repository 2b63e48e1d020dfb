// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpptest

import (
	"mellium.im/sasl"

	"mellium.im/xmppc"
)

// InsecurePlain returns a SASL PLAIN feature that may be negotiated without a
// security layer, for servers created without TLS.
func InsecurePlain(password string) xmppc.StreamFeature {
	f := xmppc.SASL("", password, sasl.Plain)
	f.Necessary = 0
	return f
}

// Features returns the features used to log in to a server without TLS.
func Features(password string) []xmppc.StreamFeature {
	return []xmppc.StreamFeature{
		InsecurePlain(password),
		xmppc.BindResource(),
	}
}
