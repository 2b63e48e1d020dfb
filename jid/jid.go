// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format.
//
// XMPP addresses, more often called "JIDs" (Jabber IDs) for historical
// reasons, comprise three parts: the localpart, domainpart, and resourcepart.
// All parts of a JID are guaranteed to be valid UTF-8 and are stored in their
// canonical form.
//
// For more information see RFC 7622.
package jid // import "mellium.im/xmppc/jid"

import (
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// Errors returned while parsing or constructing a JID.
var (
	ErrEmptyDomain     = errors.New("jid: the domainpart must be between 1 and 1023 bytes")
	ErrEmptyLocal      = errors.New("jid: the localpart must be larger than 0 bytes")
	ErrEmptyResource   = errors.New("jid: the resourcepart must be larger than 0 bytes")
	ErrInvalidUTF8     = errors.New("jid: contains invalid UTF-8")
	ErrForbiddenLocal  = errors.New("jid: localpart contains forbidden characters")
	ErrLongLocal       = errors.New("jid: the localpart must be smaller than 1024 bytes")
	ErrLongResource    = errors.New("jid: the resourcepart must be smaller than 1024 bytes")
	ErrInvalidIP6Label = errors.New("jid: domainpart is not a valid IPv6 address")
)

// JID represents an XMPP address.
// The zero value is an empty address and is used to indicate the absence of a
// to or from attribute on a stanza.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return JID{}, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the JID cannot be parsed.
// It simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart after applying the PRECIS profiles required by RFC 7622.
func New(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}

	// RFC 7622 §3.2.1: each A-label must be converted to a U-label during
	// preparation of a domainpart.
	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, ErrInvalidUTF8
	}

	j := JID{domain: domainpart}
	if localpart != "" {
		j.local, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return JID{}, err
		}
	}
	if resourcepart != "" {
		j.resource, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
	}

	if err := check(j); err != nil {
		return JID{}, err
	}
	return j, nil
}

// WithResource returns a copy of the JID with a new resourcepart.
// This elides validation of the localpart and domainpart.
func (j JID) WithResource(resourcepart string) (JID, error) {
	j.resource = ""
	if resourcepart == "" {
		return j, nil
	}
	if !utf8.ValidString(resourcepart) {
		return JID{}, ErrInvalidUTF8
	}
	r, err := precis.OpaqueString.String(resourcepart)
	if err != nil {
		return JID{}, err
	}
	if len(r) > 1023 {
		return JID{}, ErrLongResource
	}
	j.resource = r
	return j, nil
}

// Bare returns a copy of the JID without a resourcepart.
// This is sometimes called a "bare" JID.
func (j JID) Bare() JID {
	j.resource = ""
	return j
}

// Domain returns a copy of the JID without a resourcepart or localpart.
func (j JID) Domain() JID {
	return JID{domain: j.domain}
}

// Localpart gets the localpart of a JID (eg "username").
func (j JID) Localpart() string {
	return j.local
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j JID) Domainpart() string {
	return j.domain
}

// Resourcepart gets the resourcepart of a JID.
func (j JID) Resourcepart() string {
	return j.resource
}

// IsZero reports whether j is the empty address.
func (j JID) IsZero() bool {
	return j.domain == ""
}

// IsBare reports whether j has no resourcepart.
func (j JID) IsBare() bool {
	return j.resource == ""
}

// Network satisfies the net.Addr interface by returning the name of the network
// ("xmpp").
func (JID) Network() string {
	return "xmpp"
}

// String converts a JID to its string representation.
func (j JID) String() string {
	var b strings.Builder
	b.Grow(len(j.local) + len(j.domain) + len(j.resource) + 2)
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j JID) Equal(j2 JID) bool {
	return j == j2
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the JID
// as an XML attribute.
// The zero JID marshals to an empty attribute which the encoder omits.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j.IsZero() {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and unmarshals
// an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID.
// The parts are not guaranteed to be valid.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// RFC 7622 §3.1: separators must be matched before applying any
	// transformation that might decompose code points into them.
	if sep := strings.IndexByte(s, '/'); sep != -1 {
		if sep == len(s)-1 {
			return "", "", "", ErrEmptyResource
		}
		resourcepart = s[sep+1:]
		s = s[:sep]
	}

	switch sep := strings.IndexByte(s, '@'); sep {
	case -1:
		domainpart = s
	case 0:
		return "", "", "", ErrEmptyLocal
	default:
		localpart = s[:sep]
		domainpart = s[sep+1:]
	}

	// A trailing label separator is ignored for routing and comparison.
	domainpart = strings.TrimSuffix(domainpart, ".")
	return localpart, domainpart, resourcepart, nil
}

func check(j JID) error {
	if len(j.local) > 1023 {
		return ErrLongLocal
	}
	// RFC 7622 §3.3.1 disallows these even though the PRECIS profile does not.
	if strings.ContainsAny(j.local, `"&'/:<>@`) {
		return ErrForbiddenLocal
	}
	if len(j.resource) > 1023 {
		return ErrLongResource
	}
	if l := len(j.domain); l < 1 || l > 1023 {
		return ErrEmptyDomain
	}
	if l := len(j.domain); l > 2 && j.domain[0] == '[' && j.domain[l-1] == ']' {
		if ip := net.ParseIP(j.domain[1 : l-1]); ip == nil || ip.To4() != nil {
			return ErrInvalidIP6Label
		}
	}
	return nil
}
