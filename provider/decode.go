// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package provider

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/internal/attr"
	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/stanza"
)

// ErrNotStanza is returned by Decode when the element is not a message,
// presence, or iq in the client namespace.
var ErrNotStanza = errors.New("provider: element is not a stanza")

// DecodeError is returned when a stanza was read completely but its attributes
// could not be parsed (for example, an invalid JID in the from attribute).
// The stream itself is still usable after a DecodeError.
type DecodeError struct {
	Name xml.Name
	ID   string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("provider: decoding %s %q: %v", e.Name.Local, e.ID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode builds a stanza from start and the tokens read from r.
// The reader must yield the children of start and then return io.EOF, such as
// the reader returned by xmlstream.Inner.
//
// Errors returned by r are returned as is and indicate that the stream is no
// longer well formed.
// When the element was consumed but could not be turned into a stanza a
// *DecodeError is returned.
// Errors from individual providers are never returned; the extension is kept
// as a stanza.Unparsed instead.
func (r *Registry) Decode(tr xml.TokenReader, start xml.StartElement) (stanza.Stanza, error) {
	if !stanza.Is(start.Name) {
		// Consume the element so the caller may keep reading the stream.
		if err := drain(tr); err != nil {
			return nil, err
		}
		return nil, &DecodeError{Name: start.Name, Err: ErrNotStanza}
	}

	var h stanza.Header
	typ, headerErr := h.ParseHeader(start)

	var exts []stanza.Extension
	for {
		tok, err := tr.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		child, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		toks, err := readElement(tr, child)
		if err != nil {
			return nil, err
		}
		name := child.Name
		if name.Space == "" {
			name.Space = ns.Client
		}
		if name == (xml.Name{Space: ns.Client, Local: "error"}) && h.Err == nil {
			se := &stanza.Error{}
			cstart := toks[0].(xml.StartElement)
			err = marshal.DecodeElement(&sliceReader{toks: toks[1:]}, &cstart, se)
			if err == nil {
				h.Err = se
				continue
			}
			r.logger.WithFields(logrus.Fields{
				"id":    h.ID,
				"kind":  start.Name.Local,
				"error": err,
			}).Debug("provider: keeping unparsable stanza error")
			exts = append(exts, stanza.NewUnparsed(toks, err))
			continue
		}
		exts = append(exts, r.parse(name, toks, h.ID))
	}

	if headerErr != nil {
		return nil, &DecodeError{Name: start.Name, ID: h.ID, Err: headerErr}
	}

	switch start.Name.Local {
	case "message":
		return stanza.NewMessage(h, stanza.MessageType(typ), exts...), nil
	case "presence":
		return stanza.NewPresence(h, stanza.PresenceType(typ), exts...), nil
	}
	return stanza.IQ{Header: h, Type: stanza.IQType(typ)}.With(exts...), nil
}

func (r *Registry) parse(name xml.Name, toks []xml.Token, id string) (ext stanza.Extension) {
	p, ok := r.Lookup(name)
	if !ok {
		return stanza.NewUnparsed(toks, nil)
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"id":    id,
				"local": name.Local,
				"space": name.Space,
				"panic": rec,
			}).Error("provider: recovered from panic in provider")
			ext = stanza.NewUnparsed(toks, fmt.Errorf("provider: panic: %v", rec))
		}
	}()
	start := toks[0].(xml.StartElement)
	ext, err := p.Parse(&sliceReader{toks: toks[1:]}, &start)
	if err == nil && ext == nil {
		err = errors.New("provider: provider returned no extension")
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"id":    id,
			"local": name.Local,
			"space": name.Space,
			"error": err,
		}).Debug("provider: keeping unparsable extension")
		return stanza.NewUnparsed(toks, err)
	}
	return ext
}

// readElement reads the remainder of the element started by start and returns
// all of its tokens, start and end included.
// Comments, processing instructions, and directives are dropped and namespace
// declarations are removed from start elements.
func readElement(r xml.TokenReader, start xml.StartElement) ([]xml.Token, error) {
	start.Attr = attr.StripNS(start.Attr)
	toks := []xml.Token{start.Copy()}
	depth := 1
	for depth > 0 {
		tok, err := r.Token()
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			t.Attr = attr.StripNS(t.Attr)
			toks = append(toks, t.Copy())
		case xml.EndElement:
			depth--
			toks = append(toks, t)
		case xml.CharData:
			toks = append(toks, t.Copy())
		}
	}
	return toks, nil
}

func drain(r xml.TokenReader) error {
	for {
		_, err := r.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type sliceReader struct {
	toks []xml.Token
}

func (s *sliceReader) Token() (xml.Token, error) {
	if len(s.toks) == 0 {
		return nil, io.EOF
	}
	t := s.toks[0]
	s.toks = s.toks[1:]
	return t, nil
}
