// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"crypto/tls"
	"encoding/xml"
	"io"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/internal/marshal"
	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stream"
)

// Session is the state of a stream while it is being negotiated.
// Stream features use it to read and write the elements they exchange with the
// server.
// A Session is only valid for the duration of a Negotiate call.
type Session struct {
	raw    io.ReadWriteCloser
	conn   io.ReadWriteCloser
	d      *xml.Decoder
	e      *xml.Encoder
	state  SessionState
	local  jid.JID
	remote jid.JID
	lang   string
	in     stream.Info
	out    stream.Info
	logger logrus.FieldLogger

	// sm is the stream management state of the new session, if enabled.
	// prev is the state of an earlier session that may be resumed.
	sm   *smState
	prev *smState
}

func newSession(rwc io.ReadWriteCloser, cfg Config, prev *smState) *Session {
	s := &Session{
		local:  cfg.Origin,
		remote: cfg.Origin.Domain(),
		lang:   cfg.Lang,
		logger: cfg.Logger,
		prev:   prev,
	}
	s.setTransport(rwc)
	return s
}

func (s *Session) setTransport(rwc io.ReadWriteCloser) {
	s.raw = rwc
	s.conn = trace(rwc, s.logger)
	s.reset()
}

// reset discards any partially read stream so that a new one can be started.
func (s *Session) reset() {
	s.d = xml.NewDecoder(s.conn)
	s.e = xml.NewEncoder(s.conn)
}

// Token satisfies the xml.TokenReader interface.
func (s *Session) Token() (xml.Token, error) {
	return s.d.Token()
}

// EncodeToken satisfies the xmlstream.TokenWriter interface.
func (s *Session) EncodeToken(t xml.Token) error {
	return s.e.EncodeToken(t)
}

// Flush satisfies the xmlstream.Flusher interface.
func (s *Session) Flush() error {
	return s.e.Flush()
}

// Conn returns the transport without any logging applied.
// Features that add a layer to the stream (such as TLS) wrap it and return the
// new transport from Negotiate.
func (s *Session) Conn() io.ReadWriteCloser {
	return s.raw
}

// State returns the session state bits set so far.
func (s *Session) State() SessionState {
	return s.state
}

// LocalAddr returns the address of the client.
// Once a resource is bound it is the full JID assigned by the server.
func (s *Session) LocalAddr() jid.JID {
	return s.local
}

// RemoteAddr returns the address of the server.
func (s *Session) RemoteAddr() jid.JID {
	return s.remote
}

// Logger returns the connection logger.
func (s *Session) Logger() logrus.FieldLogger {
	return s.logger
}

// ConnectionState returns the TLS state of the transport, if it is a TLS
// connection.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	if c, ok := s.raw.(*tls.Conn); ok {
		return c.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Close closes the transport.
func (s *Session) Close() error {
	return s.raw.Close()
}

// NextStart returns the next start element, skipping whitespace.
// A stream error sent by the server is decoded and returned.
func (s *Session) NextStart() (xml.StartElement, error) {
	return nextStart(s.d)
}

func nextStart(r xml.TokenReader) (xml.StartElement, error) {
	for {
		tok, err := r.Token()
		if err == io.EOF {
			return xml.StartElement{}, io.ErrUnexpectedEOF
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name == (xml.Name{Space: stream.NS, Local: "error"}) {
				se := stream.Error{}
				if err := marshal.DecodeElement(r, &t, &se); err != nil {
					return xml.StartElement{}, err
				}
				return xml.StartElement{}, se
			}
			return t, nil
		case xml.EndElement:
			if t.Name == (xml.Name{Space: stream.NS, Local: "stream"}) {
				return xml.StartElement{}, errStreamClosed
			}
			return xml.StartElement{}, stream.BadFormat
		case xml.CharData:
			if !isWhitespace(t) {
				return xml.StartElement{}, stream.BadFormat
			}
		}
	}
}

func (s *Session) sendHeader() error {
	var from jid.JID
	if s.state&Secure == Secure {
		from = s.local.Bare()
	}
	var err error
	s.out, err = intstream.Send(s.conn, s.remote, from, s.lang)
	return err
}

func isWhitespace(c xml.CharData) bool {
	for _, b := range c {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}
