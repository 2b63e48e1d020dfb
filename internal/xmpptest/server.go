// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for XMPP testing.
package xmpptest // import "mellium.im/xmppc/internal/xmpptest"

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"mellium.im/xmppc/compress"
	"mellium.im/xmppc/internal/attr"
	"mellium.im/xmppc/internal/ns"
	intstream "mellium.im/xmppc/internal/stream"
	"mellium.im/xmppc/stream"
)

// Element is a top level element read by the server.
type Element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}

// Attr returns the value of the attribute with the given local name.
func (e Element) Attr(local string) string {
	_, v := attr.Get(e.Attrs, local)
	return v
}

// Decode unmarshals the children of the element into v.
func (e Element) Decode(v interface{}) error {
	b := make([]byte, 0, len(e.Inner)+7)
	b = append(b, "<x>"...)
	b = append(b, e.Inner...)
	b = append(b, "</x>"...)
	return xml.Unmarshal(b, v)
}

// Server is an in memory XMPP server that negotiates client streams.
//
// If TLS is set StartTLS is required before authentication, otherwise SASL
// PLAIN is offered on the plain stream.
// If Compress is set zlib compression is offered after authentication.
// Once a resource is bound every stanza is passed to Handler.
type Server struct {
	Domain   string
	TLS      *tls.Config
	Password string
	SM       bool
	Compress bool

	// Handler is called with each stanza sent by the client.
	// It runs on the goroutine reading the stream, so the server does not read
	// while it blocks.
	Handler func(st *Stream, el Element)

	mu       sync.Mutex
	events   []string
	streams  []*Stream
	sessions map[string]*smSession
}

type smSession struct {
	id string
	h  uint32
}

// Events returns the negotiation steps and stream management requests the
// server has seen, in order.
func (srv *Server) Events() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]string(nil), srv.events...)
}

func (srv *Server) record(format string, v ...interface{}) {
	srv.mu.Lock()
	srv.events = append(srv.events, fmt.Sprintf(format, v...))
	srv.mu.Unlock()
}

// ForgetSessions discards every stream management session so that attempts to
// resume them fail.
func (srv *Server) ForgetSessions() {
	srv.mu.Lock()
	srv.sessions = nil
	srv.mu.Unlock()
}

// Streams returns every client connection accepted so far.
func (srv *Server) Streams() []*Stream {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]*Stream(nil), srv.streams...)
}

// Last returns the most recently accepted connection or nil.
func (srv *Server) Last() *Stream {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.streams) == 0 {
		return nil
	}
	return srv.streams[len(srv.streams)-1]
}

// Dial connects a new client to the server.
// It can be used as the Dial function of a connection config.
func (srv *Server) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if srv.TLS == nil {
		client, server := net.Pipe()
		go srv.serve(server)
		return client, nil
	}
	// TLS handshakes can stall on a synchronous pipe, so use loopback TCP.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		defer close(accepted)
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	var d net.Dialer
	client, err := d.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		return nil, err
	}
	server, ok := <-accepted
	if !ok {
		client.Close()
		return nil, errors.New("xmpptest: accept failed")
	}
	go srv.serve(server)
	return client, nil
}

func (srv *Server) serve(conn net.Conn) {
	st := &Stream{srv: srv, conn: conn, done: make(chan struct{})}
	srv.mu.Lock()
	srv.streams = append(srv.streams, st)
	srv.mu.Unlock()

	err := st.run()
	conn.Close()
	st.mu.Lock()
	st.conn.Close()
	st.err = err
	st.mu.Unlock()
	close(st.done)
}

// Stream is the server side of one client connection.
type Stream struct {
	srv  *Server
	done chan struct{}

	mu   sync.Mutex
	conn io.ReadWriteCloser
	err  error

	user       string
	secure     bool
	authed     bool
	compressed bool
	bound      bool
	sm         *smSession
}

// Send writes raw XML to the client.
func (st *Stream) Send(raw string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, err := io.WriteString(st.conn, raw)
	return err
}

// Close ends the stream from the server side.
func (st *Stream) Close() error {
	return st.Send(intstream.Close)
}

// Kill closes the transport without closing the stream.
func (st *Stream) Kill() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn.Close()
}

// Done is closed once the server stops reading from the connection.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Err returns the error that ended the connection once Done is closed.
// A stream closed by the client results in a nil error.
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *Stream) transport() io.ReadWriteCloser {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn
}

func (st *Stream) run() error {
	for {
		d := xml.NewDecoder(st.transport())
		if err := st.expectHeader(d); err != nil {
			return err
		}
		if err := st.Send(st.header() + st.features()); err != nil {
			return err
		}
		restart, err := st.elements(d)
		if err != nil || !restart {
			return err
		}
	}
}

func (st *Stream) expectHeader(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name != (xml.Name{Space: stream.NS, Local: "stream"}) {
				return fmt.Errorf("xmpptest: expected stream header, got %v", t.Name)
			}
			return nil
		case xml.ProcInst, xml.CharData:
		default:
			return fmt.Errorf("xmpptest: unexpected token %T before stream header", tok)
		}
	}
}

func (st *Stream) header() string {
	return fmt.Sprintf(intstream.XMLHeader+
		`<stream:stream from='%s' id='%s' version='1.0' xmlns='%s' xmlns:stream='%s'>`,
		st.srv.Domain, attr.RandomID(), ns.Client, stream.NS)
}

func (st *Stream) features() string {
	var b bytes.Buffer
	b.WriteString(`<stream:features>`)
	switch {
	case st.srv.TLS != nil && !st.secure:
		fmt.Fprintf(&b, `<starttls xmlns='%s'><required/></starttls>`, ns.StartTLS)
	case !st.authed:
		fmt.Fprintf(&b, `<mechanisms xmlns='%s'><mechanism>PLAIN</mechanism></mechanisms>`, ns.SASL)
	default:
		if st.srv.Compress && !st.compressed {
			fmt.Fprintf(&b, `<compression xmlns='%s'><method>zlib</method></compression>`, ns.CompressFeature)
		}
		fmt.Fprintf(&b, `<bind xmlns='%s'/>`, ns.Bind)
		if st.srv.SM {
			fmt.Fprintf(&b, `<sm xmlns='%s'/>`, ns.SM)
		}
	}
	b.WriteString(`</stream:features>`)
	return b.String()
}

// elements handles top level elements until the stream must be restarted or
// ends.
func (st *Stream) elements(d *xml.Decoder) (restart bool, err error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return false, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			st.Send(intstream.Close)
			return false, nil
		case xml.StartElement:
			var el Element
			if err = d.DecodeElement(&el, &t); err != nil {
				return false, err
			}
			restart, err = st.element(el)
			if err != nil || restart {
				return restart, err
			}
		}
	}
}

func (st *Stream) element(el Element) (restart bool, err error) {
	srv := st.srv
	switch el.XMLName.Space {
	case ns.StartTLS:
		srv.record("starttls")
		if err = st.Send(fmt.Sprintf(`<proceed xmlns='%s'/>`, ns.StartTLS)); err != nil {
			return false, err
		}
		conn, ok := st.transport().(net.Conn)
		if !ok {
			return false, errors.New("xmpptest: cannot start tls on a compressed stream")
		}
		tlsConn := tls.Server(conn, srv.TLS)
		if err = tlsConn.Handshake(); err != nil {
			return false, err
		}
		st.mu.Lock()
		st.conn = tlsConn
		st.mu.Unlock()
		st.secure = true
		return true, nil
	case ns.SASL:
		srv.record("auth %s", el.Attr("mechanism"))
		user, ok := st.srv.checkPlain(el)
		if !ok {
			return false, st.Send(fmt.Sprintf(`<failure xmlns='%s'><not-authorized/></failure>`, ns.SASL))
		}
		st.user = user
		st.authed = true
		return true, st.Send(fmt.Sprintf(`<success xmlns='%s'/>`, ns.SASL))
	case ns.SM:
		return false, st.streamManagement(el)
	case ns.CompressProtocol:
		return st.compress(el)
	}

	if el.XMLName.Local == "iq" && !st.bound {
		var req struct {
			Bind *struct {
				Resource string `xml:"resource"`
			} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
		}
		if err = el.Decode(&req); err == nil && req.Bind != nil {
			return false, st.bind(el.Attr("id"), req.Bind.Resource)
		}
	}

	srv.mu.Lock()
	if st.sm != nil {
		st.sm.h++
	}
	srv.mu.Unlock()
	if srv.Handler != nil {
		srv.Handler(st, el)
	}
	return false, nil
}

func (st *Stream) compress(el Element) (restart bool, err error) {
	var req struct {
		Method string `xml:"method"`
	}
	if err = el.Decode(&req); err != nil {
		return false, err
	}
	st.srv.record("compress %s", req.Method)
	if req.Method != compress.ZLIB.Name {
		return false, st.Send(fmt.Sprintf(`<failure xmlns='%s'><unsupported-method/></failure>`, ns.CompressProtocol))
	}
	if err = st.Send(fmt.Sprintf(`<compressed xmlns='%s'/>`, ns.CompressProtocol)); err != nil {
		return false, err
	}
	rwc, err := compress.ZLIB.Wrapper(st.transport())
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	st.conn = rwc
	st.mu.Unlock()
	st.compressed = true
	return true, nil
}

func (srv *Server) checkPlain(el Element) (string, bool) {
	if el.Attr("mechanism") != "PLAIN" {
		return "", false
	}
	b, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(el.Inner)))
	if err != nil {
		return "", false
	}
	parts := bytes.Split(b, []byte{0})
	if len(parts) != 3 || len(parts[1]) == 0 {
		return "", false
	}
	if srv.Password != "" && string(parts[2]) != srv.Password {
		return "", false
	}
	return string(parts[1]), true
}

func (st *Stream) bind(id, resource string) error {
	if resource == "" {
		resource = "xmpptest"
	}
	st.srv.record("bind %s", resource)
	st.bound = true
	return st.Send(fmt.Sprintf(
		`<iq type='result' id='%s'><bind xmlns='%s'><jid>%s@%s/%s</jid></bind></iq>`,
		id, ns.Bind, st.user, st.srv.Domain, resource))
}

func (st *Stream) streamManagement(el Element) error {
	srv := st.srv
	switch el.XMLName.Local {
	case "enable":
		srv.record("enable")
		sess := &smSession{id: attr.RandomID()}
		srv.mu.Lock()
		if srv.sessions == nil {
			srv.sessions = make(map[string]*smSession)
		}
		srv.sessions[sess.id] = sess
		st.sm = sess
		srv.mu.Unlock()
		return st.Send(fmt.Sprintf(`<enabled xmlns='%s' id='%s' resume='%s'/>`, ns.SM, sess.id, el.Attr("resume")))
	case "resume":
		srv.record("resume")
		srv.mu.Lock()
		sess, ok := srv.sessions[el.Attr("previd")]
		h := uint32(0)
		if ok {
			h = sess.h
			st.sm = sess
		}
		srv.mu.Unlock()
		if !ok {
			return st.Send(fmt.Sprintf(`<failed xmlns='%s'><item-not-found xmlns='%s'/></failed>`, ns.SM, ns.Stanza))
		}
		st.bound = true
		return st.Send(fmt.Sprintf(`<resumed xmlns='%s' h='%d' previd='%s'/>`, ns.SM, h, sess.id))
	case "r":
		srv.record("r")
		return st.Ack()
	case "a":
		srv.record("a %s", el.Attr("h"))
	}
	return nil
}

// Handled returns the number of stanzas the server has received in the stream
// management session of st, or 0 if it is not enabled.
func (st *Stream) Handled() uint32 {
	st.srv.mu.Lock()
	defer st.srv.mu.Unlock()
	if st.sm == nil {
		return 0
	}
	return st.sm.h
}

// Ack sends an ack for every stanza received so far.
func (st *Stream) Ack() error {
	return st.Send(fmt.Sprintf(`<a xmlns='%s' h='%d'/>`, ns.SM, st.Handled()))
}
