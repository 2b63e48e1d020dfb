// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package compress_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"mellium.im/xmppc"
	"mellium.im/xmppc/compress"
	"mellium.im/xmppc/internal/xmpptest"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stanza"
)

func TestZlibRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	client, err := compress.ZLIB.Wrapper(a)
	if err != nil {
		t.Fatalf("error wrapping client: %v", err)
	}
	server, err := compress.ZLIB.Wrapper(b)
	if err != nil {
		t.Fatalf("error wrapping server: %v", err)
	}
	defer client.Close()
	defer server.Close()

	const msg = `<message><body>hello</body></message>`
	errs := make(chan error, 1)
	go func() {
		_, err := io.WriteString(client, msg)
		errs <- err
	}()
	buf := make([]byte, len(msg))
	if _, err = io.ReadFull(server, buf); err != nil {
		t.Fatalf("error reading: %v", err)
	}
	if err = <-errs; err != nil {
		t.Fatalf("error writing: %v", err)
	}
	if string(buf) != msg {
		t.Errorf("wrong data: want=%s, got=%s", msg, buf)
	}
}

func TestNegotiate(t *testing.T) {
	received := make(chan string, 1)
	srv := &xmpptest.Server{
		Domain:   "example.net",
		Compress: true,
		Handler: func(st *xmpptest.Stream, el xmpptest.Element) {
			received <- el.Attr("id")
		},
	}
	logger, _ := logtest.NewNullLogger()
	c, err := xmppc.NewConn(xmppc.Config{
		Origin: jid.MustParse("me@example.net"),
		Dial:   srv.Dial,
		Logger: logger,
		Features: []xmppc.StreamFeature{
			xmpptest.InsecurePlain(""),
			// The server does not offer the custom method, so zlib is used.
			compress.New(compress.Method{Name: "x-custom", Wrapper: compress.ZLIB.Wrapper}),
			xmppc.BindResource(),
		},
	})
	if err != nil {
		t.Fatalf("error creating connection: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = c.Connect(ctx); err != nil {
		t.Fatalf("error connecting: %v", err)
	}
	found := false
	for _, e := range srv.Events() {
		if e == "compress zlib" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected zlib to be negotiated, got events %q", srv.Events())
	}

	msg := stanza.NewMessage(stanza.Header{ID: "z1", To: jid.MustParse("you@example.net")}, stanza.ChatMessage, stanza.Body{Text: "squeeze"})
	if err = c.Send(ctx, msg); err != nil {
		t.Fatalf("error sending: %v", err)
	}
	select {
	case id := <-received:
		if id != "z1" {
			t.Errorf("wrong stanza received: want=z1, got=%s", id)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for the server")
	}
	if err = c.Disconnect(ctx); err != nil {
		t.Errorf("error disconnecting: %v", err)
	}
}
