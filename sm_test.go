// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"mellium.im/xmppc"
	"mellium.im/xmppc/internal/xmpptest"
)

func smFeatures(resume bool) []xmppc.StreamFeature {
	return []xmppc.StreamFeature{
		xmpptest.InsecurePlain(""),
		xmppc.Resume(),
		xmppc.BindResource(),
		xmppc.StreamManagement(resume),
	}
}

func waitEvent(t *testing.T, srv *xmpptest.Server, event string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range srv.Events() {
			if e == event {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for server event %q, got %q", event, srv.Events())
}

func TestStreamManagementAckRequest(t *testing.T) {
	srv := &xmpptest.Server{SM: true}
	c, _ := newConn(t, srv, xmppc.Config{Features: smFeatures(false)})
	connect(t, c)
	waitEvent(t, srv, "enable")

	for i := 0; i < 5; i++ {
		if err := c.Send(context.Background(), message(strconv.Itoa(i), "hi")); err != nil {
			t.Fatalf("error sending: %v", err)
		}
	}
	waitEvent(t, srv, "r")
	if h := srv.Last().Handled(); h != 5 {
		t.Errorf("wrong server count: want=5, got=%d", h)
	}
}

func TestStreamManagementAnswersRequests(t *testing.T) {
	srv := &xmpptest.Server{SM: true}
	c, _ := newConn(t, srv, xmppc.Config{Features: smFeatures(false)})
	connect(t, c)

	st := srv.Last()
	for i := 0; i < 3; i++ {
		if err := st.Send(`<message type='chat' id='m` + strconv.Itoa(i) + `'><body>hi</body></message>`); err != nil {
			t.Fatalf("error sending message: %v", err)
		}
	}
	if err := st.Send(`<r xmlns='urn:xmpp:sm:3'/>`); err != nil {
		t.Fatalf("error requesting ack: %v", err)
	}
	waitEvent(t, srv, "a 3")
}

func TestResume(t *testing.T) {
	release := make(chan struct{})
	ids := make(chan string, 8)
	var once sync.Once
	srv := &xmpptest.Server{
		SM: true,
		Handler: func(st *xmpptest.Stream, el xmpptest.Element) {
			ids <- el.Attr("id")
			if el.Attr("id") == "m1" {
				once.Do(func() {
					<-release
					st.Kill()
				})
			}
		},
	}
	c, states := newConn(t, srv, xmppc.Config{Features: smFeatures(true)})
	connect(t, c)

	// m2 is queued or being written when the transport is lost, so the server
	// never acknowledges it.
	for _, id := range []string{"m1", "m2"} {
		if err := c.Send(context.Background(), message(id, "hi")); err != nil {
			t.Fatalf("error sending %s: %v", id, err)
		}
	}
	close(release)
	waitState(t, states, xmppc.Error)

	connect(t, c)
	if local := c.LocalAddr(); !local.Equal(testOrigin) {
		t.Errorf("wrong local address after resume: want=%v, got=%v", testOrigin, local)
	}
	waitEvent(t, srv, "resume")
	if n := countEvents(srv, "bind res1"); n != 1 {
		t.Errorf("expected resumed session not to bind again, got %d binds", n)
	}

	var got []string
	for len(got) < 2 {
		select {
		case id := <-ids:
			got = append(got, id)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for stanzas, got %q", got)
		}
	}
	if got[0] != "m1" || got[1] != "m2" {
		t.Errorf("wrong stanzas: want=[m1 m2], got=%q", got)
	}
	select {
	case id := <-ids:
		t.Errorf("unexpected stanza sent again: %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResumeFailedBinds(t *testing.T) {
	srv := &xmpptest.Server{SM: true}
	c, states := newConn(t, srv, xmppc.Config{Features: smFeatures(true)})
	connect(t, c)
	waitEvent(t, srv, "enable")

	if err := srv.Last().Kill(); err != nil {
		t.Fatalf("error closing transport: %v", err)
	}
	waitState(t, states, xmppc.Error)
	srv.ForgetSessions()

	connect(t, c)
	if n := countEvents(srv, "bind res1"); n != 2 {
		t.Errorf("expected a new resource to be bound, got %d binds", n)
	}
	if n := countEvents(srv, "enable"); n != 2 {
		t.Errorf("expected stream management to be enabled again, got %d", n)
	}
}

func TestDisconnectDoesNotResume(t *testing.T) {
	srv := &xmpptest.Server{SM: true}
	c, _ := newConn(t, srv, xmppc.Config{Features: smFeatures(true)})
	connect(t, c)
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("error disconnecting: %v", err)
	}
	connect(t, c)
	if n := countEvents(srv, "resume"); n != 0 {
		t.Errorf("expected a cleanly closed session not to be resumed")
	}
}

func countEvents(srv *xmpptest.Server, event string) int {
	n := 0
	for _, e := range srv.Events() {
		if e == event {
			n++
		}
	}
	return n
}
