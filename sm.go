// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/attr"
	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/stream"
)

// smAckInterval is the number of unacknowledged stanzas after which an ack is
// requested from the server.
const smAckInterval = 5

var errResumeFailed = errors.New("xmppc: server could not resume the session")

// smState is the stream management state of a session (XEP-0198).
// It outlives the stream so that the session can be resumed.
type smState struct {
	mu      sync.Mutex
	id      string
	resume  bool
	local   jid.JID
	inbound uint32
	acked   uint32
	unacked [][]byte
}

// handled counts a stanza received from the server.
func (s *smState) handled() {
	s.mu.Lock()
	s.inbound++
	s.mu.Unlock()
}

func (s *smState) h() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inbound
}

// sent records a stanza written to the server and returns the number of
// stanzas that have not yet been acknowledged.
func (s *smState) sent(b []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unacked = append(s.unacked, b)
	return len(s.unacked)
}

// ack drops the stanzas acknowledged by a server count of h.
// Counts wrap at 2^32.
func (s *smState) ack(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(h - s.acked)
	if n > len(s.unacked) {
		n = len(s.unacked)
	}
	for i := 0; i < n; i++ {
		s.unacked[i] = nil
	}
	s.unacked = s.unacked[n:]
	s.acked = h
}

// pending returns the stanzas that have not been acknowledged.
func (s *smState) pending() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.unacked))
	copy(out, s.unacked)
	return out
}

func (s *smState) resumable() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume && s.id != ""
}

func smStart(local string, attrs ...xml.Attr) xml.StartElement {
	return xml.StartElement{Name: xml.Name{Space: ns.SM, Local: local}, Attr: attrs}
}

func hAttr(h uint32) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: "h"}, Value: strconv.FormatUint(uint64(h), 10)}
}

// smElement is an empty stream management element.
type smElement xml.StartElement

func (e smElement) TokenReader() xml.TokenReader {
	return xmlstream.Wrap(nil, xml.StartElement(e))
}

// ackBytes returns an answer to an ack request.
func ackBytes(h uint32) ([]byte, error) {
	return marshal.Bytes(smElement(smStart("a", hAttr(h))))
}

// requestBytes returns an ack request.
func requestBytes() ([]byte, error) {
	return marshal.Bytes(smElement(smStart("r")))
}

func parseH(start xml.StartElement) (uint32, error) {
	_, v := attr.Get(start.Attr, "h")
	h, err := strconv.ParseUint(v, 10, 32)
	return uint32(h), err
}

// StreamManagement returns a stream feature that enables XEP-0198 stream
// management after a resource is bound.
// If resume is true the server is asked to allow resuming the session when the
// connection is lost; see Resume.
func StreamManagement(resume bool) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SM, Local: "sm"},
		Step:       StepSM,
		Necessary:  BoundResource,
		Prohibited: SMEnabled,
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (SessionState, io.ReadWriteCloser, error) {
			var attrs []xml.Attr
			if resume {
				attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "resume"}, Value: "true"})
			}
			if err := writeElement(session, smStart("enable", attrs...)); err != nil {
				return 0, nil, err
			}
			start, err := session.NextStart()
			if err != nil {
				return 0, nil, err
			}
			if err = xmlstream.Skip(session); err != nil {
				return 0, nil, err
			}
			switch start.Name {
			case xml.Name{Space: ns.SM, Local: "enabled"}:
			case xml.Name{Space: ns.SM, Local: "failed"}:
				session.logger.Warn("xmppc: server refused to enable stream management")
				return 0, nil, nil
			default:
				return 0, nil, stream.UnsupportedStanzaType
			}
			_, id := attr.Get(start.Attr, "id")
			_, canResume := attr.Get(start.Attr, "resume")
			session.sm = &smState{
				id:     id,
				resume: canResume == "true" || canResume == "1",
				local:  session.local,
			}
			session.logger.WithFields(logrus.Fields{
				"id":     id,
				"resume": session.sm.resume,
			}).Debug("xmppc: stream management enabled")
			return SMEnabled, nil, nil
		},
	}
}

// Resume returns a stream feature that resumes the previous session of the
// connection instead of binding a new resource.
// It must be listed before BindResource.
// When there is no previous session that can be resumed, or the server
// refuses to resume it, the feature is skipped and a resource is bound as
// usual.
// After a successful resume, stanzas that the server did not acknowledge are
// sent again.
func Resume() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.SM, Local: "sm"},
		Step:       StepResume,
		Necessary:  Authn,
		Prohibited: BoundResource,
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (SessionState, io.ReadWriteCloser, error) {
			prev := session.prev
			if !prev.resumable() {
				return 0, nil, nil
			}
			prev.mu.Lock()
			previd := prev.id
			prev.mu.Unlock()
			start := smStart("resume", hAttr(prev.h()), xml.Attr{Name: xml.Name{Local: "previd"}, Value: previd})
			if err := writeElement(session, start); err != nil {
				return 0, nil, err
			}

			resp, err := session.NextStart()
			if err != nil {
				return 0, nil, err
			}
			if err = xmlstream.Skip(session); err != nil {
				return 0, nil, err
			}
			switch resp.Name {
			case xml.Name{Space: ns.SM, Local: "resumed"}:
			case xml.Name{Space: ns.SM, Local: "failed"}:
				lost := len(prev.pending())
				session.prev = nil
				session.logger.WithFields(logrus.Fields{
					"id":   previd,
					"lost": lost,
				}).Warn("xmppc: session could not be resumed")
				return 0, nil, nil
			default:
				return 0, nil, stream.UnsupportedStanzaType
			}
			h, err := parseH(resp)
			if err != nil {
				return 0, nil, errResumeFailed
			}
			prev.ack(h)
			session.sm = prev
			session.local = prev.local
			session.logger.WithField("id", previd).Debug("xmppc: session resumed")
			return BoundResource | Resumed | SMEnabled | Ready, nil, nil
		},
	}
}

func writeElement(session *Session, start xml.StartElement) error {
	return marshal.EncodeXML(session, smElement(start))
}
