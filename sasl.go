// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"

	"mellium.im/sasl"
	"mellium.im/xmlstream"

	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/internal/saslerr"
	"mellium.im/xmppc/stream"
)

var errNoMechanism = errors.New("xmppc: no matching sasl mechanism found")

// SASL returns a stream feature for performing authentication using the Simple
// Authentication and Security Layer (SASL) as defined in RFC 4422. It panics if
// no mechanisms are specified. The order in which mechanisms are specified will
// be the preferred order, so stronger mechanisms should be listed first.
//
// The username is the localpart of the session's address.
// Identity is used to authorize as another user and is normally empty.
//
// If the server rejects the credentials the error is a saslerr.Failure.
func SASL(identity, password string, mechanisms ...sasl.Mechanism) StreamFeature {
	if len(mechanisms) == 0 {
		panic("xmppc: must specify at least 1 SASL mechanism")
	}
	return StreamFeature{
		Name:       xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Step:       StepSASL,
		Necessary:  Secure,
		Prohibited: Authn,
		Parse: func(ctx context.Context, r xml.TokenReader, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
				List    []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
			}{}
			err := xml.NewTokenDecoder(r).DecodeElement(&parsed, start)
			return true, parsed.List, err
		},
		Negotiate: func(ctx context.Context, session *Session, data interface{}) (SessionState, io.ReadWriteCloser, error) {
			remote, _ := data.([]string)

			// Select a mechanism, preferring the client order.
			var selected sasl.Mechanism
		selectmechanism:
			for _, m := range mechanisms {
				for _, name := range remote {
					if name == m.Name {
						selected = m
						break selectmechanism
					}
				}
			}
			if selected.Name == "" {
				return 0, nil, errNoMechanism
			}

			opts := []sasl.Option{
				sasl.Credentials(func() ([]byte, []byte, []byte) {
					return []byte(session.LocalAddr().Localpart()), []byte(password), []byte(identity)
				}),
				sasl.RemoteMechanisms(remote...),
			}
			if connState, ok := session.ConnectionState(); ok {
				opts = append(opts, sasl.TLSState(connState))
			}
			client := sasl.NewClient(selected, opts...)

			more, resp, err := client.Step(nil)
			if err != nil {
				return 0, nil, err
			}
			auth := xml.StartElement{
				Name: xml.Name{Space: ns.SASL, Local: "auth"},
				Attr: []xml.Attr{{Name: xml.Name{Local: "mechanism"}, Value: selected.Name}},
			}
			if err = sendSASL(session, auth, resp); err != nil {
				return 0, nil, err
			}

			for {
				start, err := session.NextStart()
				if err != nil {
					return 0, nil, err
				}
				payload, success, err := decodeSASLChallenge(session, start)
				if err != nil {
					return 0, nil, err
				}
				if success {
					// Additional data with success is verified by the mechanism (eg. the
					// server signature of SCRAM).
					if more && len(payload) > 0 {
						if _, _, err = client.Step(payload); err != nil {
							return 0, nil, err
						}
					}
					session.logger.WithField("mechanism", selected.Name).Debug("xmppc: authenticated")
					return Authn | StreamRestartRequired, nil, nil
				}
				if more, resp, err = client.Step(payload); err != nil {
					return 0, nil, err
				}
				response := xml.StartElement{Name: xml.Name{Space: ns.SASL, Local: "response"}}
				if err = sendSASL(session, response, resp); err != nil {
					return 0, nil, err
				}
			}
		},
	}
}

// sendSASL writes start with the base64 encoded payload.
// RFC 6120 §6.4.2:
//
//	If the initiating entity needs to send a zero-length initial response, it
//	MUST transmit the response as a single equals sign character ("="),
//	which indicates that the response is present but contains no data.
func sendSASL(session *Session, start xml.StartElement, payload []byte) error {
	var encoded string
	if len(payload) == 0 {
		encoded = "="
	} else {
		encoded = base64.StdEncoding.EncodeToString(payload)
	}
	_, err := xmlstream.Copy(session, xmlstream.Wrap(
		xmlstream.Token(xml.CharData(encoded)),
		start,
	))
	if err != nil {
		return err
	}
	return session.Flush()
}

func decodeSASLChallenge(r xml.TokenReader, start xml.StartElement) (payload []byte, success bool, err error) {
	switch start.Name {
	case xml.Name{Space: ns.SASL, Local: "challenge"}, xml.Name{Space: ns.SASL, Local: "success"}:
		challenge := struct {
			Data string `xml:",chardata"`
		}{}
		if err = marshal.DecodeElement(r, &start, &challenge); err != nil {
			return nil, false, err
		}
		if challenge.Data != "" && challenge.Data != "=" {
			if payload, err = base64.StdEncoding.DecodeString(challenge.Data); err != nil {
				return nil, false, err
			}
		}
		return payload, start.Name.Local == "success", nil
	case xml.Name{Space: ns.SASL, Local: "failure"}:
		fail := saslerr.Failure{}
		if err = marshal.DecodeElement(r, &start, &fail); err != nil {
			return nil, false, err
		}
		return nil, false, fail
	default:
		return nil, false, stream.UnsupportedStanzaType
	}
}
