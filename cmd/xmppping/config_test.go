// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var decodeConfigTestCases = [...]struct {
	in  string
	out config
	err bool
}{
	0: {out: defaultConfig()},
	1: {
		in: `
address: me@example.net
password: secret
server: xmpp.example.net:5223
timeout: 2s
interval: 500ms
count: 10
log_level: debug
metrics: 127.0.0.1:9090
`,
		out: config{
			Address:  "me@example.net",
			Password: "secret",
			Server:   "xmpp.example.net:5223",
			Timeout:  2 * time.Second,
			Interval: 500 * time.Millisecond,
			Count:    10,
			LogLevel: "debug",
			Metrics:  "127.0.0.1:9090",
		},
	},
	2: {
		in: "address: me@example.net\n",
		out: func() config {
			c := defaultConfig()
			c.Address = "me@example.net"
			return c
		}(),
	},
	3: {in: "adress: me@example.net\n", err: true},
	4: {in: "timeout: soon\n", err: true},
}

func TestDecodeConfig(t *testing.T) {
	for i, tc := range decodeConfigTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			cfg, err := decodeConfig(strings.NewReader(tc.in))
			switch {
			case tc.err && err == nil:
				t.Fatalf("expected error")
			case !tc.err && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tc.err:
				return
			}
			if cfg != tc.out {
				t.Errorf("wrong config:\nwant=%+v\ngot=%+v", tc.out, cfg)
			}
		})
	}
}

var validateTestCases = [...]struct {
	cfg   config
	level logrus.Level
	err   bool
}{
	0: {cfg: config{LogLevel: "info"}, err: true},
	1: {cfg: config{Address: "me@example.net", LogLevel: "warn"}, level: logrus.WarnLevel},
	2: {cfg: config{Address: "me@example.net", LogLevel: "loud"}, err: true},
	3: {cfg: config{Address: "@example.net", LogLevel: "info"}, err: true},
	4: {cfg: config{Address: "me@example.net", LogLevel: "info", Count: -1}, err: true},
}

func TestValidate(t *testing.T) {
	for i, tc := range validateTestCases {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			addr, level, err := tc.cfg.validate()
			if tc.err {
				if err == nil {
					t.Errorf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr.String() != tc.cfg.Address {
				t.Errorf("wrong address: want=%s, got=%s", tc.cfg.Address, addr)
			}
			if level != tc.level {
				t.Errorf("wrong level: want=%v, got=%v", tc.level, level)
			}
		})
	}
}

func TestDialerServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("error listening: %v", err)
	}
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	cfg := config{Server: ln.Addr().String()}
	addr, _, _ := config{Address: "me@example.net", LogLevel: "info"}.validate()
	dial, err := cfg.dialer(addr)
	if err != nil {
		t.Fatalf("error creating dialer: %v", err)
	}
	conn, err := dial(context.Background())
	if err != nil {
		t.Fatalf("error dialing: %v", err)
	}
	conn.Close()
}
