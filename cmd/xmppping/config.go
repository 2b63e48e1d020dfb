// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"

	"mellium.im/xmppc"
	"mellium.im/xmppc/jid"
)

/* #nosec */
const (
	envAddr = "XMPP_ADDR"
	envPass = "XMPP_PASS"
)

// config is the contents of the configuration file.
type config struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Server   string        `yaml:"server"`
	Proxy    string        `yaml:"proxy"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	Count    int           `yaml:"count"`
	LogLevel string        `yaml:"log_level"`
	Metrics  string        `yaml:"metrics"`
}

func defaultConfig() config {
	return config{
		Timeout:  5 * time.Second,
		Interval: time.Second,
		Count:    4,
		LogLevel: "info",
	}
}

// decodeConfig reads a YAML configuration on top of the defaults.
// Unknown keys are an error so that typos do not go unnoticed.
func decodeConfig(r io.Reader) (config, error) {
	cfg := defaultConfig()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	switch err := d.Decode(&cfg); {
	case errors.Is(err, io.EOF):
	case err != nil:
		return cfg, fmt.Errorf("error decoding config: %w", err)
	}
	return cfg, nil
}

func loadConfig(path string) (config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	/* #nosec */
	f, err := os.Open(path)
	if err != nil {
		return config{}, err
	}
	defer f.Close()
	return decodeConfig(f)
}

// fromEnv fills the address and password from the environment if they were not
// set in the config file.
func (c *config) fromEnv() {
	if c.Address == "" {
		c.Address = os.Getenv(envAddr)
	}
	if c.Password == "" {
		c.Password = os.Getenv(envPass)
	}
}

func (c config) validate() (jid.JID, logrus.Level, error) {
	if c.Address == "" {
		return jid.JID{}, 0, fmt.Errorf("address not specified, set it in the config file or in $%s", envAddr)
	}
	addr, err := jid.Parse(c.Address)
	if err != nil {
		return jid.JID{}, 0, fmt.Errorf("error parsing address %q: %w", c.Address, err)
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return jid.JID{}, 0, err
	}
	if c.Count < 0 {
		return jid.JID{}, 0, fmt.Errorf("invalid count %d", c.Count)
	}
	return addr, level, nil
}

// dialer returns the function used to open the transport.
// If no server is configured the standard client port on the domain of addr is
// used.
func (c config) dialer(addr jid.JID) (func(ctx context.Context) (io.ReadWriteCloser, error), error) {
	server := c.Server
	if server == "" {
		server = net.JoinHostPort(addr.Domainpart(), "5222")
	}
	if c.Proxy == "" {
		return xmppc.DialTCP(server), nil
	}
	d, err := proxy.SOCKS5("tcp", c.Proxy, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		type result struct {
			conn net.Conn
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			conn, err := d.Dial("tcp", server)
			ch <- result{conn: conn, err: err}
		}()
		select {
		case r := <-ch:
			return r.conn, r.err
		case <-ctx.Done():
			go func() {
				if r := <-ch; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}, nil
}
