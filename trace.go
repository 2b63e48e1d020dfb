// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppc

import (
	"io"

	"github.com/sirupsen/logrus"
)

// traceConn logs the raw bytes that cross the transport.
type traceConn struct {
	io.ReadWriteCloser
	in, out *logrus.Entry
}

func (t traceConn) Read(p []byte) (int, error) {
	n, err := t.ReadWriteCloser.Read(p)
	if n > 0 {
		t.in.Trace(string(p[:n]))
	}
	return n, err
}

func (t traceConn) Write(p []byte) (int, error) {
	n, err := t.ReadWriteCloser.Write(p)
	if n > 0 {
		t.out.Trace(string(p[:n]))
	}
	return n, err
}

func traceEnabled(l logrus.FieldLogger) bool {
	switch logger := l.(type) {
	case *logrus.Logger:
		return logger.IsLevelEnabled(logrus.TraceLevel)
	case *logrus.Entry:
		return logger.Logger != nil && logger.Logger.IsLevelEnabled(logrus.TraceLevel)
	}
	return false
}

// trace wraps rwc so that traffic is logged when l is at trace level.
func trace(rwc io.ReadWriteCloser, l logrus.FieldLogger) io.ReadWriteCloser {
	if !traceEnabled(l) {
		return rwc
	}
	return traceConn{
		ReadWriteCloser: rwc,
		in:              l.WithField("dir", "in"),
		out:             l.WithField("dir", "out"),
	}
}
