// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package compress

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// ZLIB implements stream compression using the zlib format.
// It is always offered by features created with New.
// Every write is flushed so that each stanza reaches the peer as soon as it is
// written.
var ZLIB = Method{Name: "zlib", Wrapper: newZlib}

// Method is a stream compression method.
// Custom methods may be defined, but generally speaking the only supported
// methods will be those with names defined in the "Stream Compression Methods
// Registry" maintained by the XSF Editor:
// https://xmpp.org/registrar/compress.html
//
// Closing the transport returned by Wrapper also closes the one it wraps.
type Method struct {
	Name    string
	Wrapper func(io.ReadWriteCloser) (io.ReadWriteCloser, error)
}

type multiCloser []io.Closer

// Close calls every close method in the multiCloser and returns the last
// error, if any.
func (mc multiCloser) Close() (err error) {
	for _, c := range mc {
		if e := c.Close(); e != nil {
			err = e
		}
	}
	return err
}

// delayedReader creates its reader on the first read.
// Decompressing readers read header data from the connection as soon as they
// are created, but a client must send its new stream header before the server
// writes anything.
type delayedReader struct {
	mu     sync.Mutex
	raw    io.Reader
	create func(io.Reader) (io.ReadCloser, error)
	r      io.ReadCloser
}

func (d *delayedReader) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.r == nil {
		r, err := d.create(d.raw)
		if err != nil {
			d.mu.Unlock()
			return 0, err
		}
		d.r = r
	}
	r := d.r
	d.mu.Unlock()
	return r.Read(p)
}

func (d *delayedReader) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.r == nil {
		return nil
	}
	return d.r.Close()
}

// flushWriter flushes after every write so that each stanza is sent as soon as
// it is written.
type flushWriter struct {
	mu sync.Mutex
	w  interface {
		io.WriteCloser
		Flush() error
	}
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}

func (f *flushWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w.Close()
}

// compressedConn closes the transport before the compressors, which may write
// trailing data when closed.
type compressedConn struct {
	io.Reader
	io.Writer
	io.Closer
}

func newZlib(rwc io.ReadWriteCloser) (io.ReadWriteCloser, error) {
	r := &delayedReader{
		raw: rwc,
		create: func(r io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		},
	}
	w := &flushWriter{w: zlib.NewWriter(rwc)}
	return compressedConn{
		Reader: r,
		Writer: w,
		Closer: multiCloser{rwc, r, w},
	}, nil
}
