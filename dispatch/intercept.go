// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package dispatch

import (
	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/filter"
	"mellium.im/xmppc/stanza"
)

// Interceptor may replace an outgoing stanza before it is sent.
// Stanzas are values, so an interceptor returns a modified copy.
// Returning nil leaves the stanza unchanged.
type Interceptor interface {
	Intercept(s stanza.Stanza) stanza.Stanza
}

// InterceptorFunc is an adapter to allow the use of ordinary functions as
// interceptors.
type InterceptorFunc func(s stanza.Stanza) stanza.Stanza

// Intercept calls f(s).
func (f InterceptorFunc) Intercept(s stanza.Stanza) stanza.Stanza {
	return f(s)
}

type interceptor struct {
	id Handle
	f  filter.Filter
	i  Interceptor
}

// AddInterceptor registers i to be applied to stanzas matching f.
// A nil filter matches every stanza.
func (d *Dispatcher) AddInterceptor(f filter.Filter, i Interceptor) Handle {
	if f == nil {
		f = filter.All
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	ic := &interceptor{id: d.next, f: f, i: i}
	interceptors := make([]*interceptor, 0, len(d.interceptors)+1)
	interceptors = append(interceptors, d.interceptors...)
	d.interceptors = append(interceptors, ic)
	return ic.id
}

// RemoveInterceptor unregisters the interceptor identified by h and reports
// whether it was found.
func (d *Dispatcher) RemoveInterceptor(h Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, ic := range d.interceptors {
		if ic.id != h {
			continue
		}
		interceptors := make([]*interceptor, 0, len(d.interceptors)-1)
		interceptors = append(interceptors, d.interceptors[:i]...)
		d.interceptors = append(interceptors, d.interceptors[i+1:]...)
		return true
	}
	return false
}

// Intercept applies the matching interceptors to s in registration order and
// returns the result.
// Each interceptor is matched against the stanza returned by the one before
// it.
// After Close, s is returned unchanged.
func (d *Dispatcher) Intercept(s stanza.Stanza) stanza.Stanza {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return s
	}
	interceptors := d.interceptors
	d.mu.RUnlock()

	for _, ic := range interceptors {
		if d.match(ic.f, s) {
			s = d.intercept(ic.i, s)
		}
	}
	return s
}

func (d *Dispatcher) intercept(i Interceptor, s stanza.Stanza) (out stanza.Stanza) {
	out = s
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"kind":  s.Kind(),
				"id":    s.StanzaHeader().ID,
				"panic": r,
			}).Error("dispatch: recovered from panic in interceptor")
			out = s
		}
	}()
	if replaced := i.Intercept(s); replaced != nil {
		out = replaced
	}
	return out
}
