// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package provider maps namespaced XML elements to the extension types that
// parse them.
//
// Extension packages register a Provider for each element they understand.
// When a stanza is decoded, each child element is looked up by its qualified
// name and parsed by the matching provider.
// Elements with no provider, or whose provider fails, are kept as
// stanza.Unparsed so that one unknown extension never makes the rest of the
// stanza unusable.
package provider // import "mellium.im/xmppc/provider"

import (
	"encoding/xml"
	"sync"

	"github.com/sirupsen/logrus"

	"mellium.im/xmppc/internal/marshal"
	"mellium.im/xmppc/internal/ns"
	"mellium.im/xmppc/stanza"
)

// Provider parses an extension element.
// The reader yields every token after start up to and including the matching
// end element.
type Provider interface {
	Parse(r xml.TokenReader, start *xml.StartElement) (stanza.Extension, error)
}

// ProviderFunc is an adapter to allow the use of ordinary functions as
// providers.
type ProviderFunc func(r xml.TokenReader, start *xml.StartElement) (stanza.Extension, error)

// Parse calls f(r, start).
func (f ProviderFunc) Parse(r xml.TokenReader, start *xml.StartElement) (stanza.Extension, error) {
	return f(r, start)
}

// Element returns a provider that decodes the element into a new T using the
// encoding/xml package.
// T must be a value type whose pointer can be the target of xml.Unmarshal.
func Element[T stanza.Extension]() Provider {
	return ProviderFunc(func(r xml.TokenReader, start *xml.StartElement) (stanza.Extension, error) {
		var v T
		err := marshal.DecodeElement(r, start, &v)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Registry is a concurrency safe mapping from element names to providers.
// Lookups may happen concurrently with registration.
// The zero value is not usable; use New or NewDefault.
type Registry struct {
	mu     sync.RWMutex
	m      map[xml.Name]Provider
	logger logrus.FieldLogger
}

// Default is the registry used by connections that are not configured with
// their own.
var Default = NewDefault(nil)

// New returns an empty registry.
// If logger is nil the logrus standard logger is used.
func New(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		m:      make(map[xml.Name]Provider),
		logger: logger,
	}
}

// NewDefault returns a registry populated with the providers for the RFC 6121
// message and presence children and delayed delivery.
func NewDefault(logger logrus.FieldLogger) *Registry {
	r := New(logger)
	r.Register(stanza.Body{}.Name(), Element[stanza.Body]())
	r.Register(stanza.Subject{}.Name(), Element[stanza.Subject]())
	r.Register(stanza.Thread{}.Name(), Element[stanza.Thread]())
	r.Register(stanza.Show("").Name(), Element[stanza.Show]())
	r.Register(stanza.Status{}.Name(), Element[stanza.Status]())
	r.Register(stanza.Priority(0).Name(), Element[stanza.Priority]())
	r.Register(stanza.Delay{}.Name(), Element[stanza.Delay]())
	return r
}

// Register adds a provider for elements with the given name.
// If a provider is already registered for the name it is replaced and a
// warning is logged; extensions sometimes replace built in providers on
// purpose, but doing so by accident is a common mistake.
// Register panics if p is nil.
func (r *Registry) Register(name xml.Name, p Provider) {
	if p == nil {
		panic("provider: nil provider for {" + name.Space + "}" + name.Local)
	}
	if name.Space == "" {
		name.Space = ns.Client
	}
	r.mu.Lock()
	_, replaced := r.m[name]
	r.m[name] = p
	r.mu.Unlock()
	if replaced {
		r.logger.WithFields(logrus.Fields{
			"local": name.Local,
			"space": name.Space,
		}).Warn("provider: replaced existing provider")
	}
}

// Lookup returns the provider registered for name, if any.
// Elements without a namespace are looked up in the client namespace.
func (r *Registry) Lookup(name xml.Name) (Provider, bool) {
	if name.Space == "" {
		name.Space = ns.Client
	}
	r.mu.RLock()
	p, ok := r.m[name]
	r.mu.RUnlock()
	return p, ok
}

// Unregister removes the provider for name.
// It is not an error if no provider is registered.
func (r *Registry) Unregister(name xml.Name) {
	if name.Space == "" {
		name.Space = ns.Client
	}
	r.mu.Lock()
	delete(r.m, name)
	r.mu.Unlock()
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
