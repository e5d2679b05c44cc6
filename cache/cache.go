// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cache tracks the live server-side handles of a session and
// the proxy bound to each. The registry is owned by the session; all
// change and close events are published by the session, never from
// here, so there is a single ordering authority.
package cache

import (
	"encoding/json"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/enginerpc/proxy"
)

// Entry associates a live handle with its proxy object.
type Entry struct {
	Handle      int
	Type        string
	GenericType string

	// ID is the server-side object identity, stable across handles.
	// It is what reattachment resolves on resume.
	ID string

	// API is the proxy bound to the handle.
	API *proxy.Object
}

// Registry maps handles to entries. At most one entry exists per live
// handle; iteration follows insertion order.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*Entry
	order   []int

	// patchees holds the last full payload per (handle, method), the
	// base documents that delta-encoded results patch against.
	patchees map[int]map[string]json.RawMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[int]*Entry),
		patchees: make(map[int]map[string]json.RawMessage),
	}
}

// Add inserts entry, replacing any existing entry with the same handle.
// Replacement keeps the original iteration position and emits nothing;
// collisions are the caller's business.
func (r *Registry) Add(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.Handle]; !ok {
		r.order = append(r.order, entry.Handle)
	}
	r.entries[entry.Handle] = entry
}

// Get returns the entry for handle.
func (r *Registry) Get(handle int) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	return entry, ok
}

// Remove deletes and returns the entry for handle, along with its
// patchees. It returns nil if the handle is unknown.
func (r *Registry) Remove(handle int) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[handle]
	if !ok {
		return nil
	}
	delete(r.entries, handle)
	delete(r.patchees, handle)
	r.dropOrder(handle)
	return entry
}

// Rekey moves the entry at old to handle new, preserving its iteration
// position and its proxy identity. The entry's Handle field is updated.
func (r *Registry) Rekey(old, new int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[old]
	if !ok {
		return errors.NotFoundf("handle %d", old)
	}
	if old == new {
		return nil
	}
	if _, ok := r.entries[new]; ok {
		return errors.AlreadyExistsf("handle %d", new)
	}
	delete(r.entries, old)
	entry.Handle = new
	r.entries[new] = entry
	for i, h := range r.order {
		if h == old {
			r.order[i] = new
			break
		}
	}
	if p, ok := r.patchees[old]; ok {
		delete(r.patchees, old)
		r.patchees[new] = p
	}
	return nil
}

// Entries returns the live entries in insertion order.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*Entry, 0, len(r.order))
	for _, h := range r.order {
		entries = append(entries, r.entries[h])
	}
	return entries
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear removes every entry, returning them in insertion order.
func (r *Registry) Clear() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*Entry, 0, len(r.order))
	for _, h := range r.order {
		entries = append(entries, r.entries[h])
	}
	r.entries = make(map[int]*Entry)
	r.patchees = make(map[int]map[string]json.RawMessage)
	r.order = nil
	return entries
}

// SetPatchee records the full payload last delivered for a method on a
// handle.
func (r *Registry) SetPatchee(handle int, method string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byMethod, ok := r.patchees[handle]
	if !ok {
		byMethod = make(map[string]json.RawMessage)
		r.patchees[handle] = byMethod
	}
	byMethod[method] = payload
}

// Patchee returns the base payload for a delta-encoded result.
func (r *Registry) Patchee(handle int, method string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, ok := r.patchees[handle][method]
	return payload, ok
}

func (r *Registry) dropOrder(handle int) {
	for i, h := range r.order {
		if h == handle {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
