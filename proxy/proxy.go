// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package proxy turns the engine's introspection documents into method
// sets and binds them to server-side objects. An Object is the local
// face of a remote handle: invoking a method builds a request against
// the object's current handle and sends it through the session.
package proxy

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/juju/enginerpc/rpc/params"
)

// Caller is the narrow session surface an object needs to dispatch a
// request. Objects hold no other session state, which keeps ownership
// acyclic: the session owns the cache, the cache owns the entries, and
// each entry's object refers back only through this interface.
type Caller interface {
	Send(ctx context.Context, req *params.Request) (*params.Response, error)
}

// MethodSpec describes one remote method.
type MethodSpec struct {
	Name string
}

// MethodSet is the callable surface generated for an object type.
// Lookup is case sensitive; iteration follows document order.
type MethodSet struct {
	names []string
	index map[string]MethodSpec
}

// Names returns the method names in document order.
func (s MethodSet) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Lookup returns the spec for the named method.
func (s MethodSet) Lookup(name string) (MethodSpec, bool) {
	spec, ok := s.index[name]
	return spec, ok
}

// Len returns the number of methods in the set.
func (s MethodSet) Len() int {
	return len(s.names)
}

var methodChecker = schema.OneOf(
	schema.String(),
	schema.StringMap(schema.Any()),
)

// Generate builds a MethodSet from an engine introspection document.
// The document is a list whose elements are either method names or
// objects carrying a "name" field; anything else is rejected. Generate
// is pure: callers memoise the result per object type.
func Generate(doc interface{}) (MethodSet, error) {
	list, err := schema.List(methodChecker).Coerce(doc, nil)
	if err != nil {
		return MethodSet{}, errors.Annotate(err, "invalid method document")
	}
	set := MethodSet{index: make(map[string]MethodSpec)}
	for _, item := range list.([]interface{}) {
		var name string
		switch v := item.(type) {
		case string:
			name = v
		case map[string]interface{}:
			n, ok := v["name"].(string)
			if !ok {
				return MethodSet{}, errors.NotValidf("method entry without name")
			}
			name = n
		}
		if name == "" {
			return MethodSet{}, errors.NotValidf("empty method name")
		}
		if _, ok := set.index[name]; ok {
			continue
		}
		set.names = append(set.names, name)
		set.index[name] = MethodSpec{Name: name}
	}
	return set, nil
}

// Object is a proxy for a server-side object. Its pointer identity is
// stable for the life of the session: suspend/resume rebinds the handle
// in place, so holders never need to re-fetch the object.
type Object struct {
	caller  Caller
	methods MethodSet

	mu          sync.Mutex
	handle      int
	closed      bool
	id          string
	objType     string
	genericType string
}

// New binds a method set to the object described by ref.
func New(caller Caller, ref params.ObjectRef, methods MethodSet) *Object {
	return &Object{
		caller:      caller,
		methods:     methods,
		handle:      ref.Handle,
		id:          ref.ID,
		objType:     ref.Type,
		genericType: ref.GenericType,
	}
}

// Handle returns the object's current handle.
func (o *Object) Handle() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle
}

// ID returns the object's server-side identity, stable across handles.
func (o *Object) ID() string {
	return o.id
}

// Type returns the object's schema type.
func (o *Object) Type() string {
	return o.objType
}

// GenericType returns the object's generic type, if any.
func (o *Object) GenericType() string {
	return o.genericType
}

// Methods returns the object's callable surface.
func (o *Object) Methods() MethodSet {
	return o.methods
}

// Closed reports whether the server has closed the object's handle.
func (o *Object) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Rebind points the object at a new handle. Used during resume when
// the server issues a fresh handle for the same object identity.
func (o *Object) Rebind(handle int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handle = handle
}

// MarkClosed records that the handle is gone. Subsequent invocations
// fail with a not-found error.
func (o *Object) MarkClosed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}

// Invoke calls the named remote method with args, unmarshalling the
// result into result if it is non-nil.
func (o *Object) Invoke(ctx context.Context, method string, args, result interface{}) error {
	spec, ok := o.methods.Lookup(method)
	if !ok {
		return errors.NotSupportedf("method %q on %s", method, o.objType)
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.NotFoundf("object %q", o.id)
	}
	handle := o.handle
	o.mu.Unlock()

	req := &params.Request{
		Method: spec.Name,
		Handle: handle,
		Params: args,
	}
	resp, err := o.caller.Send(ctx, req)
	if err != nil {
		return errors.Trace(err)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Annotatef(err, "unmarshalling %s result", spec.Name)
	}
	return nil
}
