// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/juju/enginerpc/delta"
	"github.com/juju/enginerpc/rpc/params"
)

// RequestInterceptor inspects or rewrites a request before it is sent.
// Returning an error aborts the send.
type RequestInterceptor func(*Session, *params.Request) error

// ResponseInterceptor inspects or rewrites a response after side-band
// handle events have been dispatched. Returning an error fails the
// call.
type ResponseInterceptor func(*Session, *params.Request, *params.Response) error

// DefaultRequestInterceptors returns the request chain used when the
// configuration supplies none.
func DefaultRequestInterceptors() []RequestInterceptor {
	return nil
}

// DefaultResponseInterceptors returns the response chain used when the
// configuration supplies none. Delta expansion runs before error
// mapping so that an expanded result is never paired with an
// unexamined error body.
func DefaultResponseInterceptors() []ResponseInterceptor {
	return []ResponseInterceptor{DeltaInterceptor, ErrorInterceptor}
}

// DeltaInterceptor expands delta-encoded results against the base
// payload recorded for the request's handle and method, and records
// full results as the base for the next delta.
func DeltaInterceptor(s *Session, req *params.Request, resp *params.Response) error {
	if resp.Error != nil {
		return nil
	}
	if resp.Delta {
		patchee, ok := s.cache.Patchee(req.Handle, req.Method)
		if !ok {
			return errors.NotFoundf("delta base for %s on handle %d", req.Method, req.Handle)
		}
		var ops []delta.Operation
		if err := json.Unmarshal(resp.Result, &ops); err != nil {
			return errors.Annotate(err, "unmarshalling delta operations")
		}
		full, err := delta.Apply(patchee, ops)
		if err != nil {
			return errors.Annotatef(err, "applying delta for %s on handle %d", req.Method, req.Handle)
		}
		resp.Result = full
		resp.Delta = false
		s.cache.SetPatchee(req.Handle, req.Method, full)
		return nil
	}
	if req.Delta != nil && *req.Delta && len(resp.Result) > 0 {
		s.cache.SetPatchee(req.Handle, req.Method, resp.Result)
	}
	return nil
}

// ErrorInterceptor turns an error body in the response into a call
// failure carrying the engine's code and message.
func ErrorInterceptor(s *Session, req *params.Request, resp *params.Response) error {
	if resp.Error != nil {
		return errors.Trace(resp.Error)
	}
	return nil
}
