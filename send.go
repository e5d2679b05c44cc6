// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"context"
	"encoding/json"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/enginerpc/rpc"
	"github.com/juju/enginerpc/rpc/params"
)

// PendingCall is an in-flight request. Its RequestID is assigned
// synchronously by SendAsync, before any response can arrive, so the
// caller may correlate notifications referring to the request id.
type PendingCall struct {
	// RequestID is the id assigned to the request, or zero if the
	// send failed before reaching the transport.
	RequestID uint64

	// Request is the request as sent, after defaults and
	// interceptors were applied.
	Request *params.Request

	session *Session
	call    *rpc.Call
	err     error
}

// SendAsync dispatches req without waiting for the reply. The request
// is mutated in place: its id, protocol version and delta default are
// filled in. The returned PendingCall is completed by Wait.
func (s *Session) SendAsync(req *params.Request) *PendingCall {
	pending := &PendingCall{Request: req, session: s}

	s.mu.Lock()
	switch s.state {
	case Suspending, Suspended, Resuming:
		s.mu.Unlock()
		pending.err = ErrSuspended
		return pending
	case Closing, Closed:
		s.mu.Unlock()
		pending.err = ErrClosed
		return pending
	}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		pending.err = ErrNotOpened
		return pending
	}

	if req.Delta == nil && s.protocol.Delta {
		delta := true
		req.Delta = &delta
	}
	if req.Params == nil {
		req.Params = []interface{}{}
	}
	for _, ic := range s.requestInterceptors {
		if err := ic(s, req); err != nil {
			pending.err = errors.Trace(err)
			return pending
		}
	}

	call := conn.Send(req)
	pending.call = call
	pending.RequestID = call.RequestID
	return pending
}

// Wait blocks until the call completes, the session's transport fails
// or ctx is done. Side-band handle events are dispatched before the
// response interceptors run and before Wait returns.
func (p *PendingCall) Wait(ctx context.Context) (*params.Response, error) {
	if p.err != nil {
		return nil, errors.Trace(p.err)
	}
	select {
	case <-ctx.Done():
		p.session.forget(p.RequestID)
		return nil, errors.Trace(ctx.Err())
	case call := <-p.call.Done:
		if call.Error != nil {
			return nil, p.session.mapTransportError(call.Error)
		}
		resp := call.Response
		p.session.dispatchSideband(resp)
		for _, ic := range p.session.responseInterceptors {
			if err := ic(p.session, call.Request, resp); err != nil {
				return nil, errors.Trace(err)
			}
		}
		return resp, nil
	}
}

// Send dispatches req and waits for the reply. It implements
// proxy.Caller.
func (s *Session) Send(ctx context.Context, req *params.Request) (*params.Response, error) {
	return s.SendAsync(req).Wait(ctx)
}

// Call invokes method on the given handle, unmarshalling the result
// into result if it is non-nil.
func (s *Session) Call(ctx context.Context, method string, handle int, args, result interface{}) error {
	resp, err := s.Send(ctx, &params.Request{
		Method: method,
		Handle: handle,
		Params: args,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Annotatef(err, "unmarshalling %s result", method)
	}
	return nil
}

func (s *Session) forget(id uint64) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Forget(id)
	}
}

// mapTransportError rewrites a connection shutdown error to the
// session-level sentinel matching the session's fate.
func (s *Session) mapTransportError(err error) error {
	if !rpc.IsShutdownErr(err) {
		return errors.Trace(err)
	}
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Suspending, Suspended, Resuming:
		return ErrSuspended
	case Closing, Closed:
		return ErrClosed
	}
	return errors.Trace(err)
}

// dispatchSideband processes the handle arrays carried by a response.
// Changes are announced first; closes are terminal for their handles
// and win over a change in the same response. All events are consumed
// by subscribers before the originating send returns.
func (s *Session) dispatchSideband(resp *params.Response) {
	if len(resp.Change) == 0 && len(resp.Close) == 0 {
		return
	}
	closed := set.NewInts(resp.Close...)
	seen := set.NewInts()
	for _, h := range resp.Change {
		if seen.Contains(h) || closed.Contains(h) {
			continue
		}
		seen.Add(h)
		s.publish(HandleChangedTopic(h), HandleEvent{Handle: h})
	}
	seen = set.NewInts()
	for _, h := range resp.Close {
		if seen.Contains(h) {
			continue
		}
		seen.Add(h)
		if entry := s.cache.Remove(h); entry != nil {
			entry.API.MarkClosed()
		}
		s.publish(HandleClosedTopic(h), HandleEvent{Handle: h})
	}
}
