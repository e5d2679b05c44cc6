// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpc

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/enginerpc/rpc/params"
)

// ErrShutdown is returned when a request is made on a connection that
// is shutting down.
const ErrShutdown = errors.ConstError("connection is shut down")

// IsShutdownErr returns true if the error is ErrShutdown.
func IsShutdownErr(err error) bool {
	return errors.Is(err, ErrShutdown)
}

// Call represents an active RPC. The response frame is delivered whole,
// error body included; interpreting the error body is the caller's
// concern. Error is set only for transport and shutdown failures.
type Call struct {
	Request   *params.Request
	Response  *params.Response
	Error     error
	Done      chan *Call
	RequestID uint64
}

func (call *Call) done() {
	select {
	case call.Done <- call:
	default:
		// The Done channel is buffered by Send; hitting this means
		// the same call was completed twice.
		logger.Errorf("discarding duplicate reply for request %d", call.RequestID)
	}
}

// Send enqueues req on the connection and returns the pending call.
// The request id is allocated and written into req before Send returns,
// so the caller may read req.ID (or call.RequestID) immediately. The
// returned call's Done channel receives the call when it completes.
func (conn *Conn) Send(req *params.Request) *Call {
	call := &Call{
		Request: req,
		Done:    make(chan *Call, 1),
	}
	conn.send(call)
	return call
}

func (conn *Conn) send(call *Call) {
	conn.sending.Lock()
	defer conn.sending.Unlock()

	// Register this call.
	conn.mutex.Lock()
	if conn.dead == nil {
		conn.mutex.Unlock()
		call.Error = errors.New("rpc: request made before connection started")
		call.done()
		return
	}
	if conn.closing || conn.shutdown {
		conn.mutex.Unlock()
		call.Error = ErrShutdown
		call.done()
		return
	}
	conn.reqID++
	reqID := conn.reqID
	call.RequestID = reqID
	call.Request.ID = reqID
	call.Request.JSONRPC = params.Version
	conn.clientPending[reqID] = call
	conn.mutex.Unlock()

	// Encode and send the request.
	if err := conn.codec.WriteMessage(call.Request); err != nil {
		conn.mutex.Lock()
		call = conn.clientPending[reqID]
		delete(conn.clientPending, reqID)
		conn.mutex.Unlock()
		if call != nil {
			call.Error = errors.Annotate(err, "writing request")
			call.done()
		}
	}
}

func (conn *Conn) handleResponse(msg *params.Incoming) {
	conn.mutex.Lock()
	call := conn.clientPending[msg.ID]
	delete(conn.clientPending, msg.ID)
	conn.mutex.Unlock()

	if call == nil {
		// A response for a request we know nothing about; the frame
		// carries nothing actionable, so drop it.
		logger.Tracef("dropping response with unknown id %d", msg.ID)
		return
	}
	call.Response = &params.Response{
		ID:     msg.ID,
		Result: msg.Result,
		Error:  msg.Error,
		Change: msg.Change,
		Close:  msg.Close,
		Delta:  msg.Delta,
	}
	call.done()
}

// Call sends req and waits for the response frame. If the context is
// cancelled first, the pending entry is abandoned and the context error
// returned. A connection shutdown surfaces as ErrShutdown.
func (conn *Conn) Call(ctx context.Context, req *params.Request) (*params.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	call := conn.Send(req)
	select {
	case <-ctx.Done():
		conn.Forget(call.RequestID)
		return nil, errors.Trace(ctx.Err())
	case result := <-call.Done:
		if result.Error != nil {
			return nil, errors.Trace(result.Error)
		}
		return result.Response, nil
	}
}

// Forget drops the pending entry for reqID so that a late response is
// discarded instead of being delivered to a caller that has gone away.
func (conn *Conn) Forget(reqID uint64) {
	conn.mutex.Lock()
	delete(conn.clientPending, reqID)
	conn.mutex.Unlock()
}
