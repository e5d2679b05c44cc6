// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rpctesting provides an in-memory engine double: a codec whose
// responses are scripted per method, for driving the rpc and session
// layers without a socket.
package rpctesting

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/enginerpc/rpc/params"
)

// Responder produces the response frame for a received request.
type Responder func(req params.Request) params.Incoming

// Codec is a scripted rpc.Codec. Responses are produced by per-method
// responders; methods without a responder are acknowledged with an
// empty result. Notifications and raw frames may be injected at any
// time and are delivered in order.
type Codec struct {
	mu         sync.Mutex
	requests   []params.Request
	responders map[string]Responder
	closeErr   error

	incoming chan params.Incoming
	closed   chan struct{}
	once     sync.Once
}

// NewCodec returns an empty scripted codec.
func NewCodec() *Codec {
	return &Codec{
		responders: make(map[string]Responder),
		incoming:   make(chan params.Incoming, 64),
		closed:     make(chan struct{}),
	}
}

// Respond registers the responder used for requests naming method.
func (c *Codec) Respond(method string, f Responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responders[method] = f
}

// RespondResult registers a responder that answers method with the
// given result value.
func (c *Codec) RespondResult(method string, result interface{}) {
	data, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	c.Respond(method, func(req params.Request) params.Incoming {
		return params.Incoming{ID: req.ID, Result: data}
	})
}

// RespondError registers a responder that answers method with the
// given error body.
func (c *Codec) RespondError(method string, body params.Error) {
	c.Respond(method, func(req params.Request) params.Incoming {
		e := body
		return params.Incoming{ID: req.ID, Error: &e}
	})
}

// Notify injects an unsolicited notification frame.
func (c *Codec) Notify(method string, paramsValue interface{}) {
	data, err := json.Marshal(paramsValue)
	if err != nil {
		panic(err)
	}
	c.Inject(params.Incoming{Method: method, Params: data})
}

// Inject queues a raw frame for delivery to the reader.
func (c *Codec) Inject(msg params.Incoming) {
	select {
	case c.incoming <- msg:
	case <-c.closed:
	}
}

// Requests returns a copy of every request written so far, in order.
func (c *Codec) Requests() []params.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	reqs := make([]params.Request, len(c.requests))
	copy(reqs, c.requests)
	return reqs
}

// SetCloseError makes the reader fail with err instead of a clean EOF,
// simulating an unsolicited transport failure.
func (c *Codec) SetCloseError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// Abort terminates the reader with err, as a remote failure would.
func (c *Codec) Abort(err error) {
	c.SetCloseError(err)
	c.close()
}

func (c *Codec) close() {
	c.once.Do(func() { close(c.closed) })
}

// ReadMessage implements rpc.Codec.
func (c *Codec) ReadMessage(msg *params.Incoming) error {
	select {
	case m := <-c.incoming:
		*msg = m
		return nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeErr != nil {
			return c.closeErr
		}
		return io.EOF
	}
}

// WriteMessage implements rpc.Codec.
func (c *Codec) WriteMessage(req *params.Request) error {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return errors.New("codec is closed")
	default:
	}
	c.requests = append(c.requests, *req)
	responder := c.responders[req.Method]
	c.mu.Unlock()

	var msg params.Incoming
	if responder != nil {
		msg = responder(*req)
	} else {
		msg = params.Incoming{ID: req.ID, Result: json.RawMessage(`{}`)}
	}
	if msg.ID == 0 && msg.Method == "" {
		// Responder chose not to answer.
		return nil
	}
	c.Inject(msg)
	return nil
}

// Close implements rpc.Codec.
func (c *Codec) Close() error {
	c.close()
	return nil
}
