// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params defines the wire-level frames exchanged with the engine.
// The engine speaks JSON-RPC 2.0 over a single duplex text channel; every
// frame is one JSON object.
package params

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Version is the JSON-RPC protocol version stamped on every request.
const Version = "2.0"

// GlobalHandle addresses the engine's root object. It is valid for the
// whole lifetime of a session and is never closed by the server.
const GlobalHandle = -1

// Request is an outbound JSON-RPC request frame. The field set is closed:
// anything a caller supplies beyond these keys never reaches the wire.
type Request struct {
	JSONRPC string `json:"jsonrpc"`

	// ID is assigned by the rpc layer when the request is enqueued.
	// It is written into the struct before the send returns, so a
	// caller may read it afterwards to correlate logs or events.
	ID uint64 `json:"id"`

	// Method names the remote method to invoke.
	Method string `json:"method"`

	// Handle addresses the server-side object the method acts on.
	Handle int `json:"handle"`

	// Params carries the method arguments; marshalled as given.
	Params interface{} `json:"params"`

	// Delta asks the server to delta-encode the result. A nil value
	// defers to the session's protocol default; an explicit false is
	// always honoured.
	Delta *bool `json:"delta,omitempty"`

	// Cont marks the request as a continuation of a previous one.
	Cont bool `json:"cont,omitempty"`

	// ReturnEmpty asks the server to acknowledge with an empty result.
	ReturnEmpty bool `json:"return_empty,omitempty"`
}

// Incoming is a frame as read off the socket. A frame with an id is a
// response to an outstanding request; one without is a notification.
type Incoming struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Change []int           `json:"change,omitempty"`
	Close  []int           `json:"close,omitempty"`
	Delta  bool            `json:"delta,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the frame is an unsolicited server
// notification rather than the response to a request.
func (m *Incoming) IsNotification() bool {
	return m.ID == 0 && m.Method != ""
}

// Response is a correlated response frame handed back to the caller of a
// send. Error responses are represented here too; mapping Error to a Go
// error is the session's interceptor concern, not the rpc layer's.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *Error
	Change []int
	Close  []int
	Delta  bool
}

// Notification is an unsolicited frame pushed by the engine.
type Notification struct {
	Method string
	Params json.RawMessage
}

// GetObjectArgs are the parameters of the reattach call issued against
// the global handle when a session is resumed.
type GetObjectArgs struct {
	ID string `json:"id"`
}

// ObjectRef describes a server-side object as returned by object
// creation and reattach calls.
type ObjectRef struct {
	Handle      int    `json:"handle"`
	Type        string `json:"type"`
	GenericType string `json:"genericType,omitempty"`
	ID          string `json:"id,omitempty"`
}

var requestFields = schema.FieldMap(
	schema.Fields{
		"jsonrpc":      schema.String(),
		"id":           schema.ForceInt(),
		"method":       schema.String(),
		"handle":       schema.ForceInt(),
		"params":       schema.Any(),
		"delta":        schema.Bool(),
		"cont":         schema.Bool(),
		"return_empty": schema.Bool(),
	},
	schema.Defaults{
		"jsonrpc":      schema.Omit,
		"id":           schema.Omit,
		"handle":       schema.Omit,
		"params":       schema.Omit,
		"delta":        schema.Omit,
		"cont":         schema.Omit,
		"return_empty": schema.Omit,
	},
)

// RequestFromMap builds a Request from a loosely-typed attribute map,
// dropping any keys outside the protocol's allow-list. Unknown keys are
// discarded silently; a missing method is an error.
func RequestFromMap(attrs map[string]interface{}) (*Request, error) {
	coerced, err := requestFields.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid request attributes")
	}
	m := coerced.(map[string]interface{})
	req := &Request{
		Method: m["method"].(string),
	}
	if v, ok := m["handle"]; ok {
		req.Handle = v.(int)
	}
	if v, ok := m["params"]; ok {
		req.Params = v
	}
	if v, ok := m["delta"]; ok {
		delta := v.(bool)
		req.Delta = &delta
	}
	if v, ok := m["cont"]; ok {
		req.Cont = v.(bool)
	}
	if v, ok := m["return_empty"]; ok {
		req.ReturnEmpty = v.(bool)
	}
	return req, nil
}
