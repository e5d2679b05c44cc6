// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"fmt"

	"github.com/juju/errors"
)

// Error is a JSON-RPC error body returned by the engine. Code, Message
// and Parameter are carried verbatim from the wire.
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Parameter string `json:"parameter,omitempty"`
}

// Error implements error.
func (e *Error) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s (code %d, parameter %q)", e.Message, e.Code, e.Parameter)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// ErrorCode returns the engine's numeric error code.
func (e *Error) ErrorCode() int {
	return e.Code
}

// IsRPCError reports whether err (or anything it wraps) is an engine
// error body.
func IsRPCError(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr)
}

// ErrCode returns the engine error code carried by err, or zero if err
// does not wrap an engine error body.
func ErrCode(err error) int {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}
