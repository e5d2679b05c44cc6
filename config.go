// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/enginerpc/rpc"
	"github.com/juju/enginerpc/rpc/jsoncodec"
)

// ProtocolConfig carries the per-request defaults merged into every
// outgoing request.
type ProtocolConfig struct {
	// Delta enables delta-encoded results. A request carrying an
	// explicit Delta value is never overridden.
	Delta bool
}

// Config holds the session configuration.
type Config struct {
	// URL is the engine's websocket endpoint. Ignored if Dial is set.
	URL string

	// Dial overrides the socket factory. It must return a codec whose
	// reads unblock when the codec is closed.
	Dial func(ctx context.Context) (rpc.Codec, error)

	// Protocol holds the request defaults. If nil, delta encoding is
	// enabled.
	Protocol *ProtocolConfig

	// SuspendOnClose makes an unsolicited connection loss suspend the
	// session, retaining its handles for a later resume, instead of
	// terminating it. A normal-closure code always terminates.
	SuspendOnClose bool

	// RequestInterceptors and ResponseInterceptors replace the default
	// chains when non-nil. See DefaultRequestInterceptors and
	// DefaultResponseInterceptors.
	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor

	// Definitions maps object types to their engine introspection
	// documents, from which method sets are generated. Missing types
	// fall back to DefaultDefinitions.
	Definitions map[string]interface{}

	// Clock is used for event delivery timeouts. Defaults to
	// clock.WallClock.
	Clock clock.Clock

	// Logger defaults to the "enginerpc" module logger.
	Logger *loggo.Logger
}

// Validate returns an error if the configuration is unusable.
func (c Config) Validate() error {
	if c.URL == "" && c.Dial == nil {
		return errors.NotValidf("config with neither URL nor Dial")
	}
	return nil
}

// GlobalType is the object type of the engine's root object, present
// at the global handle for the lifetime of every session.
const GlobalType = "Global"

// DefaultDefinitions returns the built-in introspection documents.
// Callers talking to engines with richer surfaces supply their own
// documents via Config.Definitions.
func DefaultDefinitions() map[string]interface{} {
	return map[string]interface{}{
		GlobalType: []interface{}{
			"OpenDoc",
			"GetActiveDoc",
			"GetObject",
			"EngineVersion",
			"ProductVersion",
		},
	}
}

func (c Config) dialFunc() func(ctx context.Context) (rpc.Codec, error) {
	if c.Dial != nil {
		return c.Dial
	}
	dialer := jsoncodec.Dialer{URL: c.URL}
	return dialer.Dial
}

func (c Config) protocol() ProtocolConfig {
	if c.Protocol != nil {
		return *c.Protocol
	}
	return ProtocolConfig{Delta: true}
}
