// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsoncodec

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/juju/enginerpc/rpc"
)

// defaultHandshakeTimeout bounds the websocket upgrade handshake.
const defaultHandshakeTimeout = 45 * time.Second

// Dialer dials the engine's websocket endpoint and wraps the resulting
// connection in a codec. The zero value of Dialer is not usable; URL
// must be set.
type Dialer struct {
	// URL is the websocket endpoint, e.g. wss://engine.example.com/app.
	URL string

	// Dialer, if set, overrides the websocket dialer used for the
	// connection, for example to supply TLS configuration.
	Dialer *websocket.Dialer

	// Header, if set, is sent with the handshake request.
	Header http.Header
}

// Dial establishes the websocket connection and returns a codec over
// it. The context bounds the dial and handshake.
func (d Dialer) Dial(ctx context.Context) (rpc.Codec, error) {
	if d.URL == "" {
		return nil, errors.NotValidf("dialer with empty URL")
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "dialling %q (status %s)", d.URL, resp.Status)
		}
		return nil, errors.Annotatef(err, "dialling %q", d.URL)
	}
	return NewWebsocket(conn), nil
}
