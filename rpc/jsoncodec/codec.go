// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package jsoncodec provides rpc.Codec implementations that carry one
// JSON object per frame, over a websocket or a plain byte stream.
package jsoncodec

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/enginerpc/rpc"
	"github.com/juju/enginerpc/rpc/params"
)

var logger = loggo.GetLogger("enginerpc.rpc.jsoncodec")

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// maxFrameSize bounds the size of a frame read from the peer.
	maxFrameSize = 8 * 1024 * 1024
)

// wsCodec frames messages over a websocket, one text message per frame.
type wsCodec struct {
	conn *websocket.Conn

	// writeMutex serialises writes, including the close handshake.
	writeMutex sync.Mutex
	closed     bool
}

// NewWebsocket returns an rpc.Codec that sends each frame as a single
// websocket text message.
func NewWebsocket(conn *websocket.Conn) rpc.Codec {
	conn.SetReadLimit(maxFrameSize)
	return &wsCodec{conn: conn}
}

func (c *wsCodec) ReadMessage(msg *params.Incoming) error {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	if logger.IsTraceEnabled() {
		logger.Tracef("<- %s", data)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return errors.Annotate(err, "unmarshalling frame")
	}
	return nil
}

func (c *wsCodec) WriteMessage(req *params.Request) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if c.closed {
		return errors.New("codec is closed")
	}
	if logger.IsTraceEnabled() {
		if data, err := json.Marshal(req); err == nil {
			logger.Tracef("-> %s", data)
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(req)
}

func (c *wsCodec) Close() error {
	c.writeMutex.Lock()
	if c.closed {
		c.writeMutex.Unlock()
		return nil
	}
	c.closed = true
	// Tell the other end we are closing.
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMutex.Unlock()
	return c.conn.Close()
}

// CloseStatus extracts the websocket close code carried by err. A clean
// shutdown reports CloseNormalClosure; anything unattributable reports
// CloseAbnormalClosure.
func CloseStatus(err error) int {
	if err == nil || errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.EOF) {
		return websocket.CloseNormalClosure
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

// streamCodec frames newline-delimited JSON over a byte stream. It is
// used by tests over net.Pipe and by unix-socket transports.
type streamCodec struct {
	conn io.ReadWriteCloser
	dec  *json.Decoder

	writeMutex sync.Mutex
	enc        *json.Encoder
}

// New returns an rpc.Codec that frames newline-delimited JSON over conn.
func New(conn io.ReadWriteCloser) rpc.Codec {
	return &streamCodec{
		conn: conn,
		dec:  json.NewDecoder(conn),
		enc:  json.NewEncoder(conn),
	}
}

func (c *streamCodec) ReadMessage(msg *params.Incoming) error {
	return c.dec.Decode(msg)
}

func (c *streamCodec) WriteMessage(req *params.Request) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return c.enc.Encode(req)
}

func (c *streamCodec) Close() error {
	return c.conn.Close()
}
