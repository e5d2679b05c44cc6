// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package rpc frames JSON-RPC requests over a duplex message codec,
// allocates request ids and correlates responses with outstanding
// requests. Unsolicited frames are delivered to a notification handler.
package rpc

import (
	"io"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/juju/enginerpc/rpc/params"
)

var logger = loggo.GetLogger("enginerpc.rpc")

// A Codec reads and writes JSON-RPC frames on some underlying channel.
// ReadMessage blocks until a frame arrives or the codec is closed.
type Codec interface {
	// ReadMessage reads the next frame into msg.
	ReadMessage(msg *params.Incoming) error

	// WriteMessage writes a single request frame.
	WriteMessage(req *params.Request) error

	// Close closes the codec. It may be called concurrently with the
	// read and write methods and causes ReadMessage to unblock.
	Close() error
}

// Conn is the client endpoint of an RPC connection. There may be many
// outstanding calls on a single Conn and it may be used from multiple
// goroutines simultaneously. A Conn is bound to one physical socket;
// request ids start at 1 and are never reused within the connection.
type Conn struct {
	codec Codec

	// sending guards the write side of the codec so that
	// codec.WriteMessage is never called concurrently.
	sending sync.Mutex

	// mutex guards the following fields.
	mutex sync.Mutex

	// reqID holds the most recently allocated request id.
	reqID uint64

	// clientPending holds all requests awaiting a response.
	clientPending map[uint64]*Call

	// notify receives unsolicited frames, in socket order.
	notify func(params.Notification)

	// closing is set when the connection is shutting down via Close.
	closing bool

	// shutdown is set when the input loop terminates.
	shutdown bool

	// dead is closed when the input loop terminates.
	dead chan struct{}

	// inputLoopError holds the error that terminated the input loop
	// prematurely. It is set before dead is closed.
	inputLoopError error
}

// NewConn creates a connection using the given codec for transport. It
// does not start it; Start must be called before any request is sent.
func NewConn(codec Codec) *Conn {
	return &Conn{
		codec:         codec,
		clientPending: make(map[uint64]*Call),
	}
}

// HandleNotifications registers the handler for unsolicited frames. It
// must be called before Start. Frames arriving with no handler set are
// dropped.
func (conn *Conn) HandleNotifications(f func(params.Notification)) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	conn.notify = f
}

// Start starts the connection's input loop. It has no effect if called
// more than once.
func (conn *Conn) Start() {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.dead == nil {
		conn.dead = make(chan struct{})
		go conn.input()
	}
}

// Dead returns a channel that is closed when the input loop has
// terminated, whether by Close or by transport failure.
func (conn *Conn) Dead() <-chan struct{} {
	return conn.dead
}

// DeadError returns the error that terminated the input loop, or nil
// if the loop is still running or terminated cleanly.
func (conn *Conn) DeadError() error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	return conn.inputLoopError
}

// Close closes the connection and its underlying codec, terminating
// every outstanding call. It returns once the input loop has finished.
func (conn *Conn) Close() error {
	conn.mutex.Lock()
	if conn.closing {
		conn.mutex.Unlock()
		return errors.New("already closed")
	}
	conn.closing = true
	started := conn.dead != nil
	conn.mutex.Unlock()

	if err := conn.codec.Close(); err != nil {
		logger.Infof("error closing codec: %v", err)
	}
	if !started {
		// The input loop never ran; terminate pending calls here.
		conn.terminate(ErrShutdown)
		return nil
	}
	<-conn.dead
	return conn.DeadError()
}

// input reads frames from the codec and routes them until the codec
// fails or the connection is closed.
func (conn *Conn) input() {
	err := conn.loop()
	conn.sending.Lock()
	defer conn.sending.Unlock()
	conn.mutex.Lock()
	if conn.closing || err == io.EOF {
		err = ErrShutdown
	} else {
		// Make the error available for Close and DeadError to see.
		conn.inputLoopError = err
	}
	conn.mutex.Unlock()
	conn.terminate(err)
}

// terminate rejects every pending call with err and marks the
// connection shut down.
func (conn *Conn) terminate(err error) {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.shutdown {
		return
	}
	for _, call := range conn.clientPending {
		call.Error = err
		call.done()
	}
	conn.clientPending = nil
	conn.shutdown = true
	if conn.dead == nil {
		conn.dead = make(chan struct{})
	}
	close(conn.dead)
}

// loop implements the reading part of Conn.input.
func (conn *Conn) loop() error {
	for {
		var msg params.Incoming
		if err := conn.codec.ReadMessage(&msg); err != nil {
			return err
		}
		if msg.IsNotification() {
			conn.handleNotification(&msg)
			continue
		}
		conn.handleResponse(&msg)
	}
}

func (conn *Conn) handleNotification(msg *params.Incoming) {
	conn.mutex.Lock()
	notify := conn.notify
	conn.mutex.Unlock()
	if notify == nil {
		logger.Tracef("dropping notification %q: no handler", msg.Method)
		return
	}
	notify(params.Notification{
		Method: msg.Method,
		Params: msg.Params,
	})
}
