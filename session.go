// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package enginerpc implements a session-oriented client for analytics
// engines speaking JSON-RPC 2.0 over a websocket. A Session owns one
// logical conversation with an engine: it correlates requests with
// responses, tracks the server-side handles the engine reports through
// response side-bands, generates proxy objects from the engine's
// introspection documents, and can survive a transport loss by
// suspending and later resuming onto a fresh socket.
package enginerpc

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"

	"github.com/juju/enginerpc/cache"
	"github.com/juju/enginerpc/proxy"
	"github.com/juju/enginerpc/rpc"
	"github.com/juju/enginerpc/rpc/jsoncodec"
	"github.com/juju/enginerpc/rpc/params"
)

// eventDeliveryTimeout bounds how long a send waits for subscribers to
// consume a side-band event before the warning is logged and the send
// proceeds.
const eventDeliveryTimeout = 10 * time.Second

// State is the lifecycle state of a session.
type State int

const (
	// Created is the initial state; no socket has been established.
	Created State = iota

	// Opening means a dial and handshake are in progress.
	Opening

	// Opened means the session has a live transport and may send.
	Opened

	// Suspending means the transport is being dropped while the
	// logical session state is retained.
	Suspending

	// Suspended means the session has no transport but keeps its
	// handles for a later resume.
	Suspended

	// Resuming means a new transport is being established and the
	// retained handles reconciled.
	Resuming

	// Closing means the session is terminating.
	Closing

	// Closed is terminal.
	Closed
)

// String is part of the Stringer interface.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Opening:
		return "opening"
	case Opened:
		return "opened"
	case Suspending:
		return "suspending"
	case Suspended:
		return "suspended"
	case Resuming:
		return "resuming"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

type openAttempt struct {
	done   chan struct{}
	global *proxy.Object
	err    error
}

// Session is a logical conversation with an engine. It is safe for
// concurrent use; the zero value is not usable, construct with
// NewSession.
type Session struct {
	cfg      Config
	protocol ProtocolConfig
	clock    clock.Clock
	logger   loggo.Logger
	hub      *pubsub.SimpleHub
	cache    *cache.Registry
	dial     func(ctx context.Context) (rpc.Codec, error)

	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor

	mu      sync.Mutex
	state   State
	conn    *rpc.Conn
	opening *openAttempt
	global  *proxy.Object

	methodSets map[string]proxy.MethodSet
}

// NewSession returns an unopened session for the given configuration.
func NewSession(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	logger := loggo.GetLogger("enginerpc")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	requestInterceptors := cfg.RequestInterceptors
	if requestInterceptors == nil {
		requestInterceptors = DefaultRequestInterceptors()
	}
	responseInterceptors := cfg.ResponseInterceptors
	if responseInterceptors == nil {
		responseInterceptors = DefaultResponseInterceptors()
	}
	return &Session{
		cfg:                  cfg,
		protocol:             cfg.protocol(),
		clock:                clk,
		logger:               logger,
		hub:                  pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{Logger: loggo.GetLogger("enginerpc.hub")}),
		cache:                cache.NewRegistry(),
		dial:                 cfg.dialFunc(),
		requestInterceptors:  requestInterceptors,
		responseInterceptors: responseInterceptors,
		methodSets:           make(map[string]proxy.MethodSet),
	}, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Global returns the proxy for the engine's root object, or nil before
// the session has been opened.
func (s *Session) Global() *proxy.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global
}

// Hub returns the session's event hub.
func (s *Session) Hub() *pubsub.SimpleHub {
	return s.hub
}

// Handles returns the live handles in insertion order.
func (s *Session) Handles() []int {
	entries := s.cache.Entries()
	handles := make([]int, 0, len(entries))
	for _, e := range entries {
		handles = append(handles, e.Handle)
	}
	return handles
}

// Open establishes the session's transport and returns the global
// object proxy. Calling Open on an opened session returns the existing
// global object; concurrent opens share one dial attempt. A failed
// open leaves the session in Created, so Open may be retried.
func (s *Session) Open(ctx context.Context) (*proxy.Object, error) {
	s.mu.Lock()
	switch s.state {
	case Opened:
		global := s.global
		s.mu.Unlock()
		return global, nil
	case Opening:
		attempt := s.opening
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.global, errors.Trace(attempt.err)
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		}
	case Suspending, Suspended, Resuming:
		s.mu.Unlock()
		return nil, ErrSuspended
	case Closing, Closed:
		s.mu.Unlock()
		return nil, ErrClosed
	}
	attempt := &openAttempt{done: make(chan struct{})}
	s.state = Opening
	s.opening = attempt
	s.mu.Unlock()

	global, err := s.connect(ctx)

	s.mu.Lock()
	attempt.global = global
	attempt.err = err
	s.opening = nil
	if err != nil {
		s.state = Created
		s.mu.Unlock()
		close(attempt.done)
		return nil, errors.Trace(err)
	}
	s.state = Opened
	s.global = global
	conn := s.conn
	s.mu.Unlock()
	close(attempt.done)
	// Watch only once the session is Opened, so a transport loss during
	// the handshake is not attributed to an open session.
	go s.watchDead(conn)
	s.publish(TopicOpened, nil)
	return global, nil
}

func (s *Session) connect(ctx context.Context) (*proxy.Object, error) {
	codec, err := s.dial(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "dialling engine")
	}
	conn := rpc.NewConn(codec)
	conn.HandleNotifications(s.handleNotification)
	conn.Start()

	methods, err := s.methodSet(GlobalType)
	if err != nil {
		conn.Close()
		return nil, errors.Trace(err)
	}
	global := proxy.New(s, params.ObjectRef{
		Handle: params.GlobalHandle,
		Type:   GlobalType,
	}, methods)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.cache.Add(&cache.Entry{
		Handle: params.GlobalHandle,
		Type:   GlobalType,
		API:    global,
	})
	return global, nil
}

// watchDead waits for the connection's input loop to stop and reacts
// to an unsolicited transport loss.
func (s *Session) watchDead(conn *rpc.Conn) {
	<-conn.Dead()
	s.handleDisconnect(conn)
}

func (s *Session) handleDisconnect(conn *rpc.Conn) {
	s.mu.Lock()
	if s.conn != conn || s.state != Opened {
		// A deliberate close, suspend or resume already owns the
		// transition.
		s.mu.Unlock()
		return
	}
	err := conn.DeadError()
	code := jsoncodec.CloseStatus(err)
	if s.cfg.SuspendOnClose && code != websocket.CloseNormalClosure {
		s.state = Suspended
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		if err != nil {
			s.logger.Debugf("transport lost, suspending session: %v", err)
			s.publish(TopicSocketError, SocketErrorEvent{Err: err})
		}
		s.publish(TopicSuspended, nil)
		return
	}
	s.state = Closing
	s.conn = nil
	s.mu.Unlock()
	if err != nil && code != websocket.CloseNormalClosure {
		s.logger.Debugf("transport lost, closing session: %v", err)
		s.publish(TopicSocketError, SocketErrorEvent{Err: err})
	}
	s.terminate(conn, code)
}

// Close terminates the session. It is idempotent; a second close
// returns nil without publishing anything.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case Closing, Closed:
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.state = Closing
	s.conn = nil
	s.mu.Unlock()
	s.terminate(conn, websocket.CloseNormalClosure)
	return nil
}

// terminate moves the session to Closed, closing the transport and
// marking every cached object closed. Handle closed events precede the
// session closed event.
func (s *Session) terminate(conn *rpc.Conn, code int) {
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, rpc.ErrShutdown) {
			s.logger.Debugf("closing connection: %v", err)
		}
	}
	entries := s.cache.Clear()
	for _, e := range entries {
		e.API.MarkClosed()
		s.publish(HandleClosedTopic(e.Handle), HandleEvent{Handle: e.Handle})
	}
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	s.publish(TopicClosed, ClosedEvent{Code: code})
}

// ObjectFor returns the proxy bound to ref's handle, creating it if
// the handle is new. At most one proxy exists per live handle.
func (s *Session) ObjectFor(ref params.ObjectRef) (*proxy.Object, error) {
	if entry, ok := s.cache.Get(ref.Handle); ok {
		return entry.API, nil
	}
	methods, err := s.methodSet(ref.Type)
	if err != nil {
		return nil, errors.Trace(err)
	}
	obj := proxy.New(s, ref, methods)
	s.cache.Add(&cache.Entry{
		Handle:      ref.Handle,
		Type:        ref.Type,
		GenericType: ref.GenericType,
		ID:          ref.ID,
		API:         obj,
	})
	return obj, nil
}

// methodSet returns the memoised method set for an object type,
// generating it from the configured introspection documents on first
// use.
func (s *Session) methodSet(objType string) (proxy.MethodSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.methodSets[objType]; ok {
		return set, nil
	}
	doc, ok := s.cfg.Definitions[objType]
	if !ok {
		doc, ok = DefaultDefinitions()[objType]
	}
	if !ok {
		return proxy.MethodSet{}, errors.NotFoundf("method document for type %q", objType)
	}
	set, err := proxy.Generate(doc)
	if err != nil {
		return proxy.MethodSet{}, errors.Annotatef(err, "generating methods for type %q", objType)
	}
	s.methodSets[objType] = set
	return set, nil
}

// handleNotification publishes an engine notification on its
// method-specific topic and the wildcard topic. Notifications received
// while the session is suspending or suspended are dropped.
func (s *Session) handleNotification(n params.Notification) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case Suspending, Suspended:
		return
	}
	s.hub.Publish(NotificationTopic(n.Method), n)
	s.hub.Publish(TopicNotification, n)
}

// publish delivers an event on the hub and waits for the subscribers
// to consume it, so handle events observed by subscribers are ordered
// before the send that triggered them returns. Must not be called with
// s.mu held.
func (s *Session) publish(topic string, data interface{}) {
	done := s.hub.Publish(topic, data)
	select {
	case <-pubsub.Wait(done):
	case <-s.clock.After(eventDeliveryTimeout):
		s.logger.Warningf("timed out waiting for subscribers of %q", topic)
	}
}
