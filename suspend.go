// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/juju/enginerpc/cache"
	"github.com/juju/enginerpc/rpc"
	"github.com/juju/enginerpc/rpc/params"
)

// Suspend drops the session's transport while retaining its logical
// state. Cached handles stay registered and their proxies stay valid,
// though sends fail with ErrSuspended until a successful Resume.
// Suspending a suspended session is a no-op.
func (s *Session) Suspend() error {
	s.mu.Lock()
	switch s.state {
	case Suspended:
		s.mu.Unlock()
		return nil
	case Opened:
	default:
		state := s.state
		s.mu.Unlock()
		return errors.NotValidf("suspend from state %q", state)
	}
	conn := s.conn
	s.state = Suspending
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, rpc.ErrShutdown) {
			s.logger.Debugf("closing connection for suspend: %v", err)
		}
	}

	s.mu.Lock()
	s.state = Suspended
	s.mu.Unlock()
	s.publish(TopicSuspended, nil)
	return nil
}

// Resume establishes a fresh transport for a suspended session and
// reconciles the retained handles against the engine. Each non-global
// handle is resolved by object identity; objects the engine still
// knows get the proxy rebound to its new handle, objects it has
// dropped are closed locally. With onlyIfAttached set, any
// unrecoverable object aborts the resume instead, leaving the session
// suspended with its state intact.
//
// Resume returns the handles that were closed during reconciliation.
// The global handle is never reconciled; it is live on any connection.
func (s *Session) Resume(ctx context.Context, onlyIfAttached bool) ([]int, error) {
	s.mu.Lock()
	if s.state != Suspended {
		state := s.state
		s.mu.Unlock()
		return nil, errors.NotValidf("resume from state %q", state)
	}
	s.state = Resuming
	s.mu.Unlock()

	codec, err := s.dial(ctx)
	if err != nil {
		s.setState(Suspended)
		return nil, errors.Annotate(err, "dialling engine for resume")
	}
	conn := rpc.NewConn(codec)
	conn.HandleNotifications(s.handleNotification)
	conn.Start()

	type rebind struct {
		entry *cache.Entry
		ref   params.ObjectRef
	}
	var rebinds []rebind
	var lost []*cache.Entry
	for _, entry := range s.cache.Entries() {
		if entry.Handle == params.GlobalHandle {
			continue
		}
		resp, err := conn.Call(ctx, &params.Request{
			Method: "GetObject",
			Handle: params.GlobalHandle,
			Params: params.GetObjectArgs{ID: entry.ID},
		})
		if err != nil {
			conn.Close()
			s.setState(Suspended)
			return nil, errors.Annotatef(err, "reattaching object %q", entry.ID)
		}
		if resp.Error != nil {
			// The engine no longer knows the object.
			if onlyIfAttached {
				conn.Close()
				s.setState(Suspended)
				return nil, errors.Annotatef(ErrNotReattached, "object %q", entry.ID)
			}
			lost = append(lost, entry)
			continue
		}
		var ref params.ObjectRef
		if err := json.Unmarshal(resp.Result, &ref); err != nil {
			conn.Close()
			s.setState(Suspended)
			return nil, errors.Annotatef(err, "reattaching object %q", entry.ID)
		}
		rebinds = append(rebinds, rebind{entry: entry, ref: ref})
	}

	// Commit. From here the new connection is the session's transport.
	for _, rb := range rebinds {
		old := rb.entry.Handle
		if old == rb.ref.Handle {
			continue
		}
		if err := s.cache.Rekey(old, rb.ref.Handle); err != nil {
			conn.Close()
			s.setState(Suspended)
			return nil, errors.Annotatef(err, "rekeying handle %d", old)
		}
		rb.entry.API.Rebind(rb.ref.Handle)
	}
	var closed []int
	for _, entry := range lost {
		s.cache.Remove(entry.Handle)
		entry.API.MarkClosed()
		closed = append(closed, entry.Handle)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Opened
	s.mu.Unlock()
	go s.watchDead(conn)

	for _, h := range closed {
		s.publish(HandleClosedTopic(h), HandleEvent{Handle: h})
	}
	s.publish(TopicResumed, ResumedEvent{Closed: closed})
	return closed, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
