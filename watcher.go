// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"sync"

	"gopkg.in/tomb.v2"
)

// HandleWatcher reports changes to one server-side handle. Its Changes
// channel coalesces bursts: a receive means the handle changed at
// least once since the previous receive. The channel is closed when
// the handle is closed by the server or the watcher is killed.
type HandleWatcher struct {
	tomb    tomb.Tomb
	mu      sync.Mutex
	changes chan struct{}
	closed  bool
}

// WatchHandle returns a watcher for the given handle. The caller owns
// the watcher and must Kill and Wait it when done.
func (s *Session) WatchHandle(handle int) *HandleWatcher {
	w := &HandleWatcher{
		changes: make(chan struct{}, 1),
	}
	unsubChanged := s.hub.Subscribe(HandleChangedTopic(handle), func(_ string, _ interface{}) {
		w.notify()
	})
	unsubClosed := s.hub.Subscribe(HandleClosedTopic(handle), func(_ string, _ interface{}) {
		w.Kill()
	})
	w.tomb.Go(func() error {
		<-w.tomb.Dying()
		unsubChanged()
		unsubClosed()
		w.closeChanges()
		return nil
	})
	return w
}

// Changes returns the notification channel.
func (w *HandleWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Kill asks the watcher to stop.
func (w *HandleWatcher) Kill() {
	w.tomb.Kill(nil)
}

// Wait blocks until the watcher has stopped.
func (w *HandleWatcher) Wait() error {
	return w.tomb.Wait()
}

func (w *HandleWatcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *HandleWatcher) closeChanges() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.changes)
	}
}
