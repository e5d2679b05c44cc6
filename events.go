// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"fmt"

	"github.com/juju/enginerpc/rpc/params"
)

// Session lifecycle topics published on the session hub.
const (
	// TopicOpened is published once the session reaches Opened.
	TopicOpened = "session.opened"

	// TopicClosed is published when the session terminates. The data
	// is a ClosedEvent.
	TopicClosed = "session.closed"

	// TopicSuspended is published when the transport is dropped while
	// the logical session state is retained.
	TopicSuspended = "session.suspended"

	// TopicResumed is published after a successful resume. The data
	// is a ResumedEvent.
	TopicResumed = "session.resumed"

	// TopicSocketError is published when the transport fails. The
	// data is a SocketErrorEvent. Nothing is published while the
	// session is suspended.
	TopicSocketError = "session.socket-error"

	// TopicNotification is the wildcard topic: every engine
	// notification is published here as a params.Notification, in
	// addition to its method-specific topic.
	TopicNotification = "notification"
)

// NotificationTopic returns the topic carrying notifications for one
// method.
func NotificationTopic(method string) string {
	return "notification.method." + method
}

// HandleChangedTopic returns the topic on which changes to the given
// handle are announced.
func HandleChangedTopic(handle int) string {
	return fmt.Sprintf("handle.%d.changed", handle)
}

// HandleClosedTopic returns the topic announcing that the given handle
// was closed by the server.
func HandleClosedTopic(handle int) string {
	return fmt.Sprintf("handle.%d.closed", handle)
}

// ClosedEvent is the payload of TopicClosed.
type ClosedEvent struct {
	// Code is the websocket close code that ended the connection;
	// CloseNormalClosure for a locally requested close.
	Code int
}

// ResumedEvent is the payload of TopicResumed.
type ResumedEvent struct {
	// Closed lists the handles that could not be reattached during
	// reconciliation and are now gone.
	Closed []int
}

// SocketErrorEvent is the payload of TopicSocketError.
type SocketErrorEvent struct {
	Err error
}

// HandleEvent is the payload of handle changed and closed topics.
type HandleEvent struct {
	Handle int
}

// SubscribeNotification registers f for notifications of the given
// method, returning an unsubscriber.
func (s *Session) SubscribeNotification(method string, f func(params.Notification)) func() {
	return s.hub.Subscribe(NotificationTopic(method), func(_ string, data interface{}) {
		if n, ok := data.(params.Notification); ok {
			f(n)
		}
	})
}

// SubscribeAllNotifications registers f for every notification,
// returning an unsubscriber.
func (s *Session) SubscribeAllNotifications(f func(params.Notification)) func() {
	return s.hub.Subscribe(TopicNotification, func(_ string, data interface{}) {
		if n, ok := data.(params.Notification); ok {
			f(n)
		}
	})
}
