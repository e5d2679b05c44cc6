// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package enginerpc

import (
	"github.com/juju/errors"
)

// ErrSuspended is returned by sends and opens attempted while the
// session's transport is down but its logical state is retained.
const ErrSuspended = errors.ConstError("session suspended")

// ErrClosed is returned once the session has terminated.
const ErrClosed = errors.ConstError("session closed")

// ErrNotOpened is returned by sends attempted before the session has
// established a socket.
const ErrNotOpened = errors.ConstError("session not opened")

// ErrNotReattached is returned by a resume with OnlyIfAttached set
// when some object could not be recovered on the new connection.
const ErrNotReattached = errors.ConstError("object not reattached")
