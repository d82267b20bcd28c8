// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import "errors"

// Collaborator status errors.
var (
	// ErrTimeout is returned by ReceiveTimeout when no message arrived in time.
	ErrTimeout = errors.New("receive timed out")

	// ErrConversion is returned when a stored value cannot be read as the requested type.
	ErrConversion = errors.New("conversion failed")

	// ErrUnsupported is returned for operations the collaborator does not implement.
	ErrUnsupported = errors.New("operation not supported")

	// ErrNotFound is returned for a missing map entry or property.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRef is returned for a reference that is unknown or already released.
	ErrInvalidRef = errors.New("invalid reference")

	// ErrClosed is returned when the owning connection or consumer was closed.
	ErrClosed = errors.New("closed")

	// ErrIllegalState is returned when an operation is not valid in the current state.
	ErrIllegalState = errors.New("illegal state")

	// ErrRejected is returned when the server refuses a connection or a request.
	ErrRejected = errors.New("rejected")
)
