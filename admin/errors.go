// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package admin

import "errors"

var (
	// ErrNoResponse is returned when the server does not answer before the timeout.
	ErrNoResponse = errors.New("no response from admin server")

	// ErrUnexpectedResponse is returned when a reply does not have the expected shape.
	ErrUnexpectedResponse = errors.New("unexpected admin response")

	// ErrCommandFailed is returned when the server reports a non-zero status.
	ErrCommandFailed = errors.New("admin command failed")

	// ErrInvalidName is returned for an empty destination name.
	ErrInvalidName = errors.New("invalid destination name")
)
