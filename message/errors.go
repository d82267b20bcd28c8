// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "errors"

// Data model errors.
var (
	// ErrConversion is returned when a typed accessor is used on a value of another variant.
	ErrConversion = errors.New("typed value conversion failed")

	// ErrUnsupportedType is returned when a value variant cannot be carried in the requested position.
	ErrUnsupportedType = errors.New("unsupported value type")

	// ErrUnknownKind is returned when decoding an unknown message or destination kind.
	ErrUnknownKind = errors.New("unknown kind")
)
