// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"

	"github.com/absmach/jms/message"
)

// Client errors.
var (
	// Construction errors.
	ErrConnect              = errors.New("connect failed")
	ErrSessionCreate        = errors.New("session creation failed")
	ErrProducerCreate       = errors.New("producer creation failed")
	ErrConsumerCreate       = errors.New("consumer creation failed")
	ErrWrongDestinationKind = errors.New("wrong destination kind")

	// Messaging errors.
	ErrSend           = errors.New("send failed")
	ErrReceive        = errors.New("receive failed")
	ErrUnexpectedType = errors.New("received message with unexpected type")

	// Value errors.
	ErrConversion      = message.ErrConversion
	ErrUnsupportedType = message.ErrUnsupportedType
)

// Steps reported by StepError.
const (
	StepConnect            = "connect"
	StepStart              = "start"
	StepCreateSession      = "create session"
	StepCreateProducer     = "create producer"
	StepCreateDestination  = "create destination"
	StepCreateConsumer     = "create consumer"
	StepCreateTemporary    = "create temporary destination"
	StepEncode             = "encode"
	StepDecode             = "decode"
	StepRateLimit          = "rate limit"
	StepSend               = "send"
	StepReceive            = "receive"
	StepDestinationKind    = "check destination kind"
	StepResolveDestination = "resolve destination"
)

// StepError is a construction-path failure. It unwraps to both the client
// error Kind and the collaborator cause.
type StepError struct {
	Kind error
	Step string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stepError(kind error, step string, err error) error {
	return &StepError{Kind: kind, Step: step, Err: err}
}
