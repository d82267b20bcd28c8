// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"iter"

	"github.com/absmach/jms/message"
)

// Stream is a continuous consumer with its own session.
type Stream struct {
	session  *Session
	consumer *Consumer
}

// OpenStream opens a session and a consumer on dest for continuous consumption.
func (c *Connection) OpenStream(dest message.Destination, selector string) (*Stream, error) {
	sess, err := c.Session()
	if err != nil {
		return nil, err
	}
	consumer, err := sess.QueueConsumer(dest, selector)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return &Stream{session: sess, consumer: consumer}, nil
}

// Next blocks for the next message. It returns (nil, nil) when nothing is available.
func (s *Stream) Next() (message.Message, error) {
	return s.consumer.Receive()
}

// All yields messages until the consumer reports none, an error occurs or the
// caller stops. An error is yielded once, as the final element.
func (s *Stream) All() iter.Seq2[message.Message, error] {
	return func(yield func(message.Message, error) bool) {
		for {
			m, err := s.Next()
			if err != nil {
				yield(nil, err)
				return
			}
			if m == nil {
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// Close closes the consumer and then the session.
func (s *Stream) Close() {
	s.consumer.Close()
	s.session.Close()
}
