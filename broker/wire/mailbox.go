// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"sync"
	"time"

	"github.com/absmach/jms/broker"
)

// Mailbox is an unbounded FIFO of delivered messages with blocking receive.
type Mailbox struct {
	mu     sync.Mutex
	items  []*Message
	wait   chan struct{}
	closed bool
}

// NewMailbox returns an open, empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{wait: make(chan struct{})}
}

// Push appends m. It reports false if the mailbox is closed.
func (mb *Mailbox) Push(m *Message) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return false
	}
	mb.items = append(mb.items, m)
	close(mb.wait)
	mb.wait = make(chan struct{})
	return true
}

// Pop blocks until a message is available or the mailbox is closed.
func (mb *Mailbox) Pop() (*Message, error) {
	return mb.pop(nil)
}

// PopTimeout waits up to timeout and returns broker.ErrTimeout when nothing arrived.
// A non-positive timeout only checks for an already queued message.
func (mb *Mailbox) PopTimeout(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()
	return mb.pop(timer.C)
}

func (mb *Mailbox) pop(expired <-chan time.Time) (*Message, error) {
	for {
		mb.mu.Lock()
		if len(mb.items) > 0 {
			m := mb.items[0]
			mb.items[0] = nil
			mb.items = mb.items[1:]
			mb.mu.Unlock()
			return m, nil
		}
		if mb.closed {
			mb.mu.Unlock()
			return nil, broker.ErrClosed
		}
		wait := mb.wait
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-expired:
			return nil, broker.ErrTimeout
		}
	}
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}

// Close wakes blocked receivers and drops queued messages.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	mb.items = nil
	close(mb.wait)
}
