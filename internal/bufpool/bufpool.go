// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package bufpool pools scratch buffers used while encoding messages.
package bufpool

import (
	"bytes"
	"sync"
)

// DefaultMaxCap is the largest buffer capacity kept by a pool created with a non-positive limit.
const DefaultMaxCap = 64 * 1024

// Pool hands out reset buffers and drops returned ones that grew past its limit.
type Pool struct {
	pool   sync.Pool
	maxCap int
}

// New returns a pool that keeps buffers up to maxCap bytes of capacity.
func New(maxCap int) *Pool {
	if maxCap <= 0 {
		maxCap = DefaultMaxCap
	}
	return &Pool{
		pool:   sync.Pool{New: func() any { return new(bytes.Buffer) }},
		maxCap: maxCap,
	}
}

// Get returns an empty buffer.
func (p *Pool) Get() *bytes.Buffer {
	b := p.pool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

// Put returns b to the pool unless it outgrew the limit.
func (p *Pool) Put(b *bytes.Buffer) {
	if b == nil || b.Cap() > p.maxCap {
		return
	}
	p.pool.Put(b)
}
