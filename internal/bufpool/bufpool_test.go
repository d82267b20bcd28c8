// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsResetBuffer(t *testing.T) {
	p := New(0)
	b := p.Get()
	b.WriteString("hello")
	p.Put(b)

	b2 := p.Get()
	assert.Zero(t, b2.Len())
	p.Put(b2)
}

func TestPutDropsOversizedAndNil(t *testing.T) {
	p := New(16)
	b := p.Get()
	b.Grow(1024)
	p.Put(b)
	p.Put(nil)

	assert.Zero(t, p.Get().Cap())
}

func TestConcurrentGetPut(t *testing.T) {
	p := New(DefaultMaxCap)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := p.Get()
			b.WriteString("concurrent")
			p.Put(b)
		}()
	}
	wg.Wait()
}
