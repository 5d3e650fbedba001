// Package kalloc hands out the fixed-size execution-stack blocks that back
// kernel threads. The pool has a fixed capacity decided at boot; exhaustion
// is an ordinary error, not a fault.
package kalloc

import "errors"

// BlockSize is the size of one execution-stack block in bytes.
const BlockSize = 4096

// ErrExhausted is returned by Acquire when no block is free.
var ErrExhausted = errors.New("kalloc: out of stack blocks")

// Block is one zeroed execution-stack block. A thread owns exactly one from
// creation until the scheduler reclaims it after the thread dies.
type Block struct {
	pool  *Pool
	index int
	inUse bool
	buf   [BlockSize]byte
}

// Index returns the block's slot number within its pool.
func (b *Block) Index() int { return b.index }

// Bytes returns the block's backing memory.
func (b *Block) Bytes() []byte { return b.buf[:] }

// Pool is a fixed set of stack blocks.
//
// The pool does not synchronize itself; the kernel serializes access by
// masking interrupts around Acquire and Release.
type Pool struct {
	blocks []Block
	free   []int
}

// NewPool creates a pool of n blocks.
func NewPool(n int) *Pool {
	if n < 1 {
		panic("kalloc: pool needs at least one block")
	}
	p := &Pool{
		blocks: make([]Block, n),
		free:   make([]int, 0, n),
	}
	for i := range p.blocks {
		p.blocks[i].pool = p
		p.blocks[i].index = i
		p.free = append(p.free, n-1-i)
	}
	return p
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int { return len(p.blocks) }

// Free returns the number of blocks available.
func (p *Pool) Free() int { return len(p.free) }

// Acquire returns a zeroed block, or ErrExhausted if none is free.
func (p *Pool) Acquire() (*Block, error) {
	if len(p.free) == 0 {
		return nil, ErrExhausted
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	b := &p.blocks[i]
	b.inUse = true
	return b, nil
}

// Release zeroes a block and returns it to the pool.
func (p *Pool) Release(b *Block) {
	if b == nil {
		panic("kalloc: release of nil block")
	}
	if b.pool != p {
		panic("kalloc: release of foreign block")
	}
	if !b.inUse {
		panic("kalloc: double release")
	}
	b.buf = [BlockSize]byte{}
	b.inUse = false
	p.free = append(p.free, b.index)
}
