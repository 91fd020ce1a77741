package heap

import (
	"fmt"
)

// Firmware is the pool allocator offered by modern firmware.
type Firmware interface {
	AllocatePool(size int) (addr uint64, err error)
	FreePool(addr uint64) error
}

// Pool forwards allocations 1:1 to a firmware pool. The firmware owns the pool,
// so Init is a no-op.
type Pool struct {
	fw Firmware
}

func NewPool(fw Firmware) *Pool { return &Pool{fw: fw} }

func (p *Pool) Init() error { return nil }

func (p *Pool) Allocate(size int) (Block, error) {
	if p.fw == nil {
		return Block{}, ErrOutOfMemory
	}
	addr, err := p.fw.AllocatePool(size)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	return Block{Addr: addr, Len: size}, nil
}

func (p *Pool) Free(blk Block) {
	if p.fw == nil || blk.Addr == 0 {
		return
	}
	p.fw.FreePool(blk.Addr) // Nothing sensible to do on failure.
}
