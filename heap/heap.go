// Package heap implements the boot loader's block allocator. Two backends
// satisfy [Allocator]: an [Arena] carving a fixed region into a first-fit free
// list, and a [Pool] forwarding every call to a firmware pool allocator.
package heap

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
)

// HeaderSize is the size in bytes of the bookkeeping header preceding every
// block in an arena. It matches the 32-bit layout {size u32, free u8, next ptr}.
const HeaderSize = 12

// Legacy arena placement.
const (
	LegacyStart = 0x0010_0000
	LegacySize  = 0x0010_0000
)

var ErrOutOfMemory = errors.New("heap: out of memory")

// Block is a region handed out by an Allocator. Addr is the address of the first
// usable byte. Callers may rely on natural word alignment only.
type Block struct {
	Addr uint64
	Len  int
}

// Allocator is the uniform allocate/free contract shared by both backends.
type Allocator interface {
	Init() error
	Allocate(size int) (Block, error)
	// Free releases a block previously returned by Allocate. Freeing a block twice
	// or freeing a block not obtained from Allocate is undefined.
	Free(Block)
}

// freeBlock is the in-arena header. Blocks are kept ordered by offset so that
// list neighbours are also memory neighbours.
type freeBlock struct {
	off  uint32 // Offset of the header from arena start.
	size uint32 // Usable bytes following the header.
	free bool
}

// Arena is a first-fit allocator over a fixed region.
type Arena struct {
	base   uint64
	size   uint32
	mem    []byte // Optional backing memory, len(mem)==size.
	blocks []freeBlock
	log    *slog.Logger
}

// NewArena returns an arena of the given size starting at address base.
// mem may be nil; when present it must be exactly size bytes long and is
// returned by Bytes.
func NewArena(base uint64, size int, mem []byte) (*Arena, error) {
	if size <= HeaderSize {
		return nil, errors.New("heap: arena smaller than a block header")
	} else if mem != nil && len(mem) != size {
		return nil, errors.New("heap: backing memory length mismatch")
	} else if uint64(size) > 1<<32-1 {
		return nil, errors.New("heap: arena too large")
	}
	return &Arena{base: base, size: uint32(size), mem: mem}, nil
}

// SetLogger sets the logger used for allocation tracing. A nil logger disables logging.
func (a *Arena) SetLogger(l *slog.Logger) { a.log = l }

// Init resets the arena to a single free block spanning it.
func (a *Arena) Init() error {
	a.blocks = append(a.blocks[:0], freeBlock{off: 0, size: a.size - HeaderSize, free: true})
	return nil
}

// Allocate returns the first free block large enough for size bytes, splitting it
// when the remainder can hold a header plus at least one byte.
func (a *Arena) Allocate(size int) (Block, error) {
	if size < 0 || uint64(size) > uint64(a.size) {
		return Block{}, ErrOutOfMemory
	}
	req := uint32(size)
	for i := range a.blocks {
		b := &a.blocks[i]
		if !b.free || b.size < req {
			continue
		}
		if b.size >= req+HeaderSize+1 {
			split := freeBlock{
				off:  b.off + HeaderSize + req,
				size: b.size - req - HeaderSize,
				free: true,
			}
			b.size = req
			a.blocks = append(a.blocks, freeBlock{})
			copy(a.blocks[i+2:], a.blocks[i+1:])
			a.blocks[i+1] = split
			b = &a.blocks[i]
		}
		b.free = false
		a.debug("heap:alloc", slog.Int("size", size), slog.Uint64("addr", a.addr(b.off)))
		return Block{Addr: a.addr(b.off), Len: size}, nil
	}
	a.warn("heap:alloc failed", slog.Int("size", size))
	return Block{}, ErrOutOfMemory
}

// Free marks the block free and coalesces every adjacent free pair in the list.
func (a *Arena) Free(blk Block) {
	if blk.Addr < a.base+HeaderSize {
		return
	}
	off := blk.Addr - a.base - HeaderSize
	for i := range a.blocks {
		if uint64(a.blocks[i].off) == off {
			a.blocks[i].free = true
			break
		}
	}
	a.coalesce()
}

// coalesce merges adjacent free blocks over the whole list, not only around the
// last freed block. O(n) per call.
func (a *Arena) coalesce() {
	i := 0
	for i+1 < len(a.blocks) {
		cur, next := &a.blocks[i], a.blocks[i+1]
		if cur.free && next.free {
			cur.size += HeaderSize + next.size
			a.blocks = append(a.blocks[:i+1], a.blocks[i+2:]...)
		} else {
			i++
		}
	}
}

// Bytes returns the backing memory of an allocated block, or nil if the arena
// has no backing memory.
func (a *Arena) Bytes(blk Block) []byte {
	if a.mem == nil || blk.Addr < a.base {
		return nil
	}
	start := blk.Addr - a.base
	end := start + uint64(blk.Len)
	if end > uint64(len(a.mem)) {
		return nil
	}
	return a.mem[start:end:end]
}

// Stats reports the total free capacity (excluding headers), the number of blocks
// in the list and the number of blocks in use.
func (a *Arena) Stats() (free, blocks, used int) {
	for _, b := range a.blocks {
		if b.free {
			free += int(b.size)
		} else {
			used++
		}
	}
	return free, len(a.blocks), used
}

// Size returns the arena size in bytes, headers included.
func (a *Arena) Size() int { return int(a.size) }

func (a *Arena) addr(off uint32) uint64 { return a.base + uint64(off) + HeaderSize }

func (a *Arena) String() string {
	free, blocks, used := a.Stats()
	return "arena@" + strconv.FormatUint(a.base, 16) + " free:" + strconv.Itoa(free) +
		" blocks:" + strconv.Itoa(blocks) + " used:" + strconv.Itoa(used)
}

func (a *Arena) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if a.log != nil {
		a.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (a *Arena) debug(msg string, attrs ...slog.Attr) { a.logattrs(slog.LevelDebug, msg, attrs...) }
func (a *Arena) warn(msg string, attrs ...slog.Attr) { a.logattrs(slog.LevelWarn, msg, attrs...) }
