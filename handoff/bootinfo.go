package handoff

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Fixed physical addresses of the handoff protocol.
const (
	// BootInfoAddr is where the BootInfo record is written before transfer.
	BootInfoAddr = 0x1F0000
	// TextModeBase is the legacy text buffer, passed when no framebuffer is known.
	TextModeBase = 0xB8000
	// LegacyLoadAddr is where images are loaded under legacy firmware.
	LegacyLoadAddr = 0x100000
	// LegacyLoadLimit bounds a legacy image so it stops short of BootInfo.
	LegacyLoadLimit = BootInfoAddr - LegacyLoadAddr
)

// BootInfo record layout, little-endian. This is version 1 of the layout.
// The record carries no version field, so later versions may only append.
const (
	biFramebufferBase = 0
	biWidth           = 8
	biHeight          = 12
	biPitch           = 16
	// BootInfoSize is the number of significant bytes of the record.
	BootInfoSize = 20
)

// BootInfo describes the display to the loaded image.
type BootInfo struct {
	FramebufferBase uint64
	Width           uint32
	Height          uint32
	Pitch           uint32 // Pixels per scan line.
}

// Put encodes bi into the first BootInfoSize bytes of b.
func (bi BootInfo) Put(b []byte) {
	_ = b[BootInfoSize-1]
	binary.LittleEndian.PutUint64(b[biFramebufferBase:], bi.FramebufferBase)
	binary.LittleEndian.PutUint32(b[biWidth:], bi.Width)
	binary.LittleEndian.PutUint32(b[biHeight:], bi.Height)
	binary.LittleEndian.PutUint32(b[biPitch:], bi.Pitch)
}

// ReadBootInfo decodes a record written by Put.
func ReadBootInfo(b []byte) BootInfo {
	_ = b[BootInfoSize-1]
	return BootInfo{
		FramebufferBase: binary.LittleEndian.Uint64(b[biFramebufferBase:]),
		Width:           binary.LittleEndian.Uint32(b[biWidth:]),
		Height:          binary.LittleEndian.Uint32(b[biHeight:]),
		Pitch:           binary.LittleEndian.Uint32(b[biPitch:]),
	}
}

// Framebuffer is a discovered display.
type Framebuffer struct {
	Base          uint64
	Width, Height uint32
	Pitch         uint32
	// Fallback is set when no graphics mode was found and Base is the text buffer.
	Fallback bool
}

// FallbackFramebuffer is passed when no graphics output is available. The zero
// dimensions make the image take its own fallback path.
func FallbackFramebuffer() Framebuffer {
	return Framebuffer{Base: TextModeBase, Fallback: true}
}

// BootInfo returns the record describing fb.
func (fb Framebuffer) BootInfo() BootInfo {
	return BootInfo{FramebufferBase: fb.Base, Width: fb.Width, Height: fb.Height, Pitch: fb.Pitch}
}

// Memory is physical memory addressed by absolute address.
type Memory interface {
	// Slice returns the n bytes at addr. The slice aliases the memory.
	Slice(addr uint64, n int) ([]byte, error)
}

var errOutOfRange = errors.New("handoff: address range outside physical memory")

// FlatMemory is a contiguous physical memory starting at address 0.
type FlatMemory struct {
	buf []byte
}

// NewFlatMemory returns size bytes of zeroed memory.
func NewFlatMemory(size int) *FlatMemory {
	return &FlatMemory{buf: make([]byte, size)}
}

func (m *FlatMemory) Slice(addr uint64, n int) ([]byte, error) {
	if n < 0 || addr > uint64(len(m.buf)) || uint64(n) > uint64(len(m.buf))-addr {
		return nil, fmt.Errorf("%w: %#x+%#x", errOutOfRange, addr, n)
	}
	end := addr + uint64(n)
	return m.buf[addr:end:end], nil
}

// Len returns the memory size.
func (m *FlatMemory) Len() int { return len(m.buf) }
