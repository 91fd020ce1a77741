// Package emu is an in-memory modern firmware. It serves boot services, a
// read-only file system over an io/fs.FS, an optional graphics mode and a
// scripted keyboard so the firmware boot path runs on a host.
package emu

import (
	"context"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/heap"
)

const (
	imageHandle  efi.Handle = 1
	deviceHandle efi.Handle = 2
)

// Config describes the emulated machine.
type Config struct {
	// MemorySize bounds page allocations.
	MemorySize uint64
	// PoolBase and PoolSize place the pool allocator in memory.
	PoolBase uint64
	PoolSize int
	// Files is the boot volume. Lookups are case-insensitive.
	Files fs.FS
	// Graphics is the current graphics mode; nil means no graphics output protocol.
	Graphics *efi.GraphicsMode
	// Cols and Rows size the text console, 80x25 when zero.
	Cols, Rows int
}

type pageRange struct {
	start, end uint64
}

// Firmware is an emulated firmware instance.
type Firmware struct {
	cfg    Config
	pool   *heap.Arena
	blocks map[uint64]heap.Block
	pages  []pageRange
	files  fs.FS
	gop    *efi.GraphicsOutput
	in     *TextInput
	out    *TextOutput
	log    *slog.Logger
}

var _ efi.BootServices = (*Firmware)(nil)

// New returns firmware for cfg. The pool region is reserved from page allocation.
func New(cfg Config) (*Firmware, error) {
	if cfg.Cols == 0 || cfg.Rows == 0 {
		cfg.Cols, cfg.Rows = console.LegacyCols, console.LegacyRows
	}
	pool, err := heap.NewArena(cfg.PoolBase, cfg.PoolSize, nil)
	if err != nil {
		return nil, err
	}
	pool.Init()
	f := &Firmware{
		cfg:    cfg,
		pool:   pool,
		blocks: make(map[uint64]heap.Block),
		files:  cfg.Files,
		in:     &TextInput{},
		out:    NewTextOutput(cfg.Cols, cfg.Rows),
	}
	if cfg.Graphics != nil {
		f.gop = &efi.GraphicsOutput{Mode: cfg.Graphics}
	}
	f.Reserve(cfg.PoolBase, cfg.PoolSize)
	return f, nil
}

// SetLogger sets the logger. A nil logger disables logging.
func (f *Firmware) SetLogger(l *slog.Logger) { f.log = l }

// SystemTable returns the table handed to the loader image.
func (f *Firmware) SystemTable() *efi.SystemTable {
	return &efi.SystemTable{ConIn: f.in, ConOut: f.out, BootServices: f}
}

// ImageHandle returns the handle of the loader image.
func (f *Firmware) ImageHandle() efi.Handle { return imageHandle }

// Input returns the keyboard.
func (f *Firmware) Input() *TextInput { return f.in }

// Output returns the text console.
func (f *Firmware) Output() *TextOutput { return f.out }

// Reserve marks the pages covering [addr, addr+size) as in use.
func (f *Firmware) Reserve(addr uint64, size int) {
	if size <= 0 {
		return
	}
	start := addr &^ (efi.PageSize - 1)
	end := (addr + uint64(size) + efi.PageSize - 1) &^ (efi.PageSize - 1)
	f.pages = append(f.pages, pageRange{start: start, end: end})
	sort.Slice(f.pages, func(i, j int) bool { return f.pages[i].start < f.pages[j].start })
}

func (f *Firmware) AllocatePool(memType efi.MemoryType, size int) (uint64, efi.Status) {
	if size < 0 {
		return 0, efi.InvalidParameter
	}
	blk, err := f.pool.Allocate(size)
	if err != nil {
		f.logattrs(slog.LevelWarn, "emu:pool exhausted", slog.Int("size", size))
		return 0, efi.OutOfResources
	}
	f.blocks[blk.Addr] = blk
	return blk.Addr, efi.Success
}

func (f *Firmware) FreePool(addr uint64) efi.Status {
	blk, ok := f.blocks[addr]
	if !ok {
		return efi.InvalidParameter
	}
	delete(f.blocks, addr)
	f.pool.Free(blk)
	return efi.Success
}

func (f *Firmware) AllocatePages(typ efi.AllocateType, memType efi.MemoryType, pages int, addr uint64) (uint64, efi.Status) {
	if pages <= 0 {
		return 0, efi.InvalidParameter
	}
	size := uint64(pages) * efi.PageSize
	switch typ {
	case efi.AllocateAddress:
		if addr%efi.PageSize != 0 {
			return 0, efi.InvalidParameter
		}
		if !f.free(addr, size) {
			f.logattrs(slog.LevelWarn, "emu:pages occupied", slog.Uint64("addr", addr), slog.Int("pages", pages))
			return 0, efi.NotFound
		}
	case efi.AllocateAnyPages, efi.AllocateMaxAddress:
		limit := f.cfg.MemorySize
		if typ == efi.AllocateMaxAddress && addr+1 < limit {
			limit = addr + 1
		}
		found := false
		// Search top down, like most firmware.
		for a := (limit - size) &^ (efi.PageSize - 1); size <= limit && a >= efi.PageSize; a -= efi.PageSize {
			if f.free(a, size) {
				addr, found = a, true
				break
			}
		}
		if !found {
			return 0, efi.OutOfResources
		}
	default:
		return 0, efi.InvalidParameter
	}
	f.pages = append(f.pages, pageRange{start: addr, end: addr + size})
	sort.Slice(f.pages, func(i, j int) bool { return f.pages[i].start < f.pages[j].start })
	f.logattrs(slog.LevelDebug, "emu:pages", slog.Uint64("addr", addr), slog.Int("pages", pages))
	return addr, efi.Success
}

// free reports whether [addr, addr+size) is inside memory and unreserved.
func (f *Firmware) free(addr, size uint64) bool {
	if addr+size > f.cfg.MemorySize || addr+size < addr {
		return false
	}
	for _, r := range f.pages {
		if addr < r.end && r.start < addr+size {
			return false
		}
	}
	return true
}

func (f *Firmware) HandleProtocol(h efi.Handle, protocol efi.GUID) (any, efi.Status) {
	switch {
	case h == imageHandle && protocol == efi.LoadedImageProtocolGUID:
		return &efi.LoadedImage{DeviceHandle: deviceHandle}, efi.Success
	case h == deviceHandle && protocol == efi.SimpleFileSystemProtocolGUID && f.files != nil:
		return &fileSystem{fsys: f.files}, efi.Success
	}
	return nil, efi.Unsupported
}

func (f *Firmware) LocateProtocol(protocol efi.GUID) (any, efi.Status) {
	if protocol == efi.GraphicsOutputProtocolGUID && f.gop != nil {
		return f.gop, efi.Success
	}
	return nil, efi.NotFound
}

func (f *Firmware) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if f.log != nil {
		f.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
