// Package config parses the line oriented ATLAS.CFG boot configuration into a
// menu title and a list of boot entries.
//
// The grammar:
//
//	title=<menu title>
//	[menu]
//	[entry]
//	name=<display name>
//	kernel=<path>
//	kernel_x86=<path>   legacy firmware only
//	kernel_x64=<path>   modern firmware only
//
// Keys are matched as line prefixes. Leading whitespace and trailing spaces
// are ignored. Unknown lines are ignored.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlasboot/atlas/heap"
)

const (
	// FileName is the configuration file looked up at the volume root.
	FileName = "ATLAS.CFG"
	// BufferSize is the size of the zero-filled buffer the file is read into.
	BufferSize = 4096
	// MaxEntries is the capacity of the entry table.
	MaxEntries = 16

	DefaultTitle     = "The Atlas Bootloader"
	UnknownEntryName = "Unknown Entry"
	NoEntriesName    = "No valid entries for this mode"

	// entrySlotSize is the table footprint of one entry, two 32-bit pointers.
	entrySlotSize = 8
)

// Arch selects which architecture-specific kernel key is honored.
type Arch uint8

const (
	ArchX86 Arch = iota // Legacy firmware, honors kernel_x86=.
	ArchX64             // Modern firmware, honors kernel_x64=.
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX64:
		return "x64"
	}
	return fmt.Sprintf("Arch(%d)", uint8(a))
}

func (a Arch) kernelKey() string {
	if a == ArchX64 {
		return "kernel_x64="
	}
	return "kernel_x86="
}

// Entry is one bootable menu entry.
type Entry struct {
	Name string
	Path string
}

// Placeholder reports whether the entry is the stand-in shown when no entry
// is bootable in the current mode.
func (e Entry) Placeholder() bool { return e.Path == "" }

// Config is the result of parsing a configuration file.
type Config struct {
	Title   string
	Entries []Entry // Never empty.
}

// Parser parses configuration text. The zero value parses for ArchX86
// without reserving memory.
type Parser struct {
	Arch Arch
	// Heap, when set, backs the entry table and a copy of every value.
	Heap heap.Allocator
	log  *slog.Logger
}

// SetLogger sets the logger. A nil logger disables logging.
func (p *Parser) SetLogger(l *slog.Logger) { p.log = l }

// Parse parses a configuration image. Content ends at the first NUL byte so a
// zero-filled read buffer can be passed whole.
func Parse(buf []byte, arch Arch) (Config, error) {
	p := Parser{Arch: arch}
	return p.Parse(buf)
}

type parseEntry struct {
	Entry
	archPath bool // Path came from the architecture key.
}

// Parse parses buf. An error is returned only when the entry table cannot be
// reserved from the heap; it wraps heap.ErrOutOfMemory.
func (p *Parser) Parse(buf []byte) (Config, error) {
	if p.Heap != nil {
		if _, err := p.Heap.Allocate(MaxEntries * entrySlotSize); err != nil {
			p.logerror("config:entry table", slog.String("err", err.Error()))
			if !errors.Is(err, heap.ErrOutOfMemory) {
				err = fmt.Errorf("%w: %w", heap.ErrOutOfMemory, err)
			}
			return Config{}, fmt.Errorf("config: entry table: %w", err)
		}
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	title := DefaultTitle
	entries := make([]parseEntry, 0, MaxEntries)
	archKey := p.Arch.kernelKey()
	for len(buf) > 0 {
		buf = bytes.TrimLeft(buf, " \n\r\t")
		if len(buf) == 0 {
			break
		}
		end := bytes.IndexAny(buf, "\n\r")
		if end < 0 {
			end = len(buf)
		}
		line := bytes.TrimRight(buf[:end], " ")
		buf = buf[end:]

		switch {
		case bytes.HasPrefix(line, []byte("[menu]")):
		case bytes.HasPrefix(line, []byte("[entry]")):
			if len(entries) < MaxEntries {
				entries = append(entries, parseEntry{Entry: Entry{Name: UnknownEntryName}})
			} else {
				p.warn("config:entry table full", slog.Int("max", MaxEntries))
			}
		case bytes.HasPrefix(line, []byte("name=")):
			if len(entries) > 0 {
				entries[len(entries)-1].Name = p.value(line[len("name="):])
			}
		case bytes.HasPrefix(line, []byte("title=")):
			title = p.value(line[len("title="):])
		case bytes.HasPrefix(line, []byte(archKey)):
			if len(entries) > 0 {
				cur := &entries[len(entries)-1]
				cur.Path = p.value(line[len(archKey):])
				cur.archPath = true
			}
		case bytes.HasPrefix(line, []byte("kernel=")):
			if len(entries) > 0 && !entries[len(entries)-1].archPath {
				entries[len(entries)-1].Path = p.value(line[len("kernel="):])
			}
		default:
			p.debug("config:ignored", slog.String("line", string(line)))
		}
	}

	cfg := Config{Title: title}
	for _, e := range entries {
		if e.Path != "" {
			cfg.Entries = append(cfg.Entries, e.Entry)
		}
	}
	if len(cfg.Entries) == 0 {
		cfg.Entries = []Entry{{Name: NoEntriesName}}
	}
	p.debug("config:parsed", slog.String("arch", p.Arch.String()), slog.Int("entries", len(cfg.Entries)), slog.Int("declared", len(entries)))
	return cfg, nil
}

// value copies v, reserving a NUL-terminated copy from the heap when one is
// configured. A failed reservation keeps the value and logs a warning.
func (p *Parser) value(v []byte) string {
	if p.Heap != nil {
		if _, err := p.Heap.Allocate(len(v) + 1); err != nil {
			p.warn("config:value allocation", slog.Int("len", len(v)+1), slog.String("err", err.Error()))
		}
	}
	return string(v)
}

func (p *Parser) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if p.log != nil {
		p.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (p *Parser) debug(msg string, attrs ...slog.Attr) {
	p.logattrs(slog.LevelDebug, msg, attrs...)
}
func (p *Parser) warn(msg string, attrs ...slog.Attr) {
	p.logattrs(slog.LevelWarn, msg, attrs...)
}
func (p *Parser) logerror(msg string, attrs ...slog.Attr) {
	p.logattrs(slog.LevelError, msg, attrs...)
}
