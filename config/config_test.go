package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/atlasboot/atlas/heap"
	"github.com/stvp/assert"
)

func TestParseArchKeyWinsRegardlessOfOrder(t *testing.T) {
	const cfg = `
title=Test Loader
[menu]
[entry]
name=Generic last
kernel_x64=/k64.bin
kernel=/generic.bin
[entry]
name=Generic first
kernel=/generic.bin
kernel_x64=/k64.bin
`
	for _, arch := range []Arch{ArchX64, ArchX86} {
		c, err := Parse([]byte(cfg), arch)
		assert.Nil(t, err)
		assert.Equal(t, "Test Loader", c.Title)
		assert.Equal(t, 2, len(c.Entries))
		want := "/k64.bin"
		if arch == ArchX86 {
			want = "/generic.bin"
		}
		for _, e := range c.Entries {
			assert.Equal(t, want, e.Path, arch.String(), e.Name)
		}
	}
}

func TestParseFiltersEntriesWithoutPath(t *testing.T) {
	const cfg = "[entry]\nname=A\nkernel=/a.bin\n" +
		"[entry]\nname=OnlyX64\nkernel_x64=/x.bin\n" +
		"[entry]\nname=B\nkernel_x86=/b.bin\n"
	c, err := Parse([]byte(cfg), ArchX86)
	assert.Nil(t, err)
	assert.Equal(t, []Entry{{"A", "/a.bin"}, {"B", "/b.bin"}}, c.Entries)
	assert.Equal(t, DefaultTitle, c.Title)
}

func TestParsePlaceholder(t *testing.T) {
	for _, cfg := range []string{
		"",
		"\n\n   \n",
		"[entry]\nname=NoKernel\n",
		"[entry]\nkernel_x64=/only64\n",
	} {
		c, err := Parse([]byte(cfg), ArchX86)
		assert.Nil(t, err)
		assert.Equal(t, []Entry{{Name: NoEntriesName}}, c.Entries, fmt.Sprintf("%q", cfg))
		assert.True(t, c.Entries[0].Placeholder())
	}
}

func TestParseCapacity(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < MaxEntries+4; i++ {
		fmt.Fprintf(&sb, "[entry]\nname=E%d\nkernel=/k%d\n", i, i)
	}
	c, err := Parse([]byte(sb.String()), ArchX64)
	assert.Nil(t, err)
	assert.Equal(t, MaxEntries, len(c.Entries))
	// Keys after the table is full land on the last entry.
	last := c.Entries[MaxEntries-1]
	assert.Equal(t, fmt.Sprintf("E%d", MaxEntries+3), last.Name)
	assert.Equal(t, Entry{"E0", "/k0"}, c.Entries[0])
}

func TestParseLineHandling(t *testing.T) {
	cfg := "name=orphan\nkernel=/orphan\n" + // Before any [entry]: ignored.
		"\t  [entry]   \r\n" +
		"name=Spaced Name   \r\n" +
		"bogus line\n" +
		"kernel=/spaced.bin  \x00" +
		"[entry]\nname=AfterNul\nkernel=/nul\n"
	buf := make([]byte, BufferSize)
	copy(buf, cfg)
	c, err := Parse(buf, ArchX86)
	assert.Nil(t, err)
	assert.Equal(t, []Entry{{"Spaced Name", "/spaced.bin"}}, c.Entries)
}

func TestParseUnknownEntryName(t *testing.T) {
	c, err := Parse([]byte("[entry]\nkernel=/k\ntitle=Late title"), ArchX86)
	assert.Nil(t, err)
	assert.Equal(t, UnknownEntryName, c.Entries[0].Name)
	assert.Equal(t, "Late title", c.Title)
}

func TestParseReservesFromHeap(t *testing.T) {
	a, err := heap.NewArena(heap.LegacyStart, 4096, nil)
	assert.Nil(t, err)
	assert.Nil(t, a.Init())
	p := Parser{Arch: ArchX86, Heap: a}
	_, err = p.Parse([]byte("[entry]\nname=A\nkernel=/a\n"))
	assert.Nil(t, err)
	free, blocks, _ := a.Stats()
	// Table, name and path.
	assert.Equal(t, 4, blocks)
	assert.True(t, free < 4096-3*heap.HeaderSize-MaxEntries*entrySlotSize)
}

func TestParseEntryTableOutOfMemory(t *testing.T) {
	a, err := heap.NewArena(heap.LegacyStart, 64, nil)
	assert.Nil(t, err)
	assert.Nil(t, a.Init())
	p := Parser{Heap: a}
	_, err = p.Parse([]byte("[entry]\nkernel=/a\n"))
	assert.True(t, errors.Is(err, heap.ErrOutOfMemory), err)

	p.Heap = failingAllocator{}
	_, err = p.Parse(nil)
	assert.True(t, errors.Is(err, heap.ErrOutOfMemory), err)
}

type failingAllocator struct{}

func (failingAllocator) Init() error { return nil }
func (failingAllocator) Allocate(int) (heap.Block, error) {
	return heap.Block{}, errors.New("denied")
}
func (failingAllocator) Free(heap.Block) {}

func ExampleParse() {
	cfg := []byte(`title=Atlas
[entry]
name=Atlas Kernel
kernel_x86=/KERNEL.BIN
kernel_x64=/KERNEL64.BIN
[entry]
name=Memtest
kernel=/MEMTEST.BIN
`)
	c, _ := Parse(cfg, ArchX64)
	fmt.Println(c.Title)
	for _, e := range c.Entries {
		fmt.Printf("%s -> %s\n", e.Name, e.Path)
	}
	// Output:
	// Atlas
	// Atlas Kernel -> /KERNEL64.BIN
	// Memtest -> /MEMTEST.BIN
}
