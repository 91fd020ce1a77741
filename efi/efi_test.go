package efi_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/efi/emu"
	"github.com/atlasboot/atlas/handoff"
	"github.com/atlasboot/atlas/heap"
	"github.com/atlasboot/atlas/menu"
	"github.com/atlasboot/atlas/volume"
)

func newFirmware(t *testing.T, files fstest.MapFS, gm *efi.GraphicsMode) *emu.Firmware {
	t.Helper()
	cfg := emu.Config{
		MemorySize: 16 << 20,
		PoolBase:   0x400000,
		PoolSize:   1 << 20,
		Graphics:   gm,
	}
	if files != nil {
		cfg.Files = files
	}
	fw, err := emu.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return fw
}

func TestFileVolumeFindAndRead(t *testing.T) {
	kernel := bytes.Repeat([]byte{0xAB}, 3000)
	fw := newFirmware(t, fstest.MapFS{
		"KERNEL.BIN":      {Data: kernel},
		"ATLAS.CFG":       {Data: []byte("title=x\n")},
		"EFI/BOOT/K64.BIN": {Data: []byte{1, 2, 3}},
	}, nil)
	v := efi.NewFileVolume(fw, fw.ImageHandle())
	if err := v.Init(); err != nil {
		t.Fatal(err)
	}

	dst := make([]byte, 4096)
	n, err := v.FindAndRead("kernel.bin", dst)
	if err != nil || n != len(kernel) || !bytes.Equal(dst[:n], kernel) {
		t.Fatalf("n=%d err=%v", n, err)
	}
	// Reads are bounded by the destination.
	n, err = v.FindAndRead("/KERNEL.BIN", dst[:100])
	if err != nil || n != 100 {
		t.Fatalf("bounded read n=%d err=%v", n, err)
	}
	n, err = v.FindAndRead(`\efi\boot\k64.bin`, dst)
	if err != nil || n != 3 {
		t.Fatalf("nested read n=%d err=%v", n, err)
	}

	_, err = v.FindAndRead("MISSING.BIN", dst)
	if !errors.Is(err, volume.ErrNotFound) || !errors.Is(err, efi.NotFound) {
		t.Fatalf("want not found, got %v", err)
	}
	var ferr *efi.FileError
	if !errors.As(err, &ferr) || ferr.Op != "open" {
		t.Fatalf("want open FileError, got %#v", err)
	}
}

func TestFileVolumeNoFileSystem(t *testing.T) {
	fw := newFirmware(t, nil, nil)
	v := efi.NewFileVolume(fw, fw.ImageHandle())
	_, err := v.FindAndRead("ATLAS.CFG", make([]byte, 16))
	if !errors.Is(err, volume.ErrNotFound) || !errors.Is(err, efi.Unsupported) {
		t.Fatalf("got %v", err)
	}
	v = efi.NewFileVolume(fw, 99)
	if _, err = v.FindAndRead("ATLAS.CFG", nil); err == nil {
		t.Fatal("expected error for unknown image handle")
	}
}

func TestEncodeName(t *testing.T) {
	u, err := efi.EncodeName("Aé")
	if err != nil {
		t.Fatal(err)
	}
	if len(u) != 3 || u[0] != 'A' || u[1] != 0xE9 || u[2] != 0 {
		t.Fatalf("units=%v", u)
	}
	long, _ := efi.EncodeName(strings.Repeat("x", 300))
	if len(long) != 256 || long[255] != 0 {
		t.Fatalf("long name len=%d", len(long))
	}
	// A surrogate pair straddling the limit is dropped whole.
	pair, _ := efi.EncodeName(strings.Repeat("a", 254) + "\U0001F600")
	if len(pair) != 255 || pair[253] != 'a' {
		t.Fatalf("pair len=%d", len(pair))
	}
	s, err := efi.DecodeName(u)
	if err != nil || s != "Aé" {
		t.Fatalf("decode %q %v", s, err)
	}
}

func TestKeyEvent(t *testing.T) {
	for _, tc := range []struct {
		key  efi.InputKey
		want menu.Event
	}{
		{efi.InputKey{ScanCode: 1}, menu.Up},
		{efi.InputKey{ScanCode: 2}, menu.Down},
		{efi.InputKey{UnicodeChar: 0x0D}, menu.Enter},
		{efi.InputKey{ScanCode: 1, UnicodeChar: 0x0D}, menu.Up},
		{efi.InputKey{UnicodeChar: 'j'}, menu.None},
		{efi.InputKey{ScanCode: 0x17}, menu.None},
	} {
		if got := efi.KeyEvent(tc.key); got != tc.want {
			t.Errorf("KeyEvent(%+v)=%v want %v", tc.key, got, tc.want)
		}
	}
	fw := newFirmware(t, nil, nil)
	fw.Input().Push(efi.InputKey{ScanCode: 2})
	if ev := efi.PollKey(fw.Input()); ev != menu.Down {
		t.Fatalf("poll got %v", ev)
	}
	if ev := efi.PollKey(fw.Input()); ev != menu.None {
		t.Fatalf("empty poll got %v", ev)
	}
}

func TestPageTarget(t *testing.T) {
	gm := &efi.GraphicsMode{
		FrameBufferBase: 0x80000000,
		Info:            efi.ModeInformation{HorizontalResolution: 1280, VerticalResolution: 720, PixelsPerScanLine: 1280},
	}
	fw := newFirmware(t, nil, gm)
	tgt := &efi.PageTarget{BS: fw}
	addr, limit, err := tgt.ReserveImage()
	if err != nil || addr != efi.LoadAddr || limit != 1<<20 {
		t.Fatalf("addr=%#x limit=%d err=%v", addr, limit, err)
	}
	// The window is now taken.
	if _, _, err = tgt.ReserveImage(); !errors.Is(err, efi.NotFound) {
		t.Fatalf("second reserve: %v", err)
	}
	fb := tgt.DiscoverFramebuffer()
	want := handoff.Framebuffer{Base: 0x80000000, Width: 1280, Height: 720, Pitch: 1280}
	if fb != want {
		t.Fatalf("fb=%+v", fb)
	}

	noGOP := &efi.PageTarget{BS: newFirmware(t, nil, nil)}
	if fb := noGOP.DiscoverFramebuffer(); fb != handoff.FallbackFramebuffer() {
		t.Fatalf("fallback fb=%+v", fb)
	}
}

func TestLoaderDataPool(t *testing.T) {
	fw := newFirmware(t, nil, nil)
	p := heap.NewPool(efi.LoaderDataPool{BS: fw})
	blk, err := p.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	if blk.Addr < 0x400000 || blk.Addr >= 0x500000 {
		t.Fatalf("pool block at %#x", blk.Addr)
	}
	p.Free(blk)
	_, err = p.Allocate(2 << 20)
	if !errors.Is(err, heap.ErrOutOfMemory) || !errors.Is(err, efi.OutOfResources) {
		t.Fatalf("got %v", err)
	}
}

func TestScreen(t *testing.T) {
	fw := newFirmware(t, nil, nil)
	out := fw.Output()
	scr := efi.NewScreen(out)
	if out.CursorVisible {
		t.Error("cursor left visible")
	}
	if cols, rows := scr.Size(); cols != 80 || rows != 25 {
		t.Fatalf("size %dx%d", cols, rows)
	}
	c := console.New(scr)
	c.DrawFrame()
	c.PutChar(3, 4, 'Z', console.AttrError)
	if ch, _ := out.Grid().Cell(0, 0); ch != '╔' {
		t.Errorf("corner %q", ch)
	}
	if ch, attr := out.Grid().Cell(3, 4); ch != 'Z' || attr != console.AttrError {
		t.Errorf("cell %q %#x", ch, attr)
	}
}
