package emu

import (
	"testing"
	"testing/fstest"

	"github.com/atlasboot/atlas/efi"
)

func newTestFirmware(t *testing.T) *Firmware {
	fw, err := New(Config{
		MemorySize: 8 << 20,
		PoolBase:   0x100000,
		PoolSize:   64 << 10,
		Files: fstest.MapFS{
			"Boot/Atlas.cfg": {Data: []byte("title=emu")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return fw
}

func TestAllocatePages(t *testing.T) {
	fw := newTestFirmware(t)
	if _, st := fw.AllocatePages(efi.AllocateAddress, efi.LoaderCode, 1, 0x100000); st != efi.NotFound {
		t.Fatalf("pool region handed out: %v", st)
	}
	if _, st := fw.AllocatePages(efi.AllocateAddress, efi.LoaderCode, 1, 0x200001); st != efi.InvalidParameter {
		t.Fatalf("unaligned address accepted: %v", st)
	}
	if _, st := fw.AllocatePages(efi.AllocateAddress, efi.LoaderCode, 4096, 0x200000); st != efi.NotFound {
		t.Fatalf("allocation past memory end: %v", st)
	}
	top, st := fw.AllocatePages(efi.AllocateAnyPages, efi.LoaderData, 2, 0)
	if st != efi.Success || top != 8<<20-2*efi.PageSize {
		t.Fatalf("any pages at %#x: %v", top, st)
	}
	low, st := fw.AllocatePages(efi.AllocateMaxAddress, efi.LoaderData, 1, 0x80000-1)
	if st != efi.Success || low+efi.PageSize > 0x80000 {
		t.Fatalf("max address pages at %#x: %v", low, st)
	}
}

func TestFileHandles(t *testing.T) {
	fw := newTestFirmware(t)
	iface, _ := fw.HandleProtocol(fw.ImageHandle(), efi.LoadedImageProtocolGUID)
	li := iface.(*efi.LoadedImage)
	iface, st := fw.HandleProtocol(li.DeviceHandle, efi.SimpleFileSystemProtocolGUID)
	if st != efi.Success {
		t.Fatal(st)
	}
	root, _ := iface.(efi.SimpleFileSystem).OpenVolume()
	name, _ := efi.EncodeName("BOOT")
	dir, st := root.Open(name, efi.FileModeRead, 0)
	if st != efi.Success {
		t.Fatal(st)
	}
	if _, st := dir.Read(make([]byte, 8)); st != efi.Unsupported {
		t.Fatalf("directory read: %v", st)
	}
	name, _ = efi.EncodeName("ATLAS.CFG")
	if _, st := dir.Open(name, efi.FileModeRead|efi.FileModeWrite, 0); st != efi.WriteProtected {
		t.Fatalf("write open: %v", st)
	}
	f, st := dir.Open(name, efi.FileModeRead, 0)
	if st != efi.Success {
		t.Fatal(st)
	}
	buf := make([]byte, 64)
	n, st := f.Read(buf)
	if st != efi.Success || string(buf[:n]) != "title=emu" {
		t.Fatalf("read %q %v", buf[:n], st)
	}
	f.Close()
	if st := f.Close(); st != efi.InvalidParameter {
		t.Fatalf("double close: %v", st)
	}
}

func TestTextOutput(t *testing.T) {
	o := NewTextOutput(8, 2)
	o.OutputString([]uint16{'a', 'b', '\r', '\n', 'c', 0, 'x'})
	if ch, _ := o.Grid().Cell(0, 1); ch != 'b' {
		t.Fatalf("cell %q", ch)
	}
	if ch, _ := o.Grid().Cell(1, 0); ch != 'c' {
		t.Fatalf("cell %q", ch)
	}
	if ch, _ := o.Grid().Cell(1, 1); ch != ' ' {
		t.Fatal("wrote past NUL")
	}
	if st := o.SetCursorPosition(8, 0); st != efi.Unsupported {
		t.Fatalf("out of range cursor: %v", st)
	}
}
