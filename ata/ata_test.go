package ata

import (
	"bytes"
	"errors"
	"testing"
)

func patternDisk(sectors int) []byte {
	disk := make([]byte, sectors*SectorSize)
	for i := range disk {
		disk[i] = byte(i*7 + i/SectorSize)
	}
	return disk
}

func TestReadSectorsPattern(t *testing.T) {
	disk := patternDisk(16)
	ctl := NewController(bytes.NewReader(disk))
	ctl.BusyCycles = 3
	r := NewReader(ctl)
	for _, tc := range []struct {
		lba   uint32
		count uint8
	}{
		{0, 1}, {3, 2}, {15, 1}, {4, 8},
	} {
		dst := make([]byte, int(tc.count)*SectorSize)
		if err := r.ReadSectors(tc.lba, tc.count, dst); err != nil {
			t.Fatalf("lba=%d: %v", tc.lba, err)
		}
		want := disk[int(tc.lba)*SectorSize : int(tc.lba+uint32(tc.count))*SectorSize]
		for s := 0; s < int(tc.count); s++ {
			got := dst[s*SectorSize : (s+1)*SectorSize]
			if !bytes.Equal(got, want[s*SectorSize:(s+1)*SectorSize]) {
				t.Fatalf("lba=%d sector %d mismatch", tc.lba, s)
			}
		}
	}
}

func TestReadBlocksChunksLargeReads(t *testing.T) {
	disk := patternDisk(300)
	r := NewReader(NewController(bytes.NewReader(disk)))
	dst := make([]byte, 300*SectorSize)
	if err := r.ReadBlocks(dst, 0); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, disk) {
		t.Fatal("ReadBlocks mismatch")
	}
	if err := r.ReadBlocks(make([]byte, 100), 0); err == nil {
		t.Fatal("expected misaligned buffer error")
	}
}

func TestReadSectorsShortBuffer(t *testing.T) {
	r := NewReader(NewController(bytes.NewReader(patternDisk(2))))
	if err := r.ReadSectors(0, 2, make([]byte, SectorSize)); err == nil {
		t.Fatal("expected short buffer error")
	}
}

func TestReadSectorsZeroCount(t *testing.T) {
	p := &recordingPorts{Controller: *NewController(bytes.NewReader(patternDisk(2)))}
	r := NewReader(p)
	if err := r.ReadSectors(0, 0, make([]byte, SectorSize)); !errors.Is(err, errZeroCount) {
		t.Fatalf("got %v", err)
	}
	if len(p.writes) != 0 {
		t.Fatalf("command issued for zero sectors: writes=%v", p.writes)
	}
	// The device is left idle for the next read.
	dst := make([]byte, SectorSize)
	if err := r.ReadSectors(1, 1, dst); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, patternDisk(2)[SectorSize:]) {
		t.Fatal("read after rejected command mismatch")
	}
}

func TestBoundedPollReportsNotReady(t *testing.T) {
	ctl := NewController(bytes.NewReader(patternDisk(1)))
	ctl.BusyCycles = -1 // Never becomes ready.
	r := NewReader(ctl)
	r.MaxPolls = 1000
	err := r.ReadSectors(0, 1, make([]byte, SectorSize))
	if !errors.Is(err, ErrDeviceNotReady) {
		t.Fatalf("want ErrDeviceNotReady, got %v", err)
	}
}

// recordingPorts checks the command register protocol.
type recordingPorts struct {
	Controller
	writes []uint16
}

func (p *recordingPorts) Out8(port uint16, v uint8) {
	p.writes = append(p.writes, port)
	p.Controller.Out8(port, v)
}

func TestCommandSequence(t *testing.T) {
	p := &recordingPorts{Controller: *NewController(bytes.NewReader(patternDisk(0x20)))}
	r := NewReader(p)
	if err := r.ReadSectors(0x1A, 1, make([]byte, SectorSize)); err != nil {
		t.Fatal(err)
	}
	want := []uint16{PortDrive, PortSecCount, PortLBALow, PortLBAMid, PortLBAHigh, PortCommand}
	if len(p.writes) != len(want) {
		t.Fatalf("writes=%v", p.writes)
	}
	for i := range want {
		if p.writes[i] != want[i] {
			t.Fatalf("write %d to port %#x, want %#x", i, p.writes[i], want[i])
		}
	}
	if p.drive != 0xE0 || p.lba[0] != 0x1A {
		t.Fatalf("drive=%#x lba=%v", p.drive, p.lba)
	}
}
