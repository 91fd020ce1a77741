package mbr

import (
	"errors"
	"testing"
)

func TestFindFAT32(t *testing.T) {
	var buf [SectorSize]byte
	mbr, err := ToBootSector(buf[:])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mbr.FindFAT32(); !errors.Is(err, errNoSignature) {
		t.Fatalf("blank sector: got %v", err)
	}
	mbr.SetBootSignature()
	if _, err := mbr.FindFAT32(); !errors.Is(err, ErrNoPartition) {
		t.Fatalf("empty table: got %v", err)
	}

	mbr.SetPartitionTable(0, MakePTE(0, 0x83, 63, 1000, CHSUnused, CHSUnused))
	mbr.SetPartitionTable(1, MakePTE(0, PartitionTypeFAT32CHS, 2048, 4096, CHSUnused, CHSUnused))
	mbr.SetPartitionTable(2, MakePTE(DriveAttrsBootable, PartitionTypeFAT32LBA, 8192, 0, CHSUnused, CHSUnused))
	pte, err := mbr.FindFAT32()
	if err != nil {
		t.Fatal(err)
	}
	if pte.StartLBA() != 2048 || pte.NumberOfLBA() != 4096 {
		t.Errorf("got start=%d n=%d, want first non-empty FAT32 entry", pte.StartLBA(), pte.NumberOfLBA())
	}

	mbr.SetPartitionTable(3, MakePTE(DriveAttrsBootable, PartitionTypeFAT32LBA, 16384, 4096, CHSUnused, CHSUnused))
	pte, err = mbr.FindFAT32()
	if err != nil {
		t.Fatal(err)
	}
	if pte.StartLBA() != 16384 || !pte.Attributes().IsBootable() {
		t.Errorf("bootable entry not preferred: start=%d attrs=%#x", pte.StartLBA(), pte.Attributes())
	}
	if buf[pteOffset+3*pteLen+4] != byte(PartitionTypeFAT32LBA) {
		t.Error("SetPartitionTable did not write through to the sector")
	}
}

func TestDiskID(t *testing.T) {
	buf := make([]byte, SectorSize)
	mbr, _ := ToBootSector(buf)
	mbr.SetUniqueDiskID(0xDEADBEEF)
	if got := mbr.UniqueDiskID(); got != 0xDEADBEEF {
		t.Errorf("disk id %#x", got)
	}
	if len(mbr.Bootstrap()) != bootstrapLen {
		t.Error("bootstrap length")
	}
	if _, err := ToBootSector(buf[:100]); err == nil {
		t.Error("short sector accepted")
	}
}
