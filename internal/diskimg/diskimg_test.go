package diskimg_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/atlasboot/atlas/fat32"
	"github.com/atlasboot/atlas/internal/diskimg"
	"github.com/atlasboot/atlas/internal/mbr"
)

type memDisk struct {
	data  []byte
	start int64
}

func (d memDisk) ReadBlocks(dst []byte, startBlock int64) error {
	off := (d.start + startBlock) * diskimg.SectorSize
	if off < 0 || off+int64(len(dst)) > int64(len(d.data)) {
		return errors.New("read past end of disk")
	}
	copy(dst, d.data[off:])
	return nil
}

func smallImage(t *testing.T, withMBR bool) *diskimg.Image {
	t.Helper()
	img, err := diskimg.New(diskimg.Options{TotalSectors: 4096, SectorsPerFAT: 16, MBR: withMBR})
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func mount(t *testing.T, disk []byte) *fat32.Volume {
	t.Helper()
	lba, err := diskimg.FindVolume(disk[:diskimg.SectorSize])
	if err != nil {
		t.Fatal(err)
	}
	dev := memDisk{data: disk, start: int64(lba)}
	params, err := fat32.ParseBootSector(disk[int(lba)*diskimg.SectorSize:])
	if err != nil {
		t.Fatal(err)
	}
	vol := fat32.New(dev)
	if err := vol.Init(params); err != nil {
		t.Fatal(err)
	}
	return vol
}

func TestRoundTrip(t *testing.T) {
	for _, withMBR := range []bool{false, true} {
		img := smallImage(t, withMBR)
		cfg := []byte("[entry]\nname=Kernel\nkernel=KERNEL.BIN\n")
		kernel := bytes.Repeat([]byte("atlas"), 300) // Three clusters.
		if err := img.Add("ATLAS.CFG", cfg); err != nil {
			t.Fatal(err)
		}
		if err := img.Add("kernel.bin", kernel); err != nil {
			t.Fatal(err)
		}
		vol := mount(t, img.Bytes())

		dst := make([]byte, 4*diskimg.SectorSize)
		n, err := vol.FindAndRead("KERNEL.BIN", dst)
		if err != nil {
			t.Fatalf("mbr=%v: %v", withMBR, err)
		}
		// Whole clusters are read.
		if n != 3*diskimg.SectorSize || !bytes.Equal(dst[:len(kernel)], kernel) {
			t.Fatalf("mbr=%v: read %d bytes", withMBR, n)
		}
		n, err = vol.FindAndRead("ATLAS.CFG", dst)
		if err != nil || !bytes.HasPrefix(dst[:n], cfg) {
			t.Fatalf("mbr=%v: config n=%d err=%v", withMBR, n, err)
		}
	}
}

func TestLayout(t *testing.T) {
	img := smallImage(t, false)
	vol := img.Volume()
	bs, _ := fat32.ToBootSector(vol)
	if bs.ReservedSectors() != diskimg.ReservedSectors || bs.NumberOfFATs() != diskimg.FATCount {
		t.Fatalf("bpb: %s", bs.String())
	}
	if label := bs.VolumeLabel(); string(label[:]) != "ATLAS BOOT " {
		t.Errorf("label %q", label)
	}
	if !bytes.Equal(vol[6*512:7*512], vol[:512]) {
		t.Error("backup boot sector differs")
	}
	for _, sector := range []int{1, 7} {
		fsinfo := vol[sector*512:]
		if string(fsinfo[:4]) != "RRaA" || string(fsinfo[484:488]) != "rrAa" {
			t.Errorf("fsinfo sector %d missing signatures", sector)
		}
	}
	img.Add("A.TXT", []byte("a"))
	var names []string
	var attrs []fat32.Attributes
	mount(t, vol).ForEachEntry(func(e fat32.Entry) error {
		names = append(names, e.Name())
		attrs = append(attrs, e.Attr)
		return nil
	})
	if len(names) != 2 || names[1] != "A.TXT" || !attrs[0].IsVolumeLabel() || !attrs[1].IsArchive() {
		t.Fatalf("root %q attrs %v", names, attrs)
	}
}

func TestSubdirectory(t *testing.T) {
	img := smallImage(t, false)
	if err := img.Add(`efi\boot\bootx64.efi`, []byte{0x4D, 0x5A}); err != nil {
		t.Fatal(err)
	}
	if err := img.Add("EFI/BOOT/ATLAS.CFG", []byte("title=x")); err != nil {
		t.Fatal(err)
	}
	var dirs int
	mount(t, img.Volume()).ForEachEntry(func(e fat32.Entry) error {
		if e.Attr.IsSubdirectory() {
			dirs++
			if e.Name() != "EFI" {
				t.Errorf("directory %q", e.Name())
			}
		}
		return nil
	})
	if dirs != 1 {
		t.Fatalf("got %d root directories", dirs)
	}
	// Nested files are not visible to the flat root lookup.
	_, err := mount(t, img.Volume()).FindAndRead("ATLAS.CFG", make([]byte, 512))
	if err == nil {
		t.Fatal("nested file found in root")
	}
}

func TestFull(t *testing.T) {
	img := smallImage(t, false)
	var err error
	for i := 0; err == nil && i < 20; i++ {
		err = img.Add(fmt.Sprintf("F%d.BIN", i), nil)
	}
	if !errors.Is(err, diskimg.ErrDirectoryFull) {
		t.Fatalf("want directory full, got %v", err)
	}
	img = smallImage(t, false)
	err = img.Add("HUGE.BIN", make([]byte, 4096*diskimg.SectorSize))
	if !errors.Is(err, diskimg.ErrVolumeFull) {
		t.Fatalf("want volume full, got %v", err)
	}
}

func TestMBR(t *testing.T) {
	img := smallImage(t, true)
	disk := img.Bytes()
	bs, err := mbr.ToBootSector(disk)
	if err != nil {
		t.Fatal(err)
	}
	pte, err := bs.FindFAT32()
	if err != nil {
		t.Fatal(err)
	}
	if pte.StartLBA() != diskimg.PartitionStart || pte.NumberOfLBA() != 4096 || img.VolumeLBA() != diskimg.PartitionStart {
		t.Fatalf("partition at %d size %d", pte.StartLBA(), pte.NumberOfLBA())
	}
	vbr, _ := fat32.ToBootSector(disk[diskimg.PartitionStart*diskimg.SectorSize:])
	if vbr.HiddenSectors() != diskimg.PartitionStart {
		t.Errorf("hidden sectors %d", vbr.HiddenSectors())
	}
	if _, err := diskimg.FindVolume(make([]byte, 512)); err == nil {
		t.Error("blank sector located a volume")
	}
}

func TestSectorSize(t *testing.T) {
	img, err := diskimg.New(diskimg.Options{BytesPerSector: 1024, TotalSectors: 2048, SectorsPerFAT: 8, MBR: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := img.Add("K.BIN", bytes.Repeat([]byte{0xAB}, 1500)); err != nil {
		t.Fatal(err)
	}
	if len(img.Volume()) != 2048*1024 {
		t.Fatalf("volume is %d bytes", len(img.Volume()))
	}
	params, err := fat32.ParseBootSector(img.Volume())
	if err != nil {
		t.Fatal(err)
	}
	if params.BytesPerSector != 1024 {
		t.Errorf("BytesPerSector %d", params.BytesPerSector)
	}
	bs, _ := fat32.ToBootSector(img.Volume())
	if got := bs.HiddenSectors(); got != diskimg.PartitionStart/2 {
		t.Errorf("hidden sectors %d counted in volume sectors", got)
	}
	disk := img.Bytes()
	m, _ := mbr.ToBootSector(disk)
	pte := m.PartitionTable(0)
	if pte.StartLBA() != diskimg.PartitionStart || pte.NumberOfLBA() != 4096 {
		t.Errorf("partition start=%d n=%d in disk sectors", pte.StartLBA(), pte.NumberOfLBA())
	}
	// K.BIN spans clusters 3 and 4: the second cluster begins 1024 bytes in.
	data := img.Volume()[(32+2*8+1)*1024:]
	if data[0] != 0xAB || data[1024+475] != 0xAB || data[1024+476] != 0 {
		t.Error("file data not laid out in 1024 byte clusters")
	}

	for _, bps := range []int{256, 768, 8192} {
		if _, err := diskimg.New(diskimg.Options{BytesPerSector: bps}); err == nil {
			t.Errorf("sector size %d accepted", bps)
		}
	}
}
