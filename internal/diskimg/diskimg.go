// Package diskimg builds FAT32 boot disk images: a volume boot record with
// FSInfo and backup copies, two mirrored FATs, a labelled root directory and
// files laid out contiguously, optionally wrapped in an MBR.
package diskimg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlasboot/atlas/fat32"
	"github.com/atlasboot/atlas/internal/mbr"
)

// Layout of the default image. SectorSize is also the disk sector size that
// partition offsets are counted in.
const (
	SectorSize      = 512
	ReservedSectors = 32
	FATCount        = 2
	SectorsPerFAT   = 0x400
	TotalSectors    = 0x20000
	RootCluster     = 2
	DefaultLabel    = "ATLAS BOOT"

	fsInfoSector       = 1
	backupBootSector   = 6
	backupFSInfoSector = 7
	// Stage2Sector is where a second stage loader is placed in the reserved area.
	Stage2Sector = 8
	// PartitionStart is the first sector of the volume when an MBR is written.
	PartitionStart = 2048

	fatEOC   = 0x0FFF_FFFF
	fatMedia = 0x0FFF_FFF8
	mask28   = 0x0FFF_FFFF
)

var (
	ErrDirectoryFull = errors.New("diskimg: no free slot in directory")
	ErrVolumeFull    = errors.New("diskimg: volume full")
	errStage2Size    = errors.New("diskimg: second stage overlaps the FAT")
	errSectorSize    = errors.New("diskimg: sector size must be a power of two from 512 to 4096")
)

// Options configures an image. Zero fields take the defaults above.
type Options struct {
	// BytesPerSector is the volume sector size. Sector counts below are in
	// these units.
	BytesPerSector int
	TotalSectors   uint32
	SectorsPerFAT  uint32
	Label          string
	// BootSector, when set, is copied to sector 0 before the BPB is written so
	// boot code survives while the parameters stay consistent.
	BootSector []byte
	// Stage2 is copied into the reserved area starting at Stage2Sector.
	Stage2 []byte
	// MBR wraps the volume in a partitioned disk starting at PartitionStart.
	MBR    bool
	Logger *slog.Logger
}

// Image is a FAT32 volume under construction. Every cluster is one volume
// sector.
type Image struct {
	opts        Options
	bps         int
	vol         []byte
	dataSector  uint32
	nextCluster uint32
	maxCluster  uint32
	dirs        map[string]uint32
	files       int
}

// New formats an empty volume.
func New(opts Options) (*Image, error) {
	if opts.TotalSectors == 0 {
		opts.TotalSectors = TotalSectors
	}
	if opts.SectorsPerFAT == 0 {
		opts.SectorsPerFAT = SectorsPerFAT
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.BytesPerSector == 0 {
		opts.BytesPerSector = SectorSize
	}
	bps := opts.BytesPerSector
	if bps < SectorSize || bps > 4096 || bps&(bps-1) != 0 {
		return nil, errSectorSize
	}
	if len(opts.Stage2) > (ReservedSectors-Stage2Sector)*bps {
		return nil, errStage2Size
	}
	dataSector := uint32(ReservedSectors) + FATCount*opts.SectorsPerFAT
	if opts.TotalSectors <= dataSector+1 {
		return nil, fmt.Errorf("diskimg: %d sectors cannot hold %d sector FATs", opts.TotalSectors, opts.SectorsPerFAT)
	}
	img := &Image{
		opts:        opts,
		bps:         bps,
		vol:         make([]byte, int(opts.TotalSectors)*bps),
		dataSector:  dataSector,
		nextCluster: RootCluster + 1,
		dirs:        map[string]uint32{"": RootCluster},
	}
	// Clusters addressable by both the data region and the FAT.
	img.maxCluster = min(opts.TotalSectors-dataSector+1, opts.SectorsPerFAT*uint32(bps)/4-1)

	if err := img.writeBootSector(); err != nil {
		return nil, err
	}
	img.writeFSInfo(fsInfoSector)
	img.writeFSInfo(backupFSInfoSector)
	copy(img.sector(backupBootSector), img.sector(0))
	copy(img.vol[Stage2Sector*bps:], opts.Stage2)

	img.setFAT(0, fatMedia)
	img.setFAT(1, fatEOC)
	img.setFAT(RootCluster, fatEOC)
	fat32.PutEntry(img.cluster(RootCluster), labelName(opts.Label), 0x08, 0, 0)
	return img, nil
}

func (img *Image) writeBootSector() error {
	s := img.sector(0)
	copy(s, img.opts.BootSector)
	bs, err := fat32.ToBootSector(s)
	if err != nil {
		return err
	}
	if len(img.opts.BootSector) == 0 {
		bs.SetJump()
		bs.SetOEMName("ATLAS   ")
	}
	bs.SetSectorSize(uint16(img.bps))
	bs.SetSectorsPerCluster(1)
	bs.SetReservedSectors(ReservedSectors)
	bs.SetNumberOfFATs(FATCount)
	bs.SetMedia(0xF8)
	bs.SetTotalSectors(img.opts.TotalSectors)
	bs.SetSectorsPerFAT(img.opts.SectorsPerFAT)
	bs.SetRootCluster(RootCluster)
	bs.SetFSInfo(fsInfoSector)
	bs.SetBackupBootSector(backupBootSector)
	if img.opts.MBR {
		bs.SetHiddenSectors(PartitionStart * SectorSize / uint32(img.bps))
	}
	bs.SetExtendedBoot(0x80, 0x41544C53)
	bs.SetVolumeLabel(img.opts.Label)
	bs.SetFilesystemType("FAT32   ")
	bs.SetBootSignature()
	return nil
}

func (img *Image) writeFSInfo(sector int) {
	s := img.sector(sector)
	binary.LittleEndian.PutUint32(s[0:], 0x41615252)
	binary.LittleEndian.PutUint32(s[484:], 0x61417272)
	binary.LittleEndian.PutUint32(s[488:], 0xFFFFFFFF) // Free cluster count unknown.
	binary.LittleEndian.PutUint32(s[492:], 0xFFFFFFFF) // Next free cluster unknown.
	binary.LittleEndian.PutUint32(s[508:], 0xAA550000)
}

// Add stores data under name. Slashes or backslashes in name create
// subdirectories as needed. Every file takes at least one cluster.
func (img *Image) Add(name string, data []byte) error {
	name = strings.Trim(strings.ReplaceAll(name, `\`, "/"), "/")
	dirPath, base := "", name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		dirPath, base = name[:i], name[i+1:]
	}
	if base == "" {
		return fmt.Errorf("diskimg: empty file name %q", name)
	}
	dir, err := img.mkdirAll(strings.ToUpper(dirPath))
	if err != nil {
		return err
	}
	n := uint32((len(data) + img.bps - 1) / img.bps)
	if n == 0 {
		n = 1
	}
	start, err := img.allocate(n)
	if err != nil {
		return fmt.Errorf("diskimg: %s: %w", name, err)
	}
	for i := uint32(0); i < n; i++ {
		c := start + i
		copy(img.cluster(c), data[min(int(i)*img.bps, len(data)):])
		if i == n-1 {
			img.setFAT(c, fatEOC)
		} else {
			img.setFAT(c, c+1)
		}
	}
	slot, err := img.freeSlot(dir)
	if err != nil {
		return fmt.Errorf("diskimg: %s: %w", name, err)
	}
	fat32.PutEntry(slot, fat32.Normalize(base), 0x20, start, uint32(len(data)))
	img.files++
	img.debug("diskimg:add", slog.String("name", name), slog.Uint64("cluster", uint64(start)), slog.Int("size", len(data)))
	return nil
}

// mkdirAll returns the cluster of the directory at path, creating missing
// components with their dot entries.
func (img *Image) mkdirAll(path string) (uint32, error) {
	if c, ok := img.dirs[path]; ok {
		return c, nil
	}
	parentPath, base := "", path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		parentPath, base = path[:i], path[i+1:]
	}
	parent, err := img.mkdirAll(parentPath)
	if err != nil {
		return 0, err
	}
	c, err := img.allocate(1)
	if err != nil {
		return 0, err
	}
	img.setFAT(c, fatEOC)
	d := img.cluster(c)
	fat32.PutEntry(d[0:32], dotName("."), 0x10, c, 0)
	dotdot := parent
	if parent == RootCluster {
		dotdot = 0
	}
	fat32.PutEntry(d[32:64], dotName(".."), 0x10, dotdot, 0)
	slot, err := img.freeSlot(parent)
	if err != nil {
		return 0, fmt.Errorf("diskimg: directory %s: %w", path, err)
	}
	fat32.PutEntry(slot, dotName(strings.ToUpper(base)), 0x10, c, 0)
	img.dirs[path] = c
	return c, nil
}

func (img *Image) allocate(n uint32) (uint32, error) {
	if img.nextCluster+n-1 > img.maxCluster {
		return 0, ErrVolumeFull
	}
	c := img.nextCluster
	img.nextCluster += n
	return c, nil
}

// freeSlot returns the first unused entry of a one cluster directory.
func (img *Image) freeSlot(dir uint32) ([]byte, error) {
	d := img.cluster(dir)
	for off := 0; off < len(d); off += 32 {
		if d[off] == 0x00 || d[off] == 0xE5 {
			return d[off : off+32], nil
		}
	}
	return nil, ErrDirectoryFull
}

func (img *Image) setFAT(cluster, value uint32) {
	for i := uint32(0); i < FATCount; i++ {
		off := (ReservedSectors+i*img.opts.SectorsPerFAT)*uint32(img.bps) + cluster*4
		binary.LittleEndian.PutUint32(img.vol[off:], value&mask28)
	}
}

func (img *Image) sector(n int) []byte {
	return img.vol[n*img.bps : (n+1)*img.bps]
}

func (img *Image) cluster(c uint32) []byte {
	return img.sector(int(img.dataSector + c - RootCluster))
}

// Volume returns the FAT32 volume bytes.
func (img *Image) Volume() []byte { return img.vol }

// Files returns the number of files added.
func (img *Image) Files() int { return img.files }

// Bytes returns the disk image: the volume itself or, with Options.MBR, a
// partitioned disk holding it.
func (img *Image) Bytes() []byte {
	if !img.opts.MBR {
		return img.vol
	}
	disk := make([]byte, PartitionStart*SectorSize+len(img.vol))
	bs, _ := mbr.ToBootSector(disk)
	bs.SetUniqueDiskID(0x41544C53)
	pte := mbr.MakePTE(mbr.DriveAttrsBootable, mbr.PartitionTypeFAT32LBA,
		PartitionStart, uint32(len(img.vol)/SectorSize), mbr.CHSUnused, mbr.CHSUnused)
	bs.SetPartitionTable(0, pte)
	bs.SetBootSignature()
	copy(disk[PartitionStart*SectorSize:], img.vol)
	return disk
}

// VolumeLBA returns the first sector of the FAT32 volume in Bytes.
func (img *Image) VolumeLBA() uint32 {
	if img.opts.MBR {
		return PartitionStart
	}
	return 0
}

// FindVolume returns the first sector of the FAT32 volume on a disk whose
// first sector is sector0: zero for a bare volume, the partition start for a
// partitioned disk.
func FindVolume(sector0 []byte) (uint32, error) {
	if _, err := fat32.ParseBootSector(sector0); err == nil {
		return 0, nil
	}
	bs, err := mbr.ToBootSector(sector0)
	if err != nil {
		return 0, err
	}
	pte, err := bs.FindFAT32()
	if err != nil {
		return 0, err
	}
	return pte.StartLBA(), nil
}

func labelName(label string) (sn fat32.ShortName) {
	return dotName(strings.ToUpper(label))
}

// dotName pads name to 11 bytes without splitting base and extension.
func dotName(name string) (sn fat32.ShortName) {
	for i := range sn {
		sn[i] = ' '
	}
	copy(sn[:], name)
	return sn
}

func (img *Image) debug(msg string, attrs ...slog.Attr) {
	if img.opts.Logger != nil {
		img.opts.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
