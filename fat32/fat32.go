// Package fat32 reads files from the root directory of a FAT32 volume over a
// raw block device. It is a minimal, read-only reader: only short (8.3) names
// in the root directory are matched and nothing is cached.
package fat32

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/bits"
	"strconv"

	"github.com/atlasboot/atlas/volume"
)

// BlockDevice is the read side of a sector addressed device.
type BlockDevice interface {
	ReadBlocks(dst []byte, startBlock int64) error
}

const (
	sizeDirEntry = 32
	mask28bits   = 0x0FFF_FFFF
	clusterEOC   = 0x0FFF_FFF8 // Any entry at or above ends a chain.
)

// Params is the immutable subset of the BPB captured at init.
type Params struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	FATCount          uint8
	SectorsPerFAT     uint32
	RootCluster       uint32
}

func (p Params) validate() error {
	if p.BytesPerSector < 512 || bits.OnesCount16(p.BytesPerSector) != 1 {
		return errors.New("fat32: sector size must be a power of two >= 512")
	} else if p.SectorsPerCluster == 0 || bits.OnesCount8(p.SectorsPerCluster) != 1 {
		return errors.New("fat32: sectors per cluster must be a power of two")
	} else if p.FATCount == 0 {
		return errors.New("fat32: no FAT")
	}
	return nil
}

// fileResult is the result code of a volume operation.
type fileResult int

const (
	frOK          fileResult = iota // succeeded
	frDiskErr                       // a hard error occurred in the low level disk I/O layer
	frIntErr                        // the volume structure is inconsistent
	frNoFile                        // could not find the file
	frNotEnabled                    // the volume has not been initialized
	frShortBuffer                   // destination too small for the cluster chain
)

func (fr fileResult) Error() string {
	switch fr {
	case frDiskErr:
		return "fat32: disk error"
	case frIntErr:
		return "fat32: corrupt volume structure"
	case frNoFile:
		return "fat32: file not found"
	case frNotEnabled:
		return "fat32: volume not initialized"
	case frShortBuffer:
		return "fat32: destination buffer too small"
	}
	return "fat32.fr:" + strconv.Itoa(int(fr))
}

// Is makes a missing file match volume.ErrNotFound.
func (fr fileResult) Is(target error) bool {
	return fr == frNoFile && target == volume.ErrNotFound
}

// ErrShortBuffer is returned when a cluster chain does not fit the destination.
var ErrShortBuffer error = frShortBuffer

// Volume reads files from the root directory of a FAT32 volume.
type Volume struct {
	bd       BlockDevice
	params   Params
	database uint32 // First sector of the data region.
	nfatent  uint32 // Number of FAT entries, bounds chain walks.
	win      []byte // One sector scratch buffer.
	log      *slog.Logger
}

var _ volume.Reader = (*Volume)(nil)

// New returns a volume reading from bd. Init must be called before use.
func New(bd BlockDevice) *Volume {
	return &Volume{bd: bd}
}

// SetLogger sets the logger. A nil logger disables logging.
func (v *Volume) SetLogger(l *slog.Logger) { v.log = l }

// Init stores the volume geometry and computes the data region start.
func (v *Volume) Init(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	v.params = p
	v.database = uint32(p.ReservedSectors) + uint32(p.FATCount)*p.SectorsPerFAT
	v.nfatent = p.SectorsPerFAT * uint32(p.BytesPerSector) / 4
	v.win = make([]byte, p.BytesPerSector)
	v.debug("fat32:init", slog.Uint64("database", uint64(v.database)), slog.Uint64("root", uint64(p.RootCluster)))
	return nil
}

// Params returns the geometry the volume was initialized with.
func (v *Volume) Params() Params { return v.params }

// ClusterSize returns the size of a cluster in bytes.
func (v *Volume) ClusterSize() int {
	return int(v.params.SectorsPerCluster) * int(v.params.BytesPerSector)
}

// FindAndRead looks name up in the root directory and copies its whole cluster
// chain into dst. The recorded file size is not consulted, so the copy extends
// to the end of the last cluster.
func (v *Volume) FindAndRead(name string, dst []byte) (int, error) {
	if v.win == nil {
		return 0, frNotEnabled
	}
	target := Normalize(name)
	v.debug("fat32:search", slog.String("name", string(target[:])))
	var found Entry
	fr := v.walkRoot(func(ent Entry) (stop bool) {
		if ent.short == target {
			found = ent
			return true
		}
		return false
	})
	if fr != frOK {
		return 0, fr
	}
	v.debug("fat32:found", slog.String("name", found.Name()), slog.Uint64("cluster", uint64(found.Cluster)))
	n, fr := v.readChain(found.Cluster, dst)
	if n > int(found.Size) {
		v.warn("fat32:chain exceeds recorded size", slog.Int("copied", n), slog.Uint64("size", uint64(found.Size)))
	}
	if fr != frOK {
		return n, fr
	}
	return n, nil
}

// ForEachEntry calls fn for every live short entry of the root directory,
// stopping at the end-of-directory marker or when fn returns a non-nil error.
func (v *Volume) ForEachEntry(fn func(Entry) error) error {
	if v.win == nil {
		return frNotEnabled
	}
	var err error
	fr := v.walkRoot(func(ent Entry) bool {
		err = fn(ent)
		return err != nil
	})
	if err != nil {
		return err
	} else if fr != frOK && fr != frNoFile {
		return fr
	}
	return nil
}

// walkRoot scans the root directory chain slot by slot. It returns frOK when
// visit stopped the walk, frNoFile when the directory ended.
func (v *Volume) walkRoot(visit func(Entry) bool) fileResult {
	cluster := v.params.RootCluster
	for hops := uint32(0); cluster < clusterEOC; hops++ {
		if hops > v.nfatent || cluster < 2 {
			v.logerror("fat32:bad directory chain", slog.Uint64("cluster", uint64(cluster)))
			return frIntErr
		}
		lba := v.clst2sect(cluster)
		for s := 0; s < int(v.params.SectorsPerCluster); s++ {
			if err := v.bd.ReadBlocks(v.win, int64(lba)+int64(s)); err != nil {
				v.logerror("fat32:read dir", slog.String("err", err.Error()))
				return frDiskErr
			}
			for off := 0; off < len(v.win); off += sizeDirEntry {
				ds := dirSector{data: v.win[off : off+sizeDirEntry]}
				if ds.isFree() {
					v.debug("fat32:end of directory")
					return frNoFile
				} else if ds.isDeleted() || ds.attributes().IsLFN() {
					continue
				}
				ent := ds.entry()
				v.debug("fat32:slot", slog.String("name", string(ent.short[:])))
				if visit(ent) {
					return frOK
				}
			}
		}
		next, fr := v.nextCluster(cluster)
		if fr != frOK {
			return fr
		}
		cluster = next
	}
	return frNoFile
}

// readChain copies every sector of the chain starting at cluster into dst.
func (v *Volume) readChain(cluster uint32, dst []byte) (n int, fr fileResult) {
	ssize := int(v.params.BytesPerSector)
	for hops := uint32(0); cluster >= 2 && cluster < clusterEOC; hops++ {
		if hops > v.nfatent {
			return n, frIntErr
		}
		lba := v.clst2sect(cluster)
		for s := 0; s < int(v.params.SectorsPerCluster); s++ {
			if len(dst[n:]) < ssize {
				// Never write past dst; report what fit.
				if err := v.bd.ReadBlocks(v.win, int64(lba)+int64(s)); err != nil {
					return n, frDiskErr
				}
				n += copy(dst[n:], v.win)
				return n, frShortBuffer
			}
			if err := v.bd.ReadBlocks(dst[n:n+ssize], int64(lba)+int64(s)); err != nil {
				return n, frDiskErr
			}
			n += ssize
		}
		cluster, fr = v.nextCluster(cluster)
		if fr != frOK {
			return n, fr
		}
	}
	return n, frOK
}

// nextCluster reads the single FAT sector holding cluster's entry and returns
// the next link masked to 28 bits.
func (v *Volume) nextCluster(cluster uint32) (uint32, fileResult) {
	perSector := uint32(v.params.BytesPerSector) / 4
	sect := uint32(v.params.ReservedSectors) + cluster/perSector
	if err := v.bd.ReadBlocks(v.win, int64(sect)); err != nil {
		v.logerror("fat32:read fat", slog.Uint64("sector", uint64(sect)))
		return 0, frDiskErr
	}
	fs := fat32Sector{data: v.win}
	return fs.Entry(int(cluster % perSector)).Cluster(), frOK
}

// clst2sect returns the first sector of a data cluster.
func (v *Volume) clst2sect(clst uint32) uint32 {
	return v.database + (clst-2)*uint32(v.params.SectorsPerCluster)
}

func (v *Volume) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if v.log != nil {
		v.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (v *Volume) debug(msg string, attrs ...slog.Attr) {
	v.logattrs(slog.LevelDebug, msg, attrs...)
}
func (v *Volume) warn(msg string, attrs ...slog.Attr) {
	v.logattrs(slog.LevelWarn, msg, attrs...)
}
func (v *Volume) logerror(msg string, attrs ...slog.Attr) {
	v.logattrs(slog.LevelError, msg, attrs...)
}

// fat32Sector is a File Allocation Table sector.
type fat32Sector struct {
	data []byte
}

type entry uint32

func (fs *fat32Sector) Entry(idx int) entry {
	return entry(binary.LittleEndian.Uint32(fs.data[idx*4:]))
}

// Cluster returns the link with the 4 reserved high bits masked off.
func (e entry) Cluster() uint32 {
	return uint32(e) & mask28bits
}
