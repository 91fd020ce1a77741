package fat32

import (
	"encoding/binary"
)

// Directory entry field offsets.
const (
	dirNameOff       = 0
	dirAttrOff       = 11
	dirFstClusHIOff  = 20
	dirFstClusLOOff  = 26
	dirFileSizeOff   = 28
	shortNameLen     = 11
	shortNameBaseLen = 8
)

// ShortName is the fixed 11 byte on-disk name: 8 byte base and 3 byte
// extension, uppercase and space padded.
type ShortName [shortNameLen]byte

// Normalize converts name to its short form. The base is copied up to the
// first dot or 8 characters, the extension up to 3 characters after that dot,
// stopping at a space. Lowercase ASCII is uppercased, the rest is kept verbatim.
// A NUL byte ends the name.
func Normalize(name string) (sn ShortName) {
	for i := range sn {
		sn[i] = ' '
	}
	i := 0
	for i < len(name) && name[i] != 0 && name[i] != '.' && i < shortNameBaseLen {
		sn[i] = toUpper(name[i])
		i++
	}
	for i < len(name) && name[i] != 0 && name[i] != '.' {
		i++ // Base longer than 8 characters is truncated.
	}
	if i < len(name) && name[i] == '.' {
		i++
		for j := 0; i < len(name) && name[i] != 0 && name[i] != ' ' && j < 3; j++ {
			sn[shortNameBaseLen+j] = toUpper(name[i])
			i++
		}
	}
	return sn
}

// String returns the dotted form of the name, "KERNEL.BIN" for "KERNEL  BIN".
// Normalizing the dotted form yields the same short name.
func (sn ShortName) String() string {
	base := clipname(sn[:shortNameBaseLen])
	ext := clipname(sn[shortNameBaseLen:])
	if len(ext) == 0 {
		return string(base)
	}
	return string(base) + "." + string(ext)
}

func toUpper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// Entry is a short directory entry found in the root directory.
type Entry struct {
	short   ShortName
	Attr    Attributes
	Cluster uint32 // First cluster of the chain.
	Size    uint32 // Recorded size in bytes; not used to bound reads.
}

// Name returns the dotted form of the entry name.
func (e Entry) Name() string { return e.short.String() }

// ShortName returns the raw 11 byte name.
func (e Entry) ShortName() ShortName { return e.short }

// Attributes is the attribute byte of a directory entry.
type Attributes byte

// IsLFN indicates that the entry is a Long File Name entry.
func (attr Attributes) IsLFN() bool { return attr == 0x0F }

// IsReadonly indicates that the file is read-only and must not be written to.
func (attr Attributes) IsReadonly() bool { return attr&(1<<0) != 0 }

// IsHidden indicates that the file is hidden and should not be shown in directory listings.
func (attr Attributes) IsHidden() bool { return attr&(1<<1) != 0 }

// IsSystem indicates that the file belongs to the system and must not be physically moved.
func (attr Attributes) IsSystem() bool { return attr&(1<<2) != 0 }

// IsVolumeLabel indicates the volume label entry, normally only residing in the root directory.
func (attr Attributes) IsVolumeLabel() bool { return attr&(1<<3) != 0 }

// IsSubdirectory indicates that the cluster chain holds a directory.
func (attr Attributes) IsSubdirectory() bool { return attr&(1<<4) != 0 }

// IsArchive returns the archive bit.
func (attr Attributes) IsArchive() bool { return attr&(1<<5) != 0 }

// dirSector is a view over one 32 byte directory slot.
type dirSector struct {
	data []byte
}

// isFree checks if the slot is available and no subsequent slot is in use.
func (ds *dirSector) isFree() bool {
	return ds.data[dirNameOff] == 0x00
}

func (ds *dirSector) isDeleted() bool {
	return ds.data[dirNameOff] == 0xE5
}

func (ds *dirSector) attributes() Attributes {
	return Attributes(ds.data[dirAttrOff])
}

func (ds *dirSector) cluster() uint32 {
	return uint32(binary.LittleEndian.Uint16(ds.data[dirFstClusHIOff:]))<<16 |
		uint32(binary.LittleEndian.Uint16(ds.data[dirFstClusLOOff:]))
}

func (ds *dirSector) size() uint32 {
	return binary.LittleEndian.Uint32(ds.data[dirFileSizeOff:])
}

func (ds *dirSector) entry() Entry {
	var ent Entry
	copy(ent.short[:], ds.data[dirNameOff:dirNameOff+shortNameLen])
	ent.Attr = ds.attributes()
	ent.Cluster = ds.cluster()
	ent.Size = ds.size()
	return ent
}

// PutEntry encodes a short directory entry into the 32 byte slot dst.
func PutEntry(dst []byte, name ShortName, attr Attributes, cluster, size uint32) {
	_ = dst[sizeDirEntry-1]
	clear(dst[:sizeDirEntry])
	copy(dst[dirNameOff:], name[:])
	dst[dirAttrOff] = byte(attr)
	binary.LittleEndian.PutUint16(dst[dirFstClusHIOff:], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(dst[dirFstClusLOOff:], uint16(cluster))
	binary.LittleEndian.PutUint32(dst[dirFileSizeOff:], size)
}
