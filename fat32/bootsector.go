package fat32

import (
	"encoding/binary"
	"errors"
	"strconv"
)

// Boot sector field offsets.
const (
	bsJmpBoot      = 0
	bsOEMName      = 3
	bpbBytsPerSec  = 11
	bpbSecPerClus  = 13
	bpbRsvdSecCnt  = 14
	bpbNumFATs     = 16
	bpbRootEntCnt  = 17
	bpbTotSec16    = 19
	bpbMedia       = 21
	bpbFATSz16     = 22
	bpbSecPerTrk   = 24
	bpbNumHeads    = 26
	bpbHiddSec     = 28
	bpbTotSec32    = 32
	bpbFATSz32     = 36
	bpbExtFlags32  = 40
	bpbFSVer32     = 42
	bpbRootClus32  = 44
	bpbFSInfo32    = 48
	bpbBkBootSec32 = 50
	bsDrvNum32     = 64
	bsBootSig32    = 66
	bsVolID32      = 67
	bsVolLab32     = 71
	bsFilSysType32 = 82
	bs55AA         = 510
)

var (
	errBootSectorShort = errors.New("fat32: boot sector shorter than 512 bytes")
	errBootSignature   = errors.New("fat32: missing 0xAA55 boot signature")
	errNotFAT32        = errors.New("fat32: volume is not FAT32")
)

// BootSector is a view over a 512 byte volume boot record holding the BIOS
// Parameter Block. It aliases the slice it was created from.
type BootSector struct {
	data []byte
}

// ToBootSector wraps the first 512 bytes of b.
func ToBootSector(b []byte) (BootSector, error) {
	if len(b) < 512 {
		return BootSector{}, errBootSectorShort
	}
	return BootSector{data: b[:512:512]}, nil
}

// ParseBootSector captures the volume parameters from a FAT32 volume boot record.
func ParseBootSector(sector []byte) (Params, error) {
	bs, err := ToBootSector(sector)
	if err != nil {
		return Params{}, err
	}
	if bs.BootSignature() != 0xAA55 {
		return Params{}, errBootSignature
	}
	if bs.RootDirEntries() != 0 || bs.SectorsPerFAT() == 0 || bs.RootCluster() < 2 {
		return Params{}, errNotFAT32
	}
	p := bs.Params()
	if err := p.validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Params returns the subset of the BPB needed to read the volume.
func (bs *BootSector) Params() Params {
	return Params{
		BytesPerSector:    bs.SectorSize(),
		SectorsPerCluster: uint8(bs.SectorsPerCluster()),
		ReservedSectors:   bs.ReservedSectors(),
		FATCount:          bs.NumberOfFATs(),
		SectorsPerFAT:     bs.SectorsPerFAT(),
		RootCluster:       bs.RootCluster(),
	}
}

// SectorSize returns the size of a sector in bytes.
func (bs *BootSector) SectorSize() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbBytsPerSec:])
}

// SetSectorSize sets the size of a sector in bytes.
func (bs *BootSector) SetSectorSize(size uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBytsPerSec:], size)
}

// SectorsPerFAT returns the number of sectors per File Allocation Table.
func (bs *BootSector) SectorsPerFAT() uint32 {
	fatsz := uint32(binary.LittleEndian.Uint16(bs.data[bpbFATSz16:]))
	if fatsz == 0 {
		fatsz = binary.LittleEndian.Uint32(bs.data[bpbFATSz32:])
	}
	return fatsz
}

// SetSectorsPerFAT sets the FAT32 FAT size and clears the FAT12/16 field.
func (bs *BootSector) SetSectorsPerFAT(fatsz uint32) {
	binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], 0)
	binary.LittleEndian.PutUint32(bs.data[bpbFATSz32:], fatsz)
}

// NumberOfFATs returns the number of File Allocation Tables. Should be 1 or 2.
func (bs *BootSector) NumberOfFATs() uint8 {
	return bs.data[bpbNumFATs]
}

func (bs *BootSector) SetNumberOfFATs(nfats uint8) {
	bs.data[bpbNumFATs] = nfats
}

// SectorsPerCluster returns the number of sectors per cluster.
// Should be a power of 2 and not larger than 128.
func (bs *BootSector) SectorsPerCluster() uint16 {
	return uint16(bs.data[bpbSecPerClus])
}

func (bs *BootSector) SetSectorsPerCluster(spclus uint16) {
	bs.data[bpbSecPerClus] = byte(spclus)
}

// ReservedSectors returns the number of reserved sectors at the beginning of the volume.
// The boot sector, FS information sector and their backups live here; so does
// the second stage loader on Atlas volumes.
func (bs *BootSector) ReservedSectors() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRsvdSecCnt:])
}

func (bs *BootSector) SetReservedSectors(rsvd uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRsvdSecCnt:], rsvd)
}

// TotalSectors returns the total number of sectors in the volume.
func (bs *BootSector) TotalSectors() uint32 {
	totsec := uint32(binary.LittleEndian.Uint16(bs.data[bpbTotSec16:]))
	if totsec == 0 {
		totsec = binary.LittleEndian.Uint32(bs.data[bpbTotSec32:])
	}
	return totsec
}

func (bs *BootSector) SetTotalSectors(totsec uint32) {
	binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], 0)
	binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], totsec)
}

// RootDirEntries is zero on FAT32, the root directory is a cluster chain.
func (bs *BootSector) RootDirEntries() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRootEntCnt:])
}

// RootCluster returns the first cluster of the root directory.
func (bs *BootSector) RootCluster() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbRootClus32:])
}

func (bs *BootSector) SetRootCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbRootClus32:], cluster)
}

// FSInfo returns the sector number of the FS Information Sector.
func (bs *BootSector) FSInfo() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbFSInfo32:])
}

func (bs *BootSector) SetFSInfo(sector uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbFSInfo32:], sector)
}

func (bs *BootSector) SetBackupBootSector(sector uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBkBootSec32:], sector)
}

// HiddenSectors is the LBA of the volume on its disk.
func (bs *BootSector) HiddenSectors() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbHiddSec:])
}

func (bs *BootSector) SetHiddenSectors(n uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbHiddSec:], n)
}

// VolumeLabel returns the volume label string.
func (bs *BootSector) VolumeLabel() [11]byte {
	var label [11]byte
	copy(label[:], bs.data[bsVolLab32:])
	return label
}

// SetVolumeLabel sets the label, space padded and clipped to 11 bytes.
func (bs *BootSector) SetVolumeLabel(label string) {
	n := copy(bs.data[bsVolLab32:bsVolLab32+11], label)
	for i := n; i < 11; i++ {
		bs.data[bsVolLab32+i] = ' '
	}
}

// FilesystemType returns the filesystem type string, usually "FAT32   ".
func (bs *BootSector) FilesystemType() [8]byte {
	var label [8]byte
	copy(label[:], bs.data[bsFilSysType32:])
	return label
}

// SetFilesystemType writes the informational type string, space padded.
func (bs *BootSector) SetFilesystemType(typ string) {
	n := copy(bs.data[bsFilSysType32:bsFilSysType32+8], typ)
	for i := n; i < 8; i++ {
		bs.data[bsFilSysType32+i] = ' '
	}
}

// OEMName returns the Original Equipment Manufacturer name at the start of the bootsector.
func (bs *BootSector) OEMName() [8]byte {
	var oemname [8]byte
	copy(oemname[:], bs.data[bsOEMName:])
	return oemname
}

// SetOEMName sets the OEM name. Will clip off any characters beyond the 8th.
func (bs *BootSector) SetOEMName(name string) {
	n := copy(bs.data[bsOEMName:bsOEMName+8], name)
	for i := n; i < 8; i++ {
		bs.data[bsOEMName+i] = ' '
	}
}

// SetJump writes the x86 short jump over the BPB expected at offset 0.
func (bs *BootSector) SetJump() {
	bs.data[bsJmpBoot] = 0xEB
	bs.data[bsJmpBoot+1] = 0x58
	bs.data[bsJmpBoot+2] = 0x90
}

func (bs *BootSector) SetMedia(media byte) { bs.data[bpbMedia] = media }

func (bs *BootSector) SetExtendedBoot(drive uint8, serial uint32) {
	bs.data[bsDrvNum32] = drive
	bs.data[bsBootSig32] = 0x29
	binary.LittleEndian.PutUint32(bs.data[bsVolID32:], serial)
}

// BootSignature returns the boot signature at offset 510 which should be 0xAA55.
func (bs *BootSector) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bs55AA:])
}

func (bs *BootSector) SetBootSignature() {
	binary.LittleEndian.PutUint16(bs.data[bs55AA:], 0xAA55)
}

func (bs *BootSector) String() string {
	return string(bs.Appendf(nil, '\n'))
}

// Appendf appends a human readable field listing to dst, one field per separator.
func (bs *BootSector) Appendf(dst []byte, separator byte) []byte {
	appendData := func(name string, data []byte) {
		data = clipname(data)
		if len(data) == 0 {
			return
		}
		dst = append(dst, name...)
		dst = append(dst, ':')
		dst = append(dst, data...)
		dst = append(dst, separator)
	}
	appendInt := func(name string, data uint32) {
		dst = append(dst, name...)
		dst = append(dst, ':')
		dst = strconv.AppendUint(dst, uint64(data), 10)
		dst = append(dst, separator)
	}
	oem := bs.OEMName()
	appendData("OEM", oem[:])
	fstype := bs.FilesystemType()
	appendData("FSType", fstype[:])
	label := bs.VolumeLabel()
	appendData("VolumeLabel", label[:])
	appendInt("VolumeOffset", bs.HiddenSectors())
	appendInt("SectorSize", uint32(bs.SectorSize()))
	appendInt("SectorsPerCluster", uint32(bs.SectorsPerCluster()))
	appendInt("ReservedSectors", uint32(bs.ReservedSectors()))
	appendInt("NumberOfFATs", uint32(bs.NumberOfFATs()))
	appendInt("TotalSectors", bs.TotalSectors())
	appendInt("SectorsPerFAT", bs.SectorsPerFAT())
	appendInt("RootCluster", bs.RootCluster())
	appendInt("FSInfo", uint32(bs.FSInfo()))
	return dst
}

// clipname trims trailing spaces and NULs from a fixed width field.
func clipname(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == 0) {
		b = b[:len(b)-1]
	}
	return b
}
