// Package efi is the modern firmware surface the loader consumes: status
// codes, protocol GUIDs and the boot services, file, graphics and text
// protocols, expressed as Go interfaces. It also provides the loader's
// firmware backends built on them: the file service volume reader, the pool
// allocator and the page-reserving handoff target.
package efi

import (
	"fmt"
	"strconv"
)

// Status is an EFI_STATUS. Success is zero; error codes have the high bit set.
type Status uint64

const errorBit = 1 << 63

const (
	Success          Status = 0
	LoadError        Status = errorBit | 1
	InvalidParameter Status = errorBit | 2
	Unsupported      Status = errorBit | 3
	BadBufferSize    Status = errorBit | 4
	BufferTooSmall   Status = errorBit | 5
	NotReady         Status = errorBit | 6
	DeviceError      Status = errorBit | 7
	WriteProtected   Status = errorBit | 8
	OutOfResources   Status = errorBit | 9
	VolumeCorrupted  Status = errorBit | 10
	NoMedia          Status = errorBit | 12
	NotFound         Status = errorBit | 14
	AccessDenied     Status = errorBit | 15
)

// IsError reports whether the status is an error code.
func (s Status) IsError() bool { return s&errorBit != 0 }

// StatusCode returns the raw EFI_STATUS value.
func (s Status) StatusCode() uint64 { return uint64(s) }

func (s Status) Error() string {
	switch s {
	case Success:
		return "success"
	case LoadError:
		return "load error"
	case InvalidParameter:
		return "invalid parameter"
	case Unsupported:
		return "unsupported"
	case BadBufferSize:
		return "bad buffer size"
	case BufferTooSmall:
		return "buffer too small"
	case NotReady:
		return "not ready"
	case DeviceError:
		return "device error"
	case WriteProtected:
		return "write protected"
	case OutOfResources:
		return "out of resources"
	case VolumeCorrupted:
		return "volume corrupted"
	case NoMedia:
		return "no media"
	case NotFound:
		return "not found"
	case AccessDenied:
		return "access denied"
	}
	return "efi status 0x" + strconv.FormatUint(uint64(s), 16)
}

// GUID identifies a protocol.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

func (g GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%x", g.Data1, g.Data2, g.Data3, g.Data4[0], g.Data4[1], g.Data4[2:])
}

var (
	LoadedImageProtocolGUID      = GUID{0x5B1B31A1, 0x9562, 0x11D2, [8]byte{0x8E, 0x3F, 0x00, 0xA0, 0xC9, 0x69, 0x72, 0x3B}}
	SimpleFileSystemProtocolGUID = GUID{0x964E5B22, 0x6459, 0x11D2, [8]byte{0x8E, 0x39, 0x00, 0xA0, 0xC9, 0x69, 0x72, 0x3B}}
	GraphicsOutputProtocolGUID   = GUID{0x9042A9DE, 0x23DC, 0x4A38, [8]byte{0x96, 0xFB, 0x7A, 0xDE, 0xD0, 0x80, 0x51, 0x6A}}
)

// Handle is an opaque firmware object handle.
type Handle uintptr

// MemoryType is an EFI_MEMORY_TYPE.
type MemoryType uint32

const (
	ReservedMemory MemoryType = 0
	LoaderCode     MemoryType = 1
	LoaderData     MemoryType = 2
)

// AllocateType selects how AllocatePages chooses the address.
type AllocateType uint32

const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
)

// PageSize is the firmware page granularity.
const PageSize = 4096

// BootServices is the subset of EFI_BOOT_SERVICES used by the loader.
type BootServices interface {
	AllocatePool(memType MemoryType, size int) (addr uint64, st Status)
	FreePool(addr uint64) Status
	// AllocatePages honors addr only for AllocateAddress and AllocateMaxAddress.
	AllocatePages(typ AllocateType, memType MemoryType, pages int, addr uint64) (uint64, Status)
	HandleProtocol(h Handle, protocol GUID) (any, Status)
	LocateProtocol(protocol GUID) (any, Status)
}

// LoadedImage is the part of EFI_LOADED_IMAGE_PROTOCOL used to find the boot volume.
type LoadedImage struct {
	DeviceHandle Handle
}

// SimpleFileSystem is EFI_SIMPLE_FILE_SYSTEM_PROTOCOL.
type SimpleFileSystem interface {
	OpenVolume() (File, Status)
}

// File open modes.
const (
	FileModeRead   uint64 = 0x0000000000000001
	FileModeWrite  uint64 = 0x0000000000000002
	FileModeCreate uint64 = 0x8000000000000000
)

// File is EFI_FILE_PROTOCOL.
type File interface {
	// Open opens name, a NUL terminated UCS-2 path relative to the file.
	Open(name []uint16, mode, attrs uint64) (File, Status)
	// Read reads up to len(buf) bytes.
	Read(buf []byte) (int, Status)
	Close() Status
}

// GraphicsOutput is EFI_GRAPHICS_OUTPUT_PROTOCOL. A nil Mode means no mode is set.
type GraphicsOutput struct {
	Mode *GraphicsMode
}

type GraphicsMode struct {
	MaxMode         uint32
	Mode            uint32
	Info            ModeInformation
	FrameBufferBase uint64
	FrameBufferSize uint64
}

type ModeInformation struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          uint32
	PixelsPerScanLine    uint32
}

// InputKey is EFI_INPUT_KEY.
type InputKey struct {
	ScanCode    uint16
	UnicodeChar uint16
}

// SimpleTextInput is EFI_SIMPLE_TEXT_INPUT_PROTOCOL. ReadKeyStroke returns
// NotReady when no key is pending.
type SimpleTextInput interface {
	ReadKeyStroke() (InputKey, Status)
}

// SimpleTextOutput is EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.
type SimpleTextOutput interface {
	OutputString(s []uint16) Status
	SetAttribute(attr uint) Status
	SetCursorPosition(col, row int) Status
	ClearScreen() Status
	EnableCursor(visible bool) Status
	// QueryMode returns the geometry of the current text mode.
	QueryMode() (cols, rows int, st Status)
}

// SystemTable is the part of EFI_SYSTEM_TABLE handed to the loader.
type SystemTable struct {
	ConIn        SimpleTextInput
	ConOut       SimpleTextOutput
	BootServices BootServices
}
