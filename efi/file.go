package efi

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/atlasboot/atlas/volume"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// MaxReadSize is the most FindAndRead reads from a single file.
	MaxReadSize = 10 << 20
	// maxNameUnits is the longest file name passed to Open, NUL excluded.
	maxNameUnits = 255
)

// FileError is a failed firmware file operation.
type FileError struct {
	Op     string
	Name   string
	Status Status
}

func (e *FileError) Error() string {
	return "efi: " + e.Op + " " + e.Name + ": " + e.Status.Error()
}

func (e *FileError) Unwrap() error { return e.Status }

// Is makes every file service failure match volume.ErrNotFound.
func (e *FileError) Is(target error) bool { return target == volume.ErrNotFound }

// FileVolume reads files from the volume the loader image was started from.
type FileVolume struct {
	bs    BootServices
	image Handle
	log   *slog.Logger
}

var _ volume.Reader = (*FileVolume)(nil)

// NewFileVolume returns a reader for the boot volume of image.
func NewFileVolume(bs BootServices, image Handle) *FileVolume {
	return &FileVolume{bs: bs, image: image}
}

// SetLogger sets the logger. A nil logger disables logging.
func (v *FileVolume) SetLogger(l *slog.Logger) { v.log = l }

// Init is a no-op; the firmware has mounted the volume.
func (v *FileVolume) Init() error { return nil }

// FindAndRead reads up to min(len(dst), MaxReadSize) bytes of name. Handles
// opened along the way are closed before returning. There is no partial read
// recovery: any failure returns a *FileError.
func (v *FileVolume) FindAndRead(name string, dst []byte) (int, error) {
	iface, st := v.bs.HandleProtocol(v.image, LoadedImageProtocolGUID)
	li, ok := iface.(*LoadedImage)
	if st != Success || !ok || li == nil {
		return 0, v.fail("loaded image", name, st)
	}
	iface, st = v.bs.HandleProtocol(li.DeviceHandle, SimpleFileSystemProtocolGUID)
	fs, ok := iface.(SimpleFileSystem)
	if st != Success || !ok {
		return 0, v.fail("file system", name, st)
	}
	root, st := fs.OpenVolume()
	if st != Success {
		return 0, v.fail("open volume", name, st)
	}
	wname, err := EncodeName(name)
	if err != nil {
		root.Close()
		return 0, v.fail("encode", name, InvalidParameter)
	}
	file, st := root.Open(wname, FileModeRead, 0)
	root.Close()
	if st != Success {
		return 0, v.fail("open", name, st)
	}
	n, st := file.Read(dst[:min(len(dst), MaxReadSize)])
	file.Close()
	if st != Success {
		return 0, v.fail("read", name, st)
	}
	v.debug("efi:read", slog.String("name", name), slog.Int("bytes", n))
	return n, nil
}

func (v *FileVolume) fail(op, name string, st Status) error {
	if st == Success {
		st = Unsupported // Protocol missing from the handle.
	}
	v.logattrs(slog.LevelError, "efi:"+op, slog.String("name", name), slog.String("status", st.Error()))
	return &FileError{Op: op, Name: name, Status: st}
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeName returns name as NUL terminated UCS-2 code units, truncated to
// 255 units without splitting a surrogate pair.
func EncodeName(name string) ([]uint16, error) {
	b, _, err := transform.Bytes(utf16le.NewEncoder(), []byte(name))
	if err != nil {
		return nil, err
	}
	units := make([]uint16, 0, len(b)/2+1)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(b[i:]))
	}
	if len(units) > maxNameUnits {
		units = units[:maxNameUnits]
		if last := units[len(units)-1]; last >= 0xD800 && last < 0xDC00 {
			units = units[:len(units)-1]
		}
	}
	return append(units, 0), nil
}

// DecodeName converts UCS-2 code units up to the first NUL back to a string.
func DecodeName(units []uint16) (string, error) {
	b := make([]byte, 0, 2*len(units))
	for _, u := range units {
		if u == 0 {
			break
		}
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	s, _, err := transform.Bytes(utf16le.NewDecoder(), b)
	return string(s), err
}

func (v *FileVolume) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if v.log != nil {
		v.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (v *FileVolume) debug(msg string, attrs ...slog.Attr) {
	v.logattrs(slog.LevelDebug, msg, attrs...)
}
