package emu

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/atlasboot/atlas/efi"
)

// fileSystem is the simple file system protocol over an fs.FS.
type fileSystem struct {
	fsys fs.FS
}

func (sfs *fileSystem) OpenVolume() (efi.File, efi.Status) {
	return &fileHandle{fsys: sfs.fsys, path: ".", dir: true}, efi.Success
}

// fileHandle is an open file or directory. Directories only support Open.
type fileHandle struct {
	fsys   fs.FS
	path   string
	dir    bool
	f      fs.File
	closed bool
}

func (h *fileHandle) Open(name []uint16, mode, attrs uint64) (efi.File, efi.Status) {
	if h.closed || !h.dir {
		return nil, efi.InvalidParameter
	}
	if mode != efi.FileModeRead {
		return nil, efi.WriteProtected
	}
	s, err := efi.DecodeName(name)
	if err != nil {
		return nil, efi.InvalidParameter
	}
	p, err := resolve(h.fsys, h.path, s)
	if err != nil {
		return nil, efi.NotFound
	}
	fi, err := fs.Stat(h.fsys, p)
	if err != nil {
		return nil, efi.NotFound
	}
	if fi.IsDir() {
		return &fileHandle{fsys: h.fsys, path: p, dir: true}, efi.Success
	}
	f, err := h.fsys.Open(p)
	if err != nil {
		return nil, efi.DeviceError
	}
	return &fileHandle{fsys: h.fsys, path: p, f: f}, efi.Success
}

func (h *fileHandle) Read(buf []byte) (int, efi.Status) {
	if h.closed {
		return 0, efi.InvalidParameter
	}
	if h.dir {
		return 0, efi.Unsupported
	}
	n, err := io.ReadFull(h.f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return n, efi.DeviceError
	}
	return n, efi.Success
}

func (h *fileHandle) Close() efi.Status {
	if h.closed {
		return efi.InvalidParameter
	}
	h.closed = true
	if h.f != nil {
		h.f.Close()
	}
	return efi.Success
}

// resolve maps a firmware path relative to dir onto fsys, matching each
// component case-insensitively. Both separators are accepted.
func resolve(fsys fs.FS, dir, name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(name, "/") {
		dir = "."
	}
	cur := dir
	for _, elem := range strings.Split(path.Clean("/"+name)[1:], "/") {
		if elem == "" {
			continue
		}
		entries, err := fs.ReadDir(fsys, cur)
		if err != nil {
			return "", err
		}
		next := ""
		for _, e := range entries {
			if e.Name() == elem {
				next = e.Name()
				break
			} else if next == "" && strings.EqualFold(e.Name(), elem) {
				next = e.Name()
			}
		}
		if next == "" {
			return "", fs.ErrNotExist
		}
		cur = path.Join(cur, next)
	}
	return cur, nil
}
