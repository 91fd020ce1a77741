// Package volume defines the capability shared by every boot volume backend:
// load a named file from the volume root into a buffer.
package volume

import "errors"

// ErrNotFound is matched (via errors.Is) by every backend error that means the
// named file could not be resolved or read.
var ErrNotFound = errors.New("volume: file not found")

// Reader loads named files from a boot volume.
type Reader interface {
	// FindAndRead copies the file called name into dst and returns the number
	// of bytes written.
	FindAndRead(name string, dst []byte) (int, error)
}
