package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/menu"
)

// key is a host key press understood by the emulated keyboards.
type key uint8

const (
	keyNone key = iota
	keyUp
	keyDown
	keyEnter
	keyQuit
)

// scancode returns the legacy set-1 make code of k.
func (k key) scancode() (uint8, bool) {
	switch k {
	case keyUp:
		return menu.ScancodeUp, true
	case keyDown:
		return menu.ScancodeDown, true
	case keyEnter:
		return menu.ScancodeEnter, true
	}
	return 0, false
}

// inputKey returns the firmware key stroke of k.
func (k key) inputKey() efi.InputKey {
	switch k {
	case keyUp:
		return efi.InputKey{ScanCode: efi.ScanUp}
	case keyDown:
		return efi.InputKey{ScanCode: efi.ScanDown}
	case keyEnter:
		return efi.InputKey{UnicodeChar: efi.CharReturn}
	}
	return efi.InputKey{}
}

func parseKeys(script string) ([]key, error) {
	var keys []key
	for _, name := range strings.Split(script, ",") {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "up", "k":
			keys = append(keys, keyUp)
		case "down", "j":
			keys = append(keys, keyDown)
		case "enter", "return":
			keys = append(keys, keyEnter)
		case "quit", "q":
			keys = append(keys, keyQuit)
		case "":
		default:
			return nil, fmt.Errorf("unknown key %q", name)
		}
	}
	return keys, nil
}

// decodeKeys translates terminal input. Escape sequences split across reads
// are dropped.
func decodeKeys(b []byte) []key {
	var keys []key
	for i := 0; i < len(b); i++ {
		switch c := b[i]; c {
		case 0x1b:
			// CSI or SS3 cursor keys: ESC [ A, ESC O A.
			if i+2 < len(b) && (b[i+1] == '[' || b[i+1] == 'O') {
				switch b[i+2] {
				case 'A':
					keys = append(keys, keyUp)
				case 'B':
					keys = append(keys, keyDown)
				}
				i += 2
			}
		case 'k', 'K':
			keys = append(keys, keyUp)
		case 'j', 'J':
			keys = append(keys, keyDown)
		case '\r', '\n':
			keys = append(keys, keyEnter)
		case 'q', 'Q', 0x03:
			keys = append(keys, keyQuit)
		}
	}
	return keys
}

// keySource delivers host key presses between loader polls.
type keySource interface {
	ReadKeys() ([]key, error)
}

// scriptSource replays keys one per poll, then reports the end of input.
type scriptSource struct {
	keys []key
}

func (s *scriptSource) ReadKeys() ([]key, error) {
	if len(s.keys) == 0 {
		return nil, errEndOfInput
	}
	k := s.keys[:1]
	s.keys = s.keys[1:]
	return k, nil
}

// terminalSource reads a raw terminal with a short read timeout.
type terminalSource struct {
	f   *os.File
	buf [32]byte
}

func newTerminalSource(f *os.File) (*terminalSource, func(), error) {
	restore, err := enterRawTerm(f)
	if err != nil {
		return nil, nil, err
	}
	return &terminalSource{f: f}, restore, nil
}

func (t *terminalSource) ReadKeys() ([]key, error) {
	n, err := t.f.Read(t.buf[:])
	if n == 0 {
		// Timed out without input.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeKeys(t.buf[:n]), nil
}
