package emu

import (
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/efi"
)

// TextInput is a scripted keyboard.
type TextInput struct {
	keys []efi.InputKey
}

// Push queues key strokes.
func (in *TextInput) Push(keys ...efi.InputKey) {
	in.keys = append(in.keys, keys...)
}

// Pending returns the number of queued strokes.
func (in *TextInput) Pending() int { return len(in.keys) }

func (in *TextInput) ReadKeyStroke() (efi.InputKey, efi.Status) {
	if len(in.keys) == 0 {
		return efi.InputKey{}, efi.NotReady
	}
	k := in.keys[0]
	in.keys = in.keys[1:]
	return k, efi.Success
}

// TextOutput is a text console drawing into a console.Grid.
type TextOutput struct {
	grid          *console.Grid
	attr          console.Attr
	row, col      int
	CursorVisible bool
}

// NewTextOutput returns a cleared console of the given size.
func NewTextOutput(cols, rows int) *TextOutput {
	return &TextOutput{grid: console.NewGrid(cols, rows), attr: console.AttrDefault, CursorVisible: true}
}

// Grid returns the screen contents.
func (o *TextOutput) Grid() *console.Grid { return o.grid }

// OutputString writes s up to its NUL at the cursor. Carriage return and
// line feed move the cursor; other characters wrap at the right edge.
func (o *TextOutput) OutputString(s []uint16) efi.Status {
	text, err := efi.DecodeName(s)
	if err != nil {
		return efi.InvalidParameter
	}
	cols, rows := o.grid.Size()
	for _, r := range text {
		switch r {
		case '\r':
			o.col = 0
		case '\n':
			o.row = min(o.row+1, rows-1)
		default:
			o.grid.Set(o.row, o.col, r, o.attr)
			o.col++
			if o.col >= cols {
				o.col = 0
				o.row = min(o.row+1, rows-1)
			}
		}
	}
	return efi.Success
}

func (o *TextOutput) SetAttribute(attr uint) efi.Status {
	if attr > 0xFF {
		return efi.Unsupported
	}
	o.attr = console.Attr(attr)
	return efi.Success
}

func (o *TextOutput) SetCursorPosition(col, row int) efi.Status {
	cols, rows := o.grid.Size()
	if col < 0 || col >= cols || row < 0 || row >= rows {
		return efi.Unsupported
	}
	o.row, o.col = row, col
	return efi.Success
}

func (o *TextOutput) ClearScreen() efi.Status {
	o.grid.Clear(o.attr)
	o.row, o.col = 0, 0
	return efi.Success
}

func (o *TextOutput) EnableCursor(visible bool) efi.Status {
	o.CursorVisible = visible
	return efi.Success
}

func (o *TextOutput) QueryMode() (cols, rows int, st efi.Status) {
	cols, rows = o.grid.Size()
	return cols, rows, efi.Success
}
