// Package console draws the boot menu and status text on a character cell
// screen. Characters are code page 437 bytes, attributes are the VGA
// foreground/background nibbles.
package console

import (
	"strconv"
	"strings"

	"github.com/atlasboot/atlas/menu"
	"golang.org/x/text/encoding/charmap"
)

// Attr is a VGA text attribute: low nibble foreground, high nibble background.
type Attr uint8

const (
	AttrDefault  Attr = 0x07 // Light gray on black.
	AttrBright   Attr = 0x0F // White on black.
	AttrSelected Attr = 0x7F // White on light gray.
	AttrError    Attr = 0x1F // White on blue, reserved for boot status and errors.
)

// Code page 437 box drawing characters.
const (
	BoxTopLeft     = 0xC9
	BoxTopRight    = 0xBB
	BoxBottomLeft  = 0xC8
	BoxBottomRight = 0xBC
	BoxHorizontal  = 0xCD
	BoxVertical    = 0xBA
)

const (
	LegacyCols = 80
	LegacyRows = 25
	menuWidth  = 40
	titleRow   = 5
	firstEntry = 8
)

// Screen is a character cell display.
type Screen interface {
	Size() (cols, rows int)
	PutChar(row, col int, c byte, attr Attr)
	Clear(attr Attr)
}

// Rune returns the Unicode character for a code page 437 byte.
func Rune(c byte) rune {
	return charmap.CodePage437.DecodeByte(c)
}

// Console writes text and menus to a Screen, tracking a cursor for PutString.
type Console struct {
	scr      Screen
	row, col int
}

// New returns a console drawing on scr.
func New(scr Screen) *Console {
	return &Console{scr: scr}
}

// Screen returns the underlying screen.
func (c *Console) Screen() Screen { return c.scr }

// Clear fills the screen with spaces in attr and homes the cursor.
func (c *Console) Clear(attr Attr) {
	c.scr.Clear(attr)
	c.row, c.col = 0, 0
}

// PutChar writes ch at row, col and moves the cursor after it. Out of bounds
// positions are ignored.
func (c *Console) PutChar(row, col int, ch byte, attr Attr) {
	cols, rows := c.scr.Size()
	if row < 0 || row >= rows || col < 0 || col >= cols {
		return
	}
	c.scr.PutChar(row, col, ch, attr)
	c.row, c.col = row, col+1
	if c.col >= cols {
		c.col = 0
		c.row = (c.row + 1) % rows
	}
}

// PutString writes s at the cursor. A newline moves to the start of the next row.
func (c *Console) PutString(s string, attr Attr) {
	_, rows := c.scr.Size()
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			c.row, c.col = (c.row+1)%rows, 0
			continue
		}
		c.PutChar(c.row, c.col, s[i], attr)
	}
}

// Cursor returns the cursor position.
func (c *Console) Cursor() (row, col int) { return c.row, c.col }

// DrawBox draws a double line frame.
func (c *Console) DrawBox(row, col, w, h int, attr Attr) {
	c.PutChar(row, col, BoxTopLeft, attr)
	c.PutChar(row, col+w-1, BoxTopRight, attr)
	c.PutChar(row+h-1, col, BoxBottomLeft, attr)
	c.PutChar(row+h-1, col+w-1, BoxBottomRight, attr)
	for x := col + 1; x < col+w-1; x++ {
		c.PutChar(row, x, BoxHorizontal, attr)
		c.PutChar(row+h-1, x, BoxHorizontal, attr)
	}
	for y := row + 1; y < row+h-1; y++ {
		c.PutChar(y, col, BoxVertical, attr)
		c.PutChar(y, col+w-1, BoxVertical, attr)
	}
}

// DrawFrame clears the screen and frames its border.
func (c *Console) DrawFrame() {
	cols, rows := c.scr.Size()
	c.Clear(AttrDefault)
	c.DrawBox(0, 0, cols, rows, AttrDefault)
}

// DrawMenu draws the title over a separator and one row per entry, the
// selected entry highlighted.
func (c *Console) DrawMenu(m *menu.Menu) {
	cols, _ := c.scr.Size()
	center := (cols - menuWidth) / 2
	if center < 0 {
		center = 0
	}
	for i := 0; i < menuWidth; i++ {
		c.PutChar(titleRow+1, center+i, BoxHorizontal, AttrBright)
	}
	start := center + (menuWidth-len(m.Title))/2
	for i := 0; i < len(m.Title); i++ {
		c.PutChar(titleRow, start+i, m.Title[i], AttrBright)
	}
	for o, e := range m.Entries {
		attr := AttrBright
		if o == m.Selected {
			attr = AttrSelected
		}
		for i := 0; i < len(e.Name); i++ {
			c.PutChar(firstEntry+o, center+i, e.Name[i], attr)
		}
	}
}

// Status clears the screen to the error attribute and prints lines.
func (c *Console) Status(lines ...string) {
	c.Clear(AttrError)
	c.PutString(strings.Join(lines, "\n"), AttrError)
}

// Hex formats v as 0x followed by uppercase hexadecimal digits.
func Hex(v uint64) string {
	return "0x" + strings.ToUpper(strconv.FormatUint(v, 16))
}

// HexBytes formats b as space separated uppercase byte pairs.
func HexBytes(b []byte) string {
	const digits = "0123456789ABCDEF"
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(digits[v>>4])
		sb.WriteByte(digits[v&0xF])
	}
	return sb.String()
}
