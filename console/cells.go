package console

import (
	"bufio"
	"io"

	"github.com/fatih/color"
)

// Source is a readable cell screen.
type Source interface {
	Size() (cols, rows int)
	Cell(row, col int) (rune, Attr)
}

// TextBuffer is the legacy VGA text buffer layout: 80x25 cells of a character
// byte followed by an attribute byte.
type TextBuffer struct {
	mem []byte
}

// TextBufferSize is the byte size of a legacy text buffer.
const TextBufferSize = LegacyCols * LegacyRows * 2

// NewTextBuffer returns a text buffer over mem, which must hold TextBufferSize bytes.
func NewTextBuffer(mem []byte) *TextBuffer {
	return &TextBuffer{mem: mem[:TextBufferSize:TextBufferSize]}
}

func (tb *TextBuffer) Size() (cols, rows int) { return LegacyCols, LegacyRows }

func (tb *TextBuffer) PutChar(row, col int, c byte, attr Attr) {
	off := (row*LegacyCols + col) * 2
	tb.mem[off] = c
	tb.mem[off+1] = byte(attr)
}

func (tb *TextBuffer) Clear(attr Attr) {
	for off := 0; off < len(tb.mem); off += 2 {
		tb.mem[off] = ' '
		tb.mem[off+1] = byte(attr)
	}
}

func (tb *TextBuffer) Cell(row, col int) (rune, Attr) {
	off := (row*LegacyCols + col) * 2
	return Rune(tb.mem[off]), Attr(tb.mem[off+1])
}

// Cell is one character of a Grid.
type Cell struct {
	Ch   rune
	Attr Attr
}

// Grid is an in-memory screen holding Unicode cells.
type Grid struct {
	cols, rows int
	cells      []Cell
}

// NewGrid returns a cleared grid.
func NewGrid(cols, rows int) *Grid {
	g := &Grid{cols: cols, rows: rows, cells: make([]Cell, cols*rows)}
	g.Clear(AttrDefault)
	return g
}

func (g *Grid) Size() (cols, rows int) { return g.cols, g.rows }

func (g *Grid) PutChar(row, col int, c byte, attr Attr) {
	g.Set(row, col, Rune(c), attr)
}

// Set stores r at row, col. Out of bounds positions are ignored.
func (g *Grid) Set(row, col int, r rune, attr Attr) {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return
	}
	g.cells[row*g.cols+col] = Cell{Ch: r, Attr: attr}
}

func (g *Grid) Clear(attr Attr) {
	for i := range g.cells {
		g.cells[i] = Cell{Ch: ' ', Attr: attr}
	}
}

func (g *Grid) Cell(row, col int) (rune, Attr) {
	c := g.cells[row*g.cols+col]
	return c.Ch, c.Attr
}

// Row returns the characters of a row as a string.
func Row(src Source, row int) string {
	cols, _ := src.Size()
	rs := make([]rune, cols)
	for col := range rs {
		rs[col], _ = src.Cell(row, col)
	}
	return string(rs)
}

// vgaToANSI maps the 3-bit VGA color index to the ANSI color index.
var vgaToANSI = [8]color.Attribute{0, 4, 2, 6, 1, 5, 3, 7}

// Color returns the terminal color for a VGA attribute. Bit 3 selects the
// bright foreground, bit 7 the bright background.
func Color(attr Attr) *color.Color {
	fg := color.FgBlack + vgaToANSI[attr&7]
	if attr&0x08 != 0 {
		fg = color.FgHiBlack + vgaToANSI[attr&7]
	}
	bg := color.BgBlack + vgaToANSI[(attr>>4)&7]
	if attr&0x80 != 0 {
		bg = color.BgHiBlack + vgaToANSI[(attr>>4)&7]
	}
	c := color.New(fg, bg)
	c.EnableColor()
	return c
}

// Render draws src on a terminal, homing the cursor first. Runs of equal
// attribute are written with a single escape sequence.
func Render(w io.Writer, src Source) error {
	bw := bufio.NewWriter(w)
	cols, rows := src.Size()
	colors := make(map[Attr]*color.Color)
	bw.WriteString("\x1b[H")
	run := make([]rune, 0, cols)
	for row := 0; row < rows; row++ {
		var cur Attr
		for col := 0; col < cols; col++ {
			r, attr := src.Cell(row, col)
			if col > 0 && attr != cur {
				flushRun(bw, colors, cur, run)
				run = run[:0]
			}
			cur = attr
			run = append(run, r)
		}
		flushRun(bw, colors, cur, run)
		run = run[:0]
		bw.WriteString("\r\n")
	}
	return bw.Flush()
}

func flushRun(w io.Writer, colors map[Attr]*color.Color, attr Attr, run []rune) {
	if len(run) == 0 {
		return
	}
	c, ok := colors[attr]
	if !ok {
		c = Color(attr)
		colors[attr] = c
	}
	c.Fprint(w, string(run))
}
