package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/menu"
)

func TestDrawMenuHighlightsSelection(t *testing.T) {
	mem := make([]byte, TextBufferSize)
	tb := NewTextBuffer(mem)
	c := New(tb)
	c.DrawFrame()
	m := &menu.Menu{
		Title:    "Atlas",
		Entries:  []config.Entry{{Name: "One", Path: "/1"}, {Name: "Two", Path: "/2"}},
		Selected: 1,
	}
	c.DrawMenu(m)

	center := (LegacyCols - menuWidth) / 2
	row := []rune(Row(tb, titleRow))
	if got := strings.TrimSpace(string(row[1 : LegacyCols-1])); got != "Atlas" {
		t.Fatalf("title row %q", got)
	}
	if _, attr := tb.Cell(firstEntry, center); attr != AttrBright {
		t.Errorf("unselected attr %#x", attr)
	}
	if ch, attr := tb.Cell(firstEntry+1, center); attr != AttrSelected || ch != 'T' {
		t.Errorf("selected cell %q %#x", ch, attr)
	}
	if ch, _ := tb.Cell(0, 0); ch != '╔' {
		t.Errorf("frame corner %q", ch)
	}
	if mem[2*(titleRow+1)*LegacyCols+2*center] != BoxHorizontal {
		t.Error("separator not drawn in memory")
	}
}

func TestPutStringWrapsAndStatus(t *testing.T) {
	g := NewGrid(10, 3)
	c := New(g)
	c.Status("Loading kernel: /K", "Err")
	if _, attr := g.Cell(2, 9); attr != AttrError {
		t.Fatalf("status did not clear to error attribute: %#x", attr)
	}
	if got := Row(g, 0); got != "Loading ke" {
		t.Fatalf("row 0 %q", got)
	}
	if got := Row(g, 1); got != "rnel: /K  " {
		t.Fatalf("row 1 %q", got)
	}
	if got := Row(g, 2); got != "Err       " {
		t.Fatalf("row 2 %q", got)
	}
	// Out of bounds writes are dropped.
	c.PutChar(5, 5, 'x', AttrDefault)
	c.PutChar(0, -1, 'x', AttrDefault)
}

func TestHex(t *testing.T) {
	if got := Hex(0x1F0000); got != "0x1F0000" {
		t.Fatal(got)
	}
	if got := HexBytes([]byte{0xEB, 0x00, 0x5a}); got != "EB 00 5A" {
		t.Fatal(got)
	}
}

func TestRenderColorsRuns(t *testing.T) {
	g := NewGrid(4, 1)
	g.Set(0, 2, 'x', AttrError)
	var buf bytes.Buffer
	if err := Render(&buf, g); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	// White on blue is bright white (97) on blue (44).
	if !strings.Contains(out, "97;44") {
		t.Fatalf("missing error colors in %q", out)
	}
	if !strings.HasPrefix(out, "\x1b[H") || !strings.HasSuffix(out, "\r\n") {
		t.Fatalf("unexpected framing %q", out)
	}
}
