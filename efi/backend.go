package efi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/handoff"
	"github.com/atlasboot/atlas/heap"
	"github.com/atlasboot/atlas/menu"
)

// LoaderDataPool allocates from the firmware pool as EfiLoaderData. It is the
// heap.Firmware backend of heap.Pool.
type LoaderDataPool struct {
	BS BootServices
}

var _ heap.Firmware = LoaderDataPool{}

func (p LoaderDataPool) AllocatePool(size int) (uint64, error) {
	addr, st := p.BS.AllocatePool(LoaderData, size)
	if st != Success {
		return 0, st
	}
	return addr, nil
}

func (p LoaderDataPool) FreePool(addr uint64) error {
	if st := p.BS.FreePool(addr); st != Success {
		return st
	}
	return nil
}

// Image load window under modern firmware.
const (
	LoadAddr  = 0x200000
	LoadPages = 256
)

// PageTarget reserves the image window with AllocatePages and discovers the
// framebuffer through the graphics output protocol.
type PageTarget struct {
	BS  BootServices
	log *slog.Logger
}

var _ handoff.Target = (*PageTarget)(nil)

// SetLogger sets the logger. A nil logger disables logging.
func (t *PageTarget) SetLogger(l *slog.Logger) { t.log = l }

var errWindowMoved = errors.New("efi: firmware allocated pages at a different address")

// ReserveImage allocates LoadPages pages of loader code at exactly LoadAddr.
func (t *PageTarget) ReserveImage() (uint64, int, error) {
	addr, st := t.BS.AllocatePages(AllocateAddress, LoaderCode, LoadPages, LoadAddr)
	if st != Success {
		t.logattrs(slog.LevelError, "efi:load window occupied", slog.String("status", st.Error()))
		return LoadAddr, 0, st
	}
	if addr != LoadAddr {
		return addr, 0, errWindowMoved
	}
	return addr, LoadPages * PageSize, nil
}

// DiscoverFramebuffer reads the current graphics mode. Without a graphics
// output protocol or mode the text buffer fallback is returned.
func (t *PageTarget) DiscoverFramebuffer() handoff.Framebuffer {
	iface, st := t.BS.LocateProtocol(GraphicsOutputProtocolGUID)
	gop, ok := iface.(*GraphicsOutput)
	if st != Success || !ok || gop == nil || gop.Mode == nil {
		t.logattrs(slog.LevelWarn, "efi:no graphics output", slog.String("status", st.Error()))
		return handoff.FallbackFramebuffer()
	}
	return handoff.Framebuffer{
		Base:   gop.Mode.FrameBufferBase,
		Width:  gop.Mode.Info.HorizontalResolution,
		Height: gop.Mode.Info.VerticalResolution,
		Pitch:  gop.Mode.Info.PixelsPerScanLine,
	}
}

func (t *PageTarget) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if t.log != nil {
		t.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

// Key codes of EFI_INPUT_KEY.
const (
	ScanUp     = 0x01
	ScanDown   = 0x02
	CharReturn = 0x0D
)

// KeyEvent maps a key stroke to a menu event. Scan codes take priority over
// the Unicode character.
func KeyEvent(k InputKey) menu.Event {
	switch {
	case k.ScanCode == ScanUp:
		return menu.Up
	case k.ScanCode == ScanDown:
		return menu.Down
	case k.UnicodeChar == CharReturn:
		return menu.Enter
	}
	return menu.None
}

// PollKey reads one pending key stroke. It returns menu.None when no key is
// waiting or the stroke does not map to an event.
func PollKey(in SimpleTextInput) menu.Event {
	if in == nil {
		return menu.None
	}
	k, st := in.ReadKeyStroke()
	if st != Success {
		return menu.None
	}
	return KeyEvent(k)
}

// Screen draws on the firmware text console. It implements console.Screen.
type Screen struct {
	out        SimpleTextOutput
	cols, rows int
}

var _ console.Screen = (*Screen)(nil)

// NewScreen hides the cursor and queries the text mode geometry, falling back
// to 80x25 when the query fails.
func NewScreen(out SimpleTextOutput) *Screen {
	s := &Screen{out: out, cols: console.LegacyCols, rows: console.LegacyRows}
	out.EnableCursor(false)
	if cols, rows, st := out.QueryMode(); st == Success && cols > 0 && rows > 0 {
		s.cols, s.rows = cols, rows
	}
	return s
}

func (s *Screen) Size() (cols, rows int) { return s.cols, s.rows }

// PutChar translates the code page 437 byte to Unicode before output.
func (s *Screen) PutChar(row, col int, c byte, attr console.Attr) {
	s.out.SetCursorPosition(col, row)
	s.out.SetAttribute(uint(attr))
	s.out.OutputString([]uint16{uint16(console.Rune(c)), 0})
}

func (s *Screen) Clear(attr console.Attr) {
	s.out.SetAttribute(uint(attr))
	s.out.ClearScreen()
}
