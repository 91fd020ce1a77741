// Package handoff loads a boot image into physical memory and transfers
// control to it.
//
// The transfer protocol: the image is loaded at the address reserved by the
// platform, a BootInfo record describing the framebuffer is written at
// BootInfoAddr, interrupts are masked and the entry point is called with the
// framebuffer base as its single argument. The image is not expected to
// return; if it does the machine is halted.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/volume"
)

// Kind classifies a boot failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFileNotFound
	KindAllocationFailed
	KindProtocolFailure
	KindCorruptHandoff
)

func (k Kind) String() string {
	switch k {
	case KindFileNotFound:
		return "file not found"
	case KindAllocationFailed:
		return "allocation failed"
	case KindProtocolFailure:
		return "protocol failure"
	case KindCorruptHandoff:
		return "corrupt handoff"
	}
	return "unknown"
}

// Fatal reports whether the machine cannot continue after this failure.
// Every other kind returns the user to the menu.
func (k Kind) Fatal() bool { return k == KindCorruptHandoff }

// ErrImageReturned is wrapped by the error returned when the loaded image
// returned control to the loader.
var ErrImageReturned = errors.New("handoff: image returned")

// Error is a boot failure.
type Error struct {
	Kind Kind
	Op   string
	Addr uint64
	Err  error
}

func (e *Error) Error() string {
	return "handoff: " + e.Op + " " + console.Hex(e.Addr) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Target is the platform half of the handoff.
type Target interface {
	// ReserveImage returns the load address and the maximum image size.
	ReserveImage() (addr uint64, limit int, err error)
	// DiscoverFramebuffer returns the display to pass to the image.
	DiscoverFramebuffer() Framebuffer
}

// CPU is control of the processor.
type CPU interface {
	DisableInterrupts()
	EnableInterrupts()
	// Call jumps to entry with arg as the first argument. It returns only
	// if the callee returns.
	Call(entry, arg uint64)
	// Halt stops the processor. Emulated processors may return.
	Halt()
}

// Display receives boot progress and diagnostics.
type Display interface {
	Status(lines ...string)
	PutString(s string, attr console.Attr)
}

// Fixed is the legacy target: a fixed load window and no graphics discovery.
type Fixed struct {
	Addr  uint64
	Limit int
}

func (f Fixed) ReserveImage() (uint64, int, error) { return f.Addr, f.Limit, nil }

func (f Fixed) DiscoverFramebuffer() Framebuffer { return FallbackFramebuffer() }

// Controller performs the handoff for a menu entry. It implements menu.Booter.
type Controller struct {
	Target  Target
	Volume  volume.Reader
	Memory  Memory
	CPU     CPU
	Display Display
	log     *slog.Logger
}

// SetLogger sets the logger. A nil logger disables logging.
func (c *Controller) SetLogger(l *slog.Logger) { c.log = l }

// Boot loads e.Path and transfers control to it. Reservation and load failures
// are returned with the menu left intact. Boot returns a fatal error only when
// the image returned.
func (c *Controller) Boot(e config.Entry) error {
	c.Display.Status("Loading kernel: " + e.Path + "...")
	addr, limit, err := c.Target.ReserveImage()
	if err != nil {
		c.print("\nError: cannot reserve load address " + console.Hex(addr) + ".")
		c.printStatus("\nStatus: ", err)
		return c.fail(&Error{Kind: KindProtocolFailure, Op: "reserve", Addr: addr, Err: err})
	}
	dst, err := c.Memory.Slice(addr, limit)
	if err != nil {
		c.print("\nError: load window outside memory.")
		return c.fail(&Error{Kind: KindAllocationFailed, Op: "map", Addr: addr, Err: err})
	}
	n, err := c.Volume.FindAndRead(e.Path, dst)
	if err != nil {
		c.print("\nError: Could not load file!")
		if hasStatus(err) {
			c.print("\nFS: Open failed for: '" + e.Path + "'")
			c.printStatus("\nFS: Status: ", err)
		}
		return c.fail(&Error{Kind: KindFileNotFound, Op: "load " + e.Path, Addr: addr, Err: err})
	}
	c.info("handoff:loaded", slog.String("path", e.Path), slog.Int("bytes", n), slog.String("addr", console.Hex(addr)))
	c.print("\nExecuting...")

	fb := c.Target.DiscoverFramebuffer()
	if fb.Fallback {
		c.print("\nWarning: no graphics output, passing text buffer " + console.Hex(fb.Base))
	} else {
		c.print("\nFramebuffer at " + console.Hex(fb.Base))
		c.print("\nResolution: " + strconv.FormatUint(uint64(fb.Width), 10) + " x " +
			strconv.FormatUint(uint64(fb.Height), 10) + " (pitch: " + strconv.FormatUint(uint64(fb.Pitch), 10) + ")")
	}
	bi, err := c.Memory.Slice(BootInfoAddr, BootInfoSize)
	if err != nil {
		return c.fail(&Error{Kind: KindAllocationFailed, Op: "bootinfo", Addr: BootInfoAddr, Err: err})
	}
	fb.BootInfo().Put(bi)

	c.print("\nEntry point: " + console.Hex(addr))
	c.print("\nFirst bytes: " + console.HexBytes(dst[:min(16, len(dst))]))
	c.debug("handoff:transfer", slog.String("entry", console.Hex(addr)), slog.String("arg", console.Hex(fb.Base)))

	c.CPU.DisableInterrupts()
	c.CPU.Call(addr, fb.Base)

	c.CPU.EnableInterrupts()
	c.print("\nError: Kernel returned!")
	herr := &Error{Kind: KindCorruptHandoff, Op: "call", Addr: addr, Err: ErrImageReturned}
	c.logerror("handoff:returned", slog.String("entry", console.Hex(addr)))
	c.CPU.Halt()
	return herr
}

func (c *Controller) print(s string) {
	c.Display.PutString(s, console.AttrError)
}

// statusCoder is a failure carrying a raw firmware status code.
type statusCoder interface {
	StatusCode() uint64
}

func hasStatus(err error) bool {
	var sc statusCoder
	return errors.As(err, &sc)
}

// printStatus shows the firmware status behind err as 16 hex digits.
func (c *Controller) printStatus(prefix string, err error) {
	var sc statusCoder
	if errors.As(err, &sc) {
		c.print(fmt.Sprintf("%s%016X (%v)", prefix, sc.StatusCode(), sc))
	}
}

func (c *Controller) fail(err *Error) error {
	c.warn("handoff:failed", slog.String("kind", err.Kind.String()), slog.String("err", err.Err.Error()))
	return err
}

// Describe renders err for display, adding the failure kind when err is a
// boot failure.
func Describe(err error) string {
	var herr *Error
	if errors.As(err, &herr) {
		return fmt.Sprintf("%s: %s at %s", herr.Kind, herr.Op, console.Hex(herr.Addr))
	}
	return err.Error()
}

func (c *Controller) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log != nil {
		c.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (c *Controller) debug(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelDebug, msg, attrs...)
}
func (c *Controller) info(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelInfo, msg, attrs...)
}
func (c *Controller) warn(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelWarn, msg, attrs...)
}
func (c *Controller) logerror(msg string, attrs ...slog.Attr) {
	c.logattrs(slog.LevelError, msg, attrs...)
}
