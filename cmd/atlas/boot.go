package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlasboot/atlas"
	"github.com/atlasboot/atlas/ata"
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/efi/emu"
	"github.com/atlasboot/atlas/handoff"
	"github.com/atlasboot/atlas/internal/diskimg"
)

type bootFlags struct {
	mode     string
	arch     string
	keys     string
	gop      string
	maxPolls int
	plain    bool
}

func (a *app) bootCommand() *cobra.Command {
	var f bootFlags
	cmd := &cobra.Command{
		Use:   "boot [disk.img | esp-dir]",
		Short: "Run the boot loader on emulated hardware",
		Long: "Run the boot loader against a disk image (legacy mode) or a directory\n" +
			"served as the firmware boot volume (uefi mode). Keys: arrows or j/k move,\n" +
			"Enter boots, q quits. With --keys the input is scripted and the final\n" +
			"screen is printed as text.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.boot(cmd.Context(), f, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.mode, "mode", "legacy", "firmware mode: legacy|uefi")
	flags.StringVar(&f.arch, "arch", "", "architecture: x86 (legacy) or x64 (uefi); defaults to the mode's")
	flags.StringVar(&f.keys, "keys", "", "comma separated scripted input: up,down,enter,quit")
	flags.StringVar(&f.gop, "gop", "", "uefi graphics mode as WIDTHxHEIGHT; none when empty")
	flags.IntVar(&f.maxPolls, "max-polls", 1<<16, "legacy disk status polls before giving up; 0 polls forever")
	flags.BoolVar(&f.plain, "plain", false, "print the final screen as text instead of drawing it")
	return cmd
}

var (
	errQuit       = errors.New("quit")
	errEndOfInput = errors.New("end of scripted input")
)

// machine is an emulated computer running the loader.
type machine struct {
	platform atlas.Platform
	screen   console.Source
	mem      handoff.Memory
	push     func(key)
}

func (a *app) boot(ctx context.Context, f bootFlags, target string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		m   *machine
		err error
	)
	switch f.mode {
	case "legacy":
		if f.arch != "" && f.arch != "x86" {
			return fmt.Errorf("legacy mode runs x86 entries, not %q", f.arch)
		}
		m, err = a.legacyMachine(target, f.maxPolls)
	case "uefi":
		if f.arch != "" && f.arch != "x64" {
			return fmt.Errorf("uefi mode runs x64 entries, not %q", f.arch)
		}
		m, err = a.uefiMachine(target, f.gop)
	default:
		return fmt.Errorf("unknown mode %q", f.mode)
	}
	if err != nil {
		return err
	}

	var src keySource
	if f.keys != "" {
		keys, err := parseKeys(f.keys)
		if err != nil {
			return err
		}
		src = &scriptSource{keys: keys}
		f.plain = true
	} else {
		ts, restore, err := newTerminalSource(a.stdin)
		if err != nil {
			return fmt.Errorf("interactive boot needs a terminal, use --keys: %w", err)
		}
		// Hide the cursor while the menu is drawn.
		io.WriteString(a.stdout, "\x1b[?25l\x1b[2J")
		defer func() {
			restore()
			io.WriteString(a.stdout, "\x1b[?25h")
		}()
		src = ts
	}

	cpu := &hostCPU{mem: m.mem}
	l := &atlas.Loader{Platform: m.platform, CPU: cpu}
	l.SetLogger(a.log)
	var last []byte
	draw := func() {
		if f.plain {
			return
		}
		var buf bytes.Buffer
		console.Render(&buf, m.screen)
		if !bytes.Equal(buf.Bytes(), last) {
			a.stdout.Write(buf.Bytes())
			last = buf.Bytes()
		}
	}
	l.Idle = func() error {
		draw()
		keys, err := src.ReadKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if k == keyQuit {
				return errQuit
			}
			m.push(k)
		}
		return nil
	}

	err = l.Run(ctx)
	if f.plain {
		printScreen(a.stdout, m.screen)
	} else {
		draw()
		io.WriteString(a.stdout, "\x1b[0m\r\n")
	}
	switch {
	case errors.Is(err, handoff.ErrImageReturned) && cpu.calls > 0:
		// The emulated processor cannot run the image; reaching the call is success.
		cpu.summary(a.stdout)
		return nil
	case errors.Is(err, errQuit), errors.Is(err, errEndOfInput), errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

func (a *app) legacyMachine(path string, maxPolls int) (*machine, error) {
	disk, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(disk) < diskimg.SectorSize {
		return nil, fmt.Errorf("%s: not a disk image", path)
	}
	lba, err := diskimg.FindVolume(disk[:diskimg.SectorSize])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	mem := handoff.NewFlatMemory(handoff.BootInfoAddr + 0x10000)
	kbd := &scancodeQueue{}
	p, err := atlas.NewLegacy(atlas.LegacyConfig{
		Ports:     ata.NewController(bytes.NewReader(disk)),
		Memory:    mem,
		Keyboard:  kbd,
		VolumeLBA: lba,
		MaxPolls:  maxPolls,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}
	text, _ := mem.Slice(handoff.TextModeBase, console.TextBufferSize)
	return &machine{
		platform: p,
		screen:   console.NewTextBuffer(text),
		mem:      mem,
		push:     kbd.push,
	}, nil
}

func (a *app) uefiMachine(dir, gop string) (*machine, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("%s: uefi mode serves a directory", dir)
	}
	const memSize = 32 << 20
	cfg := emu.Config{
		MemorySize: memSize,
		PoolBase:   0x400000,
		PoolSize:   1 << 20,
		Files:      os.DirFS(dir),
	}
	if gop != "" {
		w, h, err := parseResolution(gop)
		if err != nil {
			return nil, err
		}
		cfg.Graphics = &efi.GraphicsMode{
			MaxMode:         1,
			FrameBufferBase: 0x8000_0000,
			FrameBufferSize: uint64(w) * uint64(h) * 4,
			Info: efi.ModeInformation{
				HorizontalResolution: w,
				VerticalResolution:   h,
				PixelsPerScanLine:    w,
			},
		}
	}
	fw, err := emu.New(cfg)
	if err != nil {
		return nil, err
	}
	fw.SetLogger(a.log)
	mem := handoff.NewFlatMemory(memSize)
	return &machine{
		platform: atlas.NewFirmware(fw.SystemTable(), fw.ImageHandle(), mem, a.log),
		screen:   fw.Output().Grid(),
		mem:      mem,
		push: func(k key) {
			fw.Input().Push(k.inputKey())
		},
	}, nil
}

func parseResolution(s string) (w, h uint32, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: want WIDTHxHEIGHT", s)
	}
	wv, err := strconv.ParseUint(ws, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	hv, err := strconv.ParseUint(hs, 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(wv), uint32(hv), nil
}

// hostCPU stands in for the processor: it records the transfer instead of
// executing the image.
type hostCPU struct {
	mem    handoff.Memory
	calls  int
	entry  uint64
	arg    uint64
	info   handoff.BootInfo
	masked bool
	// maskedAtCall records the interrupt state seen by the image.
	maskedAtCall bool
}

func (c *hostCPU) DisableInterrupts() { c.masked = true }
func (c *hostCPU) EnableInterrupts() { c.masked = false }
func (c *hostCPU) Halt() {}

func (c *hostCPU) Call(entry, arg uint64) {
	c.calls++
	c.entry, c.arg = entry, arg
	c.maskedAtCall = c.masked
	if b, err := c.mem.Slice(handoff.BootInfoAddr, handoff.BootInfoSize); err == nil {
		c.info = handoff.ReadBootInfo(b)
	}
}

func (c *hostCPU) summary(w io.Writer) {
	state := "enabled"
	if c.maskedAtCall {
		state = "masked"
	}
	fmt.Fprintf(w, "handoff: entry=%s arg=%s interrupts=%s\n", console.Hex(c.entry), console.Hex(c.arg), state)
	fmt.Fprintf(w, "bootinfo: framebuffer=%s width=%d height=%d pitch=%d\n",
		console.Hex(c.info.FramebufferBase), c.info.Width, c.info.Height, c.info.Pitch)
	if b, err := c.mem.Slice(c.entry, 16); err == nil {
		fmt.Fprintf(w, "image: %s\n", console.HexBytes(b))
	}
}

// printScreen writes the screen rows as text, trailing blanks removed.
func printScreen(w io.Writer, src console.Source) {
	_, rows := src.Size()
	for row := 0; row < rows; row++ {
		fmt.Fprintln(w, strings.TrimRight(console.Row(src, row), " \x00"))
	}
}

// scancodeQueue is the legacy keyboard controller fed from host keys.
type scancodeQueue struct {
	codes []uint8
}

func (q *scancodeQueue) push(k key) {
	if sc, ok := k.scancode(); ok {
		q.codes = append(q.codes, sc)
	}
}

func (q *scancodeQueue) ReadScancode() (uint8, bool) {
	if len(q.codes) == 0 {
		return 0, false
	}
	sc := q.codes[0]
	q.codes = q.codes[1:]
	return sc, true
}

var _ atlas.Keyboard = (*scancodeQueue)(nil)
