package atlas

import (
	"fmt"
	"log/slog"

	"github.com/atlasboot/atlas/ata"
	"github.com/atlasboot/atlas/config"
	"github.com/atlasboot/atlas/console"
	"github.com/atlasboot/atlas/efi"
	"github.com/atlasboot/atlas/fat32"
	"github.com/atlasboot/atlas/handoff"
	"github.com/atlasboot/atlas/heap"
	"github.com/atlasboot/atlas/menu"
	"github.com/atlasboot/atlas/volume"
)

// Platform is the firmware environment the loader runs in, chosen once at
// startup.
type Platform interface {
	Name() string
	Arch() config.Arch
	Heap() heap.Allocator
	Volume() volume.Reader
	Target() handoff.Target
	Memory() handoff.Memory
	Screen() console.Screen
	// PollEvent returns the next pending navigation event or menu.None.
	PollEvent() menu.Event
}

// Keyboard delivers set-1 scancodes from the legacy keyboard controller.
type Keyboard interface {
	ReadScancode() (sc uint8, ok bool)
}

// LegacyConfig describes a legacy firmware machine.
type LegacyConfig struct {
	Ports    ata.Ports
	Memory   handoff.Memory
	Keyboard Keyboard
	// VolumeLBA is the first sector of the boot volume on the disk.
	VolumeLBA uint32
	// MaxPolls bounds each disk status wait; zero polls forever.
	MaxPolls int
	Logger   *slog.Logger
}

// Legacy is the platform under legacy firmware: polled disk I/O, a raw FAT32
// reader, a fixed-address heap and the text mode buffer.
type Legacy struct {
	vol    *fat32.Volume
	arena  *heap.Arena
	screen *console.TextBuffer
	mem    handoff.Memory
	kbd    Keyboard
}

var _ Platform = (*Legacy)(nil)

// NewLegacy reads the volume boot record at cfg.VolumeLBA and prepares the
// FAT32 reader, heap and screen.
func NewLegacy(cfg LegacyConfig) (*Legacy, error) {
	disk := ata.NewReader(cfg.Ports)
	disk.MaxPolls = cfg.MaxPolls
	disk.SetLogger(cfg.Logger)
	dev := &partition{dev: disk, start: int64(cfg.VolumeLBA), scale: 1}

	var vbr [ata.SectorSize]byte
	if err := dev.ReadBlocks(vbr[:], 0); err != nil {
		return nil, fmt.Errorf("atlas: reading volume boot record: %w", err)
	}
	params, err := fat32.ParseBootSector(vbr[:])
	if err != nil {
		return nil, err
	}
	// Sizes are powers of two from 512, so volume sectors span whole disk sectors.
	dev.scale = int64(params.BytesPerSector / ata.SectorSize)
	vol := fat32.New(dev)
	vol.SetLogger(cfg.Logger)
	if err := vol.Init(params); err != nil {
		return nil, err
	}

	heapMem, err := cfg.Memory.Slice(heap.LegacyStart, heap.LegacySize)
	if err != nil {
		return nil, err
	}
	arena, err := heap.NewArena(heap.LegacyStart, heap.LegacySize, heapMem)
	if err != nil {
		return nil, err
	}
	arena.SetLogger(cfg.Logger)

	text, err := cfg.Memory.Slice(handoff.TextModeBase, console.TextBufferSize)
	if err != nil {
		return nil, err
	}
	return &Legacy{
		vol:    vol,
		arena:  arena,
		screen: console.NewTextBuffer(text),
		mem:    cfg.Memory,
		kbd:    cfg.Keyboard,
	}, nil
}

func (p *Legacy) Name() string { return "legacy" }
func (p *Legacy) Arch() config.Arch { return config.ArchX86 }
func (p *Legacy) Heap() heap.Allocator { return p.arena }
func (p *Legacy) Volume() volume.Reader { return p.vol }
func (p *Legacy) Memory() handoff.Memory { return p.mem }
func (p *Legacy) Screen() console.Screen { return p.screen }

// FAT returns the raw volume reader.
func (p *Legacy) FAT() *fat32.Volume { return p.vol }

func (p *Legacy) Target() handoff.Target {
	return handoff.Fixed{Addr: handoff.LegacyLoadAddr, Limit: handoff.LegacyLoadLimit}
}

func (p *Legacy) PollEvent() menu.Event {
	if p.kbd == nil {
		return menu.None
	}
	sc, ok := p.kbd.ReadScancode()
	if !ok {
		return menu.None
	}
	return menu.ScancodeEvent(sc)
}

// partition maps volume sectors to disk sectors: offset by the volume start
// and multiplied by scale disk sectors per volume sector.
type partition struct {
	dev   fat32.BlockDevice
	start int64
	scale int64
}

func (p *partition) ReadBlocks(dst []byte, startBlock int64) error {
	return p.dev.ReadBlocks(dst, p.start+startBlock*p.scale)
}

// Firmware is the platform under modern firmware: every capability goes
// through boot services.
type Firmware struct {
	st     *efi.SystemTable
	pool   *heap.Pool
	vol    *efi.FileVolume
	target *efi.PageTarget
	screen *efi.Screen
	mem    handoff.Memory
}

var _ Platform = (*Firmware)(nil)

// NewFirmware returns the platform for the loader image started with st.
func NewFirmware(st *efi.SystemTable, image efi.Handle, mem handoff.Memory, logger *slog.Logger) *Firmware {
	vol := efi.NewFileVolume(st.BootServices, image)
	vol.SetLogger(logger)
	target := &efi.PageTarget{BS: st.BootServices}
	target.SetLogger(logger)
	return &Firmware{
		st:     st,
		pool:   heap.NewPool(efi.LoaderDataPool{BS: st.BootServices}),
		vol:    vol,
		target: target,
		screen: efi.NewScreen(st.ConOut),
		mem:    mem,
	}
}

func (p *Firmware) Name() string { return "uefi" }
func (p *Firmware) Arch() config.Arch { return config.ArchX64 }
func (p *Firmware) Heap() heap.Allocator { return p.pool }
func (p *Firmware) Volume() volume.Reader { return p.vol }
func (p *Firmware) Target() handoff.Target { return p.target }
func (p *Firmware) Memory() handoff.Memory { return p.mem }
func (p *Firmware) Screen() console.Screen { return p.screen }
func (p *Firmware) PollEvent() menu.Event { return efi.PollKey(p.st.ConIn) }
