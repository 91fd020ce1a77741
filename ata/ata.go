// Package ata reads sectors from the primary ATA channel using polled PIO.
// There are no interrupts: every wait is a busy loop on the status port.
package ata

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
)

// Primary channel I/O ports.
const (
	PortData     uint16 = 0x1F0
	PortError    uint16 = 0x1F1
	PortSecCount uint16 = 0x1F2
	PortLBALow   uint16 = 0x1F3
	PortLBAMid   uint16 = 0x1F4
	PortLBAHigh  uint16 = 0x1F5
	PortDrive    uint16 = 0x1F6
	PortCommand  uint16 = 0x1F7
	PortStatus   uint16 = 0x1F7
)

// Status register bits.
const (
	StatusERR uint8 = 1 << 0
	StatusDRQ uint8 = 1 << 3
	StatusBSY uint8 = 1 << 7
)

const (
	CmdReadPIO uint8 = 0x20
	// driveMasterLBA selects the master drive in LBA mode. The low nibble carries LBA bits 24..27.
	driveMasterLBA uint8 = 0xE0
)

// SectorSize is the fixed transfer unit in bytes.
const SectorSize = 512

const wordsPerSector = SectorSize / 2

var (
	ErrDeviceNotReady = errors.New("ata: device not ready")
	errShortBuffer    = errors.New("ata: destination shorter than requested sectors")
	errBlockAlign     = errors.New("ata: buffer not a multiple of the sector size")
	errLBARange       = errors.New("ata: LBA out of 28 bit range")
	errZeroCount      = errors.New("ata: zero sector count")
)

// Ports is port-mapped I/O as exposed by the CPU.
type Ports interface {
	In8(port uint16) uint8
	In16(port uint16) uint16
	Out8(port uint16, value uint8)
}

// Reader reads sectors from the master drive of the primary channel.
type Reader struct {
	ports Ports
	// MaxPolls bounds each status wait. Zero means poll forever, which is the
	// behaviour of real boot code: a device that never answers hangs the loader.
	MaxPolls int
	log      *slog.Logger
}

func NewReader(ports Ports) *Reader {
	return &Reader{ports: ports}
}

// SetLogger sets the logger. A nil logger disables logging.
func (r *Reader) SetLogger(l *slog.Logger) { r.log = l }

// ReadSectors reads count sectors starting at lba into dst. For every sector
// it waits for BSY to clear and DRQ to set, then streams 256 words. A count of
// zero is rejected since the device would take it as 256 sectors.
func (r *Reader) ReadSectors(lba uint32, count uint8, dst []byte) error {
	if count == 0 {
		return errZeroCount
	} else if len(dst) < int(count)*SectorSize {
		return errShortBuffer
	} else if lba > 0x0FFF_FFFF {
		return errLBARange
	}
	if err := r.waitBusy(); err != nil {
		return err
	}
	p := r.ports
	p.Out8(PortDrive, driveMasterLBA|uint8(lba>>24)&0x0F)
	p.Out8(PortSecCount, count)
	p.Out8(PortLBALow, uint8(lba))
	p.Out8(PortLBAMid, uint8(lba>>8))
	p.Out8(PortLBAHigh, uint8(lba>>16))
	p.Out8(PortCommand, CmdReadPIO)

	for i := 0; i < int(count); i++ {
		if err := r.waitBusy(); err != nil {
			return err
		}
		if err := r.waitDataReady(); err != nil {
			return err
		}
		sector := dst[i*SectorSize : (i+1)*SectorSize]
		for j := 0; j < wordsPerSector; j++ {
			binary.LittleEndian.PutUint16(sector[j*2:], p.In16(PortData))
		}
	}
	return nil
}

// ReadBlocks reads len(dst)/SectorSize sectors starting at startBlock.
// It makes Reader usable as a read-only block device.
func (r *Reader) ReadBlocks(dst []byte, startBlock int64) error {
	if len(dst)%SectorSize != 0 {
		return errBlockAlign
	} else if startBlock < 0 || startBlock > 0x0FFF_FFFF {
		return errLBARange
	}
	n := len(dst) / SectorSize
	lba := uint32(startBlock)
	for n > 0 {
		chunk := min(n, 255)
		if err := r.ReadSectors(lba, uint8(chunk), dst); err != nil {
			return err
		}
		dst = dst[chunk*SectorSize:]
		lba += uint32(chunk)
		n -= chunk
	}
	return nil
}

func (r *Reader) waitBusy() error {
	return r.poll(func(status uint8) bool { return status&StatusBSY == 0 })
}

func (r *Reader) waitDataReady() error {
	return r.poll(func(status uint8) bool { return status&StatusDRQ != 0 })
}

func (r *Reader) poll(ready func(uint8) bool) error {
	for n := 0; r.MaxPolls <= 0 || n < r.MaxPolls; n++ {
		if ready(r.ports.In8(PortStatus)) {
			return nil
		}
	}
	r.logattrs(slog.LevelError, "ata:poll exhausted", slog.Int("polls", r.MaxPolls))
	return ErrDeviceNotReady
}

func (r *Reader) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if r.log != nil {
		r.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
