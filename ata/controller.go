package ata

import (
	"encoding/binary"
	"io"
)

// Controller emulates the primary ATA channel with a single master drive backed
// by a disk image. It implements Ports and only understands READ PIO.
type Controller struct {
	disk io.ReaderAt
	// BusyCycles is the number of status reads that report BSY before every
	// sector becomes ready. Negative values keep the device busy forever.
	BusyCycles int

	drive    uint8
	count    uint8
	lba      [3]uint8
	pending  int // Sectors left in the current command.
	busyLeft int
	buf      [SectorSize]byte
	bufPos   int // Byte offset of the next data word, SectorSize when drained.
	next     int64
	status   uint8
	err      error
}

// NewController returns a controller reading from disk.
func NewController(disk io.ReaderAt) *Controller {
	return &Controller{disk: disk, bufPos: SectorSize}
}

// Err returns the last image read error. Real hardware has no such channel;
// the emulation raises ERR in the status register and records the cause here.
func (c *Controller) Err() error { return c.err }

func (c *Controller) In8(port uint16) uint8 {
	switch port {
	case PortStatus:
		return c.readStatus()
	case PortSecCount:
		return c.count
	case PortLBALow:
		return c.lba[0]
	case PortLBAMid:
		return c.lba[1]
	case PortLBAHigh:
		return c.lba[2]
	case PortDrive:
		return c.drive
	case PortError:
		if c.status&StatusERR != 0 {
			return 0x04 // ABRT
		}
	}
	return 0
}

func (c *Controller) Out8(port uint16, value uint8) {
	switch port {
	case PortDrive:
		c.drive = value
	case PortSecCount:
		c.count = value
	case PortLBALow:
		c.lba[0] = value
	case PortLBAMid:
		c.lba[1] = value
	case PortLBAHigh:
		c.lba[2] = value
	case PortCommand:
		c.command(value)
	}
}

func (c *Controller) In16(port uint16) uint16 {
	if port != PortData || c.bufPos >= SectorSize {
		return 0xFFFF // Floating bus.
	}
	w := binary.LittleEndian.Uint16(c.buf[c.bufPos:])
	c.bufPos += 2
	if c.bufPos == SectorSize {
		c.status &^= StatusDRQ
		c.pending--
		if c.pending > 0 {
			c.beginSector()
		}
	}
	return w
}

func (c *Controller) command(cmd uint8) {
	if cmd != CmdReadPIO {
		c.status = StatusERR
		return
	}
	c.next = int64(c.drive&0x0F)<<24 | int64(c.lba[2])<<16 | int64(c.lba[1])<<8 | int64(c.lba[0])
	c.pending = int(c.count)
	if c.pending == 0 {
		c.pending = 256 // A sector count of 0 means 256.
	}
	c.status = 0
	c.beginSector()
}

func (c *Controller) beginSector() {
	c.busyLeft = c.BusyCycles
	c.status = StatusBSY
	c.bufPos = SectorSize
}

func (c *Controller) readStatus() uint8 {
	if c.status&StatusBSY == 0 {
		return c.status
	}
	if c.busyLeft != 0 {
		if c.busyLeft > 0 {
			c.busyLeft--
		}
		return c.status
	}
	// Device finished seeking, latch the sector. Reads past the image end yield zeros.
	clear(c.buf[:])
	_, err := c.disk.ReadAt(c.buf[:], c.next*SectorSize)
	if err != nil && err != io.EOF {
		c.err = err
		c.status = StatusERR
		return c.status
	}
	c.next++
	c.bufPos = 0
	c.status = StatusDRQ
	return c.status
}
