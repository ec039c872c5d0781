package core

import (
	"tinygo.org/x/drivers"
)

// OutputPin drives a digital output. Chip select is active low.
type OutputPin func(level bool)

// Bus is the register access layer. Each call is one chip-select framed
// SPI transaction on the co-processor's host interface.
//
// Transport errors are sticky: the first failure is kept and every
// later transaction becomes a no-op until ClearErr is called.
type Bus struct {
	spi drivers.SPI
	cs  OutputPin
	tx  [3]byte
	rx  [3]byte
	err error

	// Transactions counts completed chip-select frames.
	Transactions uint32
}

// NewBus returns a register access layer on spi with the given chip select.
func NewBus(spi drivers.SPI, cs OutputPin) *Bus {
	if cs == nil {
		cs = func(bool) {}
	}
	return &Bus{spi: spi, cs: cs}
}

// Err returns the first transport error seen since the last ClearErr.
func (b *Bus) Err() error { return b.err }

// ClearErr drops a latched transport error.
func (b *Bus) ClearErr() { b.err = nil }

func (b *Bus) xfer(w, r []byte) {
	if b.err != nil {
		return
	}
	b.cs(false)
	b.err = b.spi.Tx(w, r)
	b.cs(true)
	b.Transactions++
}

// Read8 reads an 8-bit register.
func (b *Bus) Read8(reg uint8) uint8 {
	b.tx[0], b.tx[1] = reg|regReadMask, 0
	b.rx[1] = 0
	b.xfer(b.tx[:2], b.rx[:2])
	return b.rx[1]
}

// Write8 writes an 8-bit register.
func (b *Bus) Write8(reg, v uint8) {
	b.tx[0], b.tx[1] = reg|regWriteMask, v
	b.xfer(b.tx[:2], nil)
}

// Read16 reads a 16-bit register. The device sends the high byte first.
func (b *Bus) Read16(reg uint8) uint16 {
	b.tx[0], b.tx[1], b.tx[2] = reg|regReadMask, 0, 0
	b.rx[1], b.rx[2] = 0, 0
	b.xfer(b.tx[:3], b.rx[:3])
	return uint16(b.rx[1])<<8 | uint16(b.rx[2])
}

// Write16 writes a 16-bit register, high byte first.
func (b *Bus) Write16(reg uint8, v uint16) {
	b.tx[0], b.tx[1], b.tx[2] = reg|regWriteMask, byte(v>>8), byte(v)
	b.xfer(b.tx[:3], nil)
}

// WriteArray writes buf to a data port in a single transaction.
func (b *Bus) WriteArray(reg uint8, buf []byte) {
	if b.err != nil {
		return
	}
	b.tx[0] = reg | regWriteMask
	b.cs(false)
	b.err = b.spi.Tx(b.tx[:1], nil)
	if b.err == nil && len(buf) > 0 {
		b.err = b.spi.Tx(buf, nil)
	}
	b.cs(true)
	b.Transactions++
}

// ReadArray fills buf from a data port in a single transaction.
func (b *Bus) ReadArray(reg uint8, buf []byte) {
	if b.err != nil {
		return
	}
	b.tx[0] = reg | regReadMask
	b.cs(false)
	b.err = b.spi.Tx(b.tx[:1], nil)
	if b.err == nil && len(buf) > 0 {
		b.err = b.spi.Tx(nil, buf)
	}
	b.cs(true)
	b.Transactions++
}

// ReadIndexed reads a register behind the index address/data pair.
func (b *Bus) ReadIndexed(addr uint16) uint16 {
	b.Write16(RegIndexAddr, addr)
	return b.Read16(RegIndexData)
}

// WriteIndexed writes a register behind the index address/data pair.
func (b *Bus) WriteIndexed(addr, v uint16) {
	b.Write16(RegIndexAddr, addr)
	b.Write16(RegIndexData, v)
}
