// Package sim is a software MRF24W. It decodes the host interface SPI
// traffic the way the silicon does and answers management requests
// with a small firmware model, so the driver can run without hardware.
package sim

import (
	"log/slog"
	"net"
	"sync"

	"mrf24w/core"
)

// Options configures a Device. Zero values take defaults.
type Options struct {
	DataPool    uint16 // TX data pool bytes
	MgmtPool    uint16 // TX management pool bytes
	ScratchSize uint16
	WakeLatency int // LOW_POWER_STATUS reads that still report asleep after wake
	ResetPolls  int // HW_STATUS reads that still report in reset
	MAC         net.HardwareAddr
	Logger      *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.DataPool == 0 {
		o.DataPool = 2048
	}
	if o.MgmtPool == 0 {
		o.MgmtPool = 256
	}
	if o.ScratchSize == 0 {
		o.ScratchSize = 1536
	}
	if o.WakeLatency < 0 {
		o.WakeLatency = 0
	}
	if o.MAC == nil {
		o.MAC = net.HardwareAddr{0x00, 0x1e, 0xc0, 0x12, 0x34, 0x56}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

const (
	fifoData = 0
	fifoMgmt = 1
)

var fifoBits = [2]uint8{core.IntFifo0, core.IntFifo1}

// buffer is one object in device memory.
type buffer struct {
	data     []byte
	pool     core.MountTarget // TargetData/TargetMgmt when taken from a TX pool
	capacity uint16
}

type window struct {
	buf    *buffer
	saved  *buffer
	index  uint16
	result uint16
}

// Device is a simulated co-processor. It implements drivers.SPI; wire
// ChipSelect, Hibernate and Reset to the driver's pins and IRQ to its
// interrupt line.
type Device struct {
	mu   sync.Mutex
	opts Options
	log  *slog.Logger
	line *core.Line

	// SPI framing
	selected bool
	pos      int
	cmd      uint8
	hi       uint8
	shift    uint16

	intr, mask       uint8
	intr2, intr2Mask uint16
	hostReset        uint16
	inReset          bool
	resetPolls       int
	indexAddr        uint16
	psPoll           bool
	asleep           bool
	wakeCountdown    int
	hibernating      bool
	held             bool

	dataFree, mgmtFree uint16
	win                [core.NumWindows]window
	scratch            *buffer
	scratchOn          int

	pending [2][]*buffer
	acked   [2][]*buffer

	stall      bool
	fw         firmware
	violations int
	moves      int
}

// New returns a powered, freshly reset device.
func New(opts Options) *Device {
	opts.applyDefaults()
	d := &Device{
		opts: opts,
		log:  opts.Logger,
		line: core.NewLine(),
	}
	d.fw.init(opts.MAC)
	d.reset()
	return d
}

// IRQ is the device's interrupt output.
func (d *Device) IRQ() *core.Line { return d.line }

// reset puts the chip into its power-on state. Firmware parameters
// survive; connection and power state do not.
func (d *Device) reset() {
	d.intr, d.mask = 0, 0
	d.intr2, d.intr2Mask = 0, 0
	d.hostReset = 0
	d.psPoll, d.asleep, d.wakeCountdown = false, false, 0
	d.dataFree, d.mgmtFree = d.opts.DataPool, d.opts.MgmtPool
	d.win = [core.NumWindows]window{}
	d.scratch = &buffer{data: make([]byte, d.opts.ScratchSize), pool: core.TargetScratch}
	d.scratchOn = int(core.WindowTX)
	d.win[core.WindowTX].buf = d.scratch
	d.pending = [2][]*buffer{}
	d.acked = [2][]*buffer{}
	d.fw.reset()
}

// update must be called without mu held; it drives the interrupt line
// from the current register state.
func (d *Device) update() {
	d.mu.Lock()
	level := d.level()
	d.mu.Unlock()
	d.line.Set(level)
}

func (d *Device) level() bool {
	return !d.hibernating && !d.held && d.intr&d.mask != 0
}

// ChipSelect is the active low CS pin.
func (d *Device) ChipSelect(level bool) {
	d.mu.Lock()
	d.selected = !level
	d.pos = 0
	d.mu.Unlock()
}

// Hibernate is the CE_N pin. High powers the chip down and loses all
// state.
func (d *Device) Hibernate(level bool) {
	d.mu.Lock()
	if level && !d.hibernating {
		d.log.Debug("sim: hibernate")
		d.reset()
	}
	d.hibernating = level
	d.mu.Unlock()
	d.update()
}

// Reset is the active low reset pin.
func (d *Device) Reset(level bool) {
	d.mu.Lock()
	if !level && !d.held {
		d.reset()
	}
	d.held = !level
	d.mu.Unlock()
	d.update()
}

// Tx clocks w out and r in. Without chip select every call is a frame
// of its own.
func (d *Device) Tx(w, r []byte) error {
	d.mu.Lock()
	if !d.selected {
		d.pos = 0
	}
	n := max(len(w), len(r))
	for i := range n {
		var in byte
		if i < len(w) {
			in = w[i]
		}
		out := d.clock(in)
		if i < len(r) {
			r[i] = out
		}
	}
	level := d.level()
	d.mu.Unlock()
	d.line.Set(level)
	return nil
}

// Transfer clocks a single byte.
func (d *Device) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := d.Tx([]byte{b}, r[:])
	return r[0], err
}

// clock handles one byte of a frame.
func (d *Device) clock(in byte) byte {
	if d.hibernating || d.held {
		return 0
	}
	if d.pos == 0 {
		d.cmd = in
		d.pos++
		return 0
	}
	p := d.pos
	d.pos++
	reg := d.cmd &^ 0x40
	read := d.cmd&0x40 != 0

	switch {
	case reg == core.RegRaw0Data:
		return d.dataPort(core.WindowTX, read, in)
	case reg == core.RegRaw1Data:
		return d.dataPort(core.WindowRX, read, in)
	case !core.Is16Bit(reg):
		if p != 1 {
			return 0
		}
		if read {
			return d.read8(reg)
		}
		d.write8(reg, in)
		return 0
	}

	if read {
		switch p {
		case 1:
			d.shift = d.read16(reg)
			return byte(d.shift >> 8)
		case 2:
			return byte(d.shift)
		}
		return 0
	}
	switch p {
	case 1:
		d.hi = in
	case 2:
		d.write16(reg, uint16(d.hi)<<8|uint16(in))
	}
	return 0
}

func (d *Device) read8(reg uint8) uint8 {
	switch reg {
	case core.RegHostIntr:
		return d.intr
	case core.RegHostMask:
		return d.mask
	}
	return 0
}

func (d *Device) write8(reg, v uint8) {
	switch reg {
	case core.RegHostIntr:
		d.ackIntr(v)
	case core.RegHostMask:
		d.mask = v
	}
}

// ackIntr clears interrupt bits. Clearing a FIFO bit acknowledges the
// message at the head of that FIFO and queues it for mounting.
func (d *Device) ackIntr(v uint8) {
	for f, bit := range fifoBits {
		if v&bit != 0 && d.intr&bit != 0 {
			d.intr &^= bit
			d.ackFifo(f)
		}
	}
	d.intr &^= v &^ (core.IntFifo0 | core.IntFifo1)
}

func (d *Device) ackFifo(f int) {
	if len(d.pending[f]) == 0 {
		return
	}
	d.acked[f] = append(d.acked[f], d.pending[f][0])
	d.pending[f] = d.pending[f][1:]
	if len(d.pending[f]) > 0 {
		d.intr |= fifoBits[f]
	}
}

// enqueue delivers a message from the firmware to the host.
func (d *Device) enqueue(f int, msg []byte) {
	d.pending[f] = append(d.pending[f], &buffer{data: msg, pool: core.TargetMAC})
	d.intr |= fifoBits[f]
}

func (d *Device) read16(reg uint8) uint16 {
	switch reg {
	case core.RegHostIntr2:
		return d.intr2
	case core.RegHostIntr2Mask:
		return d.intr2Mask
	case core.RegWFifoBcnt0:
		return d.dataFree
	case core.RegWFifoBcnt1:
		return d.mgmtFree
	case core.RegRFifoBcnt0:
		if b := d.nextRx(false); b != nil {
			return uint16(len(b.data))
		}
		return 0
	case core.RegHostReset:
		return d.hostReset
	case core.RegPSPollH:
		if d.psPoll {
			return 1
		}
		return 0
	case core.RegIndexAddr:
		return d.indexAddr
	case core.RegIndexData:
		return d.readIndexed()
	case core.RegRaw0Ctrl1:
		return d.win[core.WindowTX].result
	case core.RegRaw1Ctrl1:
		return d.win[core.WindowRX].result
	case core.RegRaw0Index:
		return d.win[core.WindowTX].index
	case core.RegRaw1Index:
		return d.win[core.WindowRX].index
	case core.RegRaw0Status:
		return d.status(core.WindowTX)
	case core.RegRaw1Status:
		return d.status(core.WindowRX)
	}
	return 0
}

func (d *Device) write16(reg uint8, v uint16) {
	switch reg {
	case core.RegHostIntr2:
		d.intr2 &^= v
		if d.intr2 == 0 {
			d.intr &^= core.IntINT2
		}
	case core.RegHostIntr2Mask:
		d.intr2Mask = v
	case core.RegHostReset:
		d.hostReset = v
		if v&core.HostResetMask != 0 {
			d.inReset = true
			d.reset()
			d.hostReset = v
		} else if d.inReset {
			d.inReset = false
			d.resetPolls = d.opts.ResetPolls
		}
	case core.RegPSPollH:
		if v&1 != 0 {
			d.psPoll = true
			d.asleep = true
		} else {
			d.psPoll = false
			if d.asleep {
				d.wakeCountdown = d.opts.WakeLatency
			}
		}
	case core.RegIndexAddr:
		d.indexAddr = v
	case core.RegRaw0Ctrl0:
		d.move(core.WindowTX, v)
	case core.RegRaw1Ctrl0:
		d.move(core.WindowRX, v)
	case core.RegRaw0Index:
		d.win[core.WindowTX].index = v
	case core.RegRaw1Index:
		d.win[core.WindowRX].index = v
	}
}

func (d *Device) readIndexed() uint16 {
	switch d.indexAddr {
	case core.IdxHWStatus:
		if d.inReset {
			return 0
		}
		if d.resetPolls > 0 {
			d.resetPolls--
			return 0
		}
		return core.HWStatusNotInReset
	case core.IdxLowPowerStatus:
		if !d.asleep {
			return 0
		}
		if d.psPoll {
			return 1
		}
		if d.wakeCountdown <= 0 {
			d.asleep = false
			return 0
		}
		d.wakeCountdown--
		return 1
	}
	return 0
}

func (d *Device) status(id core.WindowID) uint16 {
	w := &d.win[id]
	if w.buf == nil || int(w.index) > len(w.buf.data) {
		return core.RawStatusBusyMask
	}
	return 0
}

func (d *Device) dataPort(id core.WindowID, read bool, in byte) byte {
	w := &d.win[id]
	if w.buf == nil || int(w.index) >= len(w.buf.data) {
		return 0
	}
	var out byte
	if read {
		out = w.buf.data[w.index]
	} else {
		w.buf.data[w.index] = in
	}
	w.index++
	return out
}
