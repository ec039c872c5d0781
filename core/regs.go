package core

// MRF24W host interface register map.
// Register ids are the 7-bit addresses clocked out in the first SPI byte.

// SPI command modifiers
const (
	regReadMask  = 0x40
	regWriteMask = 0x00
)

// Host interface registers (8-bit)
const (
	RegHostIntr = 0x01 // Host interrupt register
	RegHostMask = 0x02 // Host interrupt mask register
)

// Host interface registers (16-bit)
const (
	RegRaw0Data      = 0x20 // RAW0 data port
	RegRaw1Data      = 0x21 // RAW1 data port
	RegRaw0Ctrl0     = 0x25 // RAW0 move control
	RegRaw0Ctrl1     = 0x26 // RAW0 move result (byte count)
	RegRaw0Index     = 0x27 // RAW0 index cursor
	RegRaw0Status    = 0x28 // RAW0 status
	RegRaw1Ctrl0     = 0x29 // RAW1 move control
	RegRaw1Ctrl1     = 0x2a // RAW1 move result (byte count)
	RegRaw1Index     = 0x2b // RAW1 index cursor
	RegRaw1Status    = 0x2c // RAW1 status
	RegHostIntr2     = 0x2d // Secondary interrupt register
	RegHostIntr2Mask = 0x2e // Secondary interrupt mask
	RegWFifoBcnt0    = 0x2f // TX data pool free bytes
	RegWFifoBcnt1    = 0x31 // TX management pool free bytes
	RegRFifoBcnt0    = 0x33 // RX FIFO byte count
	RegHostReset     = 0x3c // Host reset control
	RegPSPollH       = 0x3d // PS-Poll low power control
	RegIndexAddr     = 0x3e // Indexed register address
	RegIndexData     = 0x3f // Indexed register data
)

// Indexed registers, reached through RegIndexAddr / RegIndexData
const (
	IdxHWStatus       = 0x2a // Hardware status
	IdxLowPowerStatus = 0x3e // Low power status (bit 0 = asleep)
)

// Register bit masks
const (
	HostResetMask      = 0x0001
	HWStatusNotInReset = 0x1000
	LowPowerAsleepMask = 0x0001
	FifoBcntMask       = 0x0fff

	RawStatusBusyMask  = 0x0001
	RawStatusErrorMask = 0x0002
)

// Host interrupt bits (RegHostIntr / RegHostMask)
const (
	IntINT2       uint8 = 0x01 // Secondary interrupt (fatal)
	IntRaw0       uint8 = 0x02 // RAW0 move complete
	IntRaw1       uint8 = 0x04 // RAW1 move complete
	IntFifo0      uint8 = 0x40 // Data message received
	IntFifo1      uint8 = 0x80 // Management message received
	IntRawAny           = IntRaw0 | IntRaw1
	IntEnabledSet       = IntFifo1 | IntFifo0 | IntRaw0 | IntRaw1
)

// RawCtrlDest marks the window as the destination of a move.
const RawCtrlDest = 0x8000

// MountTarget is the object selector in a RAW move control word.
type MountTarget uint8

const (
	TargetMAC     MountTarget = 0x00 // Wire: TX send or RX mount
	TargetMgmt    MountTarget = 0x10 // TX management pool
	TargetData    MountTarget = 0x20 // TX data pool
	TargetScratch MountTarget = 0x30 // Shared scratch pad
	TargetStack   MountTarget = 0x40 // 1-level save slot
	TargetCopy    MountTarget = 0x70 // Window to window copy
)

func (t MountTarget) String() string {
	switch t {
	case TargetMAC:
		return "mac"
	case TargetMgmt:
		return "mgmt"
	case TargetData:
		return "data"
	case TargetScratch:
		return "scratch"
	case TargetStack:
		return "stack"
	case TargetCopy:
		return "copy"
	}
	return "unknown"
}

// RawCtrlWord encodes a RAW move control value.
func RawCtrlWord(target MountTarget, dest bool, size uint16) uint16 {
	var w uint16
	if dest {
		w = RawCtrlDest
	}
	w |= uint16(target) << 8
	w |= ((size >> 8) & 0x0f) << 8
	w |= size & 0x00ff
	return w
}

// DecodeRawCtrlWord splits a control value back into its fields.
func DecodeRawCtrlWord(w uint16) (target MountTarget, dest bool, size uint16) {
	dest = w&RawCtrlDest != 0
	target = MountTarget((w >> 8) & 0x70)
	size = w & 0x0fff
	return target, dest, size
}

// Per-window register set
type rawRegs struct {
	data, ctrl0, ctrl1, index, status uint8
	intBit                            uint8
}

var windowRegs = [NumWindows]rawRegs{
	{data: RegRaw0Data, ctrl0: RegRaw0Ctrl0, ctrl1: RegRaw0Ctrl1, index: RegRaw0Index, status: RegRaw0Status, intBit: IntRaw0},
	{data: RegRaw1Data, ctrl0: RegRaw1Ctrl0, ctrl1: RegRaw1Ctrl1, index: RegRaw1Index, status: RegRaw1Status, intBit: IntRaw1},
}

// WindowRegisters returns the data, control, result, index and status
// register ids of a RAW window.
func WindowRegisters(id WindowID) (data, ctrl0, ctrl1, index, status uint8) {
	r := windowRegs[id]
	return r.data, r.ctrl0, r.ctrl1, r.index, r.status
}

// WindowIntBit returns the completion interrupt bit of a RAW window.
func WindowIntBit(id WindowID) uint8 {
	return windowRegs[id].intBit
}

// Is16Bit reports whether a host register is 16 bits wide.
func Is16Bit(reg uint8) bool {
	return reg != RegHostIntr && reg != RegHostMask
}
