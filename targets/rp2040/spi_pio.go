//go:build (rp2040 || rp2350) && piospi

package main

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
	"tinygo.org/x/drivers"
)

// PIO SPI, mode 0, 8 bit frames. Frees both hardware SPI blocks and
// lets the bus sit on any three GPIOs.
//
//	.side_set 1
//	out pins, 1  side 0 [1]
//	in  pins, 1  side 1 [1]
func buildSPIProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 1}
	return []uint16{
		asm.Out(rp2pio.OutDestPins, 1).Side(0).Delay(1).Encode(),
		asm.In(rp2pio.InSrcPins, 1).Side(1).Delay(1).Encode(),
	}
}

const spiPIOOrigin = -1

var rp2040SPIBuses = map[string][3]machine.Pin{ // sck, mosi, miso
	"spi0a": {machine.GPIO2, machine.GPIO3, machine.GPIO0},
	"spi0c": {machine.GPIO18, machine.GPIO19, machine.GPIO16},
	"spi1a": {machine.GPIO10, machine.GPIO11, machine.GPIO8},
}

type pioSPI struct {
	sm rp2pio.StateMachine
}

func newSPI(bus string, rate uint32) (drivers.SPI, error) {
	pins, ok := rp2040SPIBuses[bus]
	if !ok {
		return nil, errors.New("invalid SPI bus")
	}
	sck, mosi, miso := pins[0], pins[1], pins[2]

	pio := rp2pio.PIO0
	sm := pio.StateMachine(0)
	sm.TryClaim()

	program := buildSPIProgram()
	offset, err := pio.AddProgram(program, spiPIOOrigin)
	if err != nil {
		return nil, err
	}

	sck.Configure(machine.PinConfig{Mode: pio.PinMode()})
	mosi.Configure(machine.PinConfig{Mode: pio.PinMode()})
	miso.Configure(machine.PinConfig{Mode: pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(mosi, 1)
	cfg.SetInPins(miso)
	cfg.SetSidesetPins(sck)
	cfg.SetSidesetParams(1, false, false)
	// MSB first, autopull and autopush every byte.
	cfg.SetOutShift(false, true, 8)
	cfg.SetInShift(false, true, 8)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	// Four PIO cycles per bit.
	div := machine.CPUFrequency() / (4 * rate)
	if div < 1 {
		div = 1
	}
	cfg.SetClkDivIntFrac(uint16(div), 0)

	sm.Init(offset, cfg)
	sm.SetPindirsConsecutive(sck, 1, true)
	sm.SetPindirsConsecutive(mosi, 1, true)
	sm.SetPindirsConsecutive(miso, 1, false)
	sm.SetPinsConsecutive(sck, 1, false)
	sm.SetEnabled(true)
	return &pioSPI{sm: sm}, nil
}

// Tx clocks one byte at a time so the RX FIFO never overflows.
func (s *pioSPI) Tx(w, r []byte) error {
	n := max(len(w), len(r))
	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		got := s.xfer(b)
		if i < len(r) {
			r[i] = got
		}
	}
	return nil
}

func (s *pioSPI) Transfer(b byte) (byte, error) {
	return s.xfer(b), nil
}

func (s *pioSPI) xfer(b byte) byte {
	for s.sm.IsTxFIFOFull() {
	}
	s.sm.TxPut(uint32(b) << 24)
	for s.sm.IsRxFIFOEmpty() {
	}
	return byte(s.sm.RxGet())
}
