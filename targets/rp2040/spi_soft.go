//go:build (rp2040 || rp2350) && softspi && !piospi

package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers"
)

// Bit-banged mode 0 SPI for boards that route the MRF24W to pins no
// SPI block reaches.
var rp2040SPIBuses = map[string][3]machine.Pin{ // sck, mosi, miso
	"spi0c": {machine.GPIO18, machine.GPIO19, machine.GPIO16},
	"soft0": {machine.GPIO26, machine.GPIO27, machine.GPIO28},
}

type softSPI struct {
	sclk, mosi, miso machine.Pin
	halfPeriodLoops  int
}

func newSPI(bus string, rate uint32) (drivers.SPI, error) {
	pins, ok := rp2040SPIBuses[bus]
	if !ok {
		return nil, errors.New("invalid SPI bus")
	}
	s := &softSPI{sclk: pins[0], mosi: pins[1], miso: pins[2]}
	if rate == 0 {
		rate = 100000
	}
	// About 8ns per loop at 125MHz.
	s.halfPeriodLoops = int(500000000/rate) / 8
	s.sclk.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.mosi.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s.miso.Configure(machine.PinConfig{Mode: machine.PinInput})
	s.sclk.Low()
	s.mosi.Low()
	return s, nil
}

func (s *softSPI) Tx(w, r []byte) error {
	n := max(len(w), len(r))
	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		got := s.transferByte(b)
		if i < len(r) {
			r[i] = got
		}
	}
	return nil
}

func (s *softSPI) Transfer(b byte) (byte, error) {
	return s.transferByte(b), nil
}

// transferByte shifts MSB first; MISO is sampled on the rising edge.
func (s *softSPI) transferByte(tx byte) byte {
	var rx byte
	for bit := 7; bit >= 0; bit-- {
		s.mosi.Set(tx&(1<<bit) != 0)
		s.delay()
		s.sclk.High()
		if s.miso.Get() {
			rx |= 1 << bit
		}
		s.delay()
		s.sclk.Low()
	}
	return rx
}

func (s *softSPI) delay() {
	for i := 0; i < s.halfPeriodLoops; i++ {
		_ = i
	}
}
