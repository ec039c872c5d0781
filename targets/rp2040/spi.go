//go:build (rp2040 || rp2350) && !piospi && !softspi

package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers"
)

// spiBusConfig is one SPI controller and its GPIO routing.
type spiBusConfig struct {
	spi  *machine.SPI
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
	name string
}

var rp2040SPIBuses = map[string]spiBusConfig{
	"spi0a": {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	"spi0b": {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	"spi0c": {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},
	"spi1a": {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	"spi1b": {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
}

// newSPI configures the MRF24W bus: mode 0, MSB first.
func newSPI(bus string, rate uint32) (drivers.SPI, error) {
	cfg, ok := rp2040SPIBuses[bus]
	if !ok {
		return nil, errors.New("invalid SPI bus")
	}
	err := cfg.spi.Configure(machine.SPIConfig{
		Frequency: rate,
		SCK:       cfg.sck,
		SDO:       cfg.mosi,
		SDI:       cfg.miso,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}
	return cfg.spi, nil
}
