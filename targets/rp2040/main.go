//go:build rp2040 || rp2350

// Command rp2040 is the MRF24W SPI bridge firmware. It exposes the
// co-processor's SPI bus, control pins and interrupt line to the host
// over USB CDC.
package main

import (
	"errors"
	"machine"
	"time"

	"mrf24w/core"
	"mrf24w/targets/spibridge"
)

const (
	spiBus  = "spi0c" // GPIO18 SCK, GPIO19 MOSI, GPIO16 MISO
	spiRate = 8000000

	pinCS        = machine.GPIO17
	pinINT       = machine.GPIO20
	pinHibernate = machine.GPIO21 // CE_N
	pinReset     = machine.GPIO22
)

var errUSBStalled = errors.New("usb: write stalled")

var (
	messagesReceived uint32
	msgerrors        uint32
)

func outputPin(p machine.Pin, initial bool) core.OutputPin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(initial)
	return p.Set
}

func main() {
	// Clear any watchdog left running by a previous image.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	InitUSB()
	log := initDebugLog()

	spi, err := newSPI(spiBus, spiRate)
	if err != nil {
		log.Error("spi", "err", err)
		for {
			// Nothing to bridge without a bus.
			time.Sleep(time.Second)
		}
	}

	out := &usbWriter{}
	srv := spibridge.NewServer(out, spibridge.Config{
		SPI:        spi,
		ChipSelect: outputPin(pinCS, true),
		// Hold the chip in hibernate and reset until the host brings it up.
		Hibernate: outputPin(pinHibernate, true),
		Reset:     outputPin(pinReset, false),
		IRQ:       core.NewPinLine(pinINT),
		Logger:    log,
	})

	var buf [64]byte
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					log.Error("main loop panic", "count", msgerrors)
				}
			}()
			if USBAvailable() > 0 {
				n := USBRead(buf[:])
				if out.disconnected {
					// The host is back; its first frame restarts the sequence.
					out.disconnected = false
					log.Info("host reconnected")
				}
				srv.Receive(buf[:n])
				messagesReceived++
				return
			}
			srv.Poll()
		}()
		time.Sleep(10 * time.Microsecond)
	}
}
