// Package serial opens the serial ports the host tools talk through:
// the SPI bridge link and the optional UART log sink.
package serial

import (
	"io"
	"time"
)

// Port is an open serial port.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config describes a port.
type Config struct {
	Device string // e.g. /dev/ttyACM0 or COM3
	Baud   int    // USB CDC ignores it

	// ReadTimeout bounds a Read; zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig is what the bridge firmware expects.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
