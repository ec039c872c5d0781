package serial

import (
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

type nativePort struct {
	port *serial.Port
}

// Open opens cfg.Device.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: no device")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}
	return &nativePort{port: p}, nil
}

func (p *nativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *nativePort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *nativePort) Close() error                { return p.port.Close() }
func (p *nativePort) Flush() error                { return p.port.Flush() }

// timeoutReader hides the empty reads tarm returns when ReadTimeout
// expires. Those surface as io.EOF on posix.
type timeoutReader struct {
	Port
}

func (r timeoutReader) Read(b []byte) (int, error) {
	for {
		n, err := r.Port.Read(b)
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			continue
		}
		return n, err
	}
}

// OpenLink opens a bridge link. Reads block until data arrives.
func OpenLink(device string, baud int) (Port, error) {
	cfg := DefaultConfig(device)
	if baud > 0 {
		cfg.Baud = baud
	}
	p, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return timeoutReader{p}, nil
}

// OpenLog opens a write-only UART for log output.
func OpenLog(device string, baud int) (Port, error) {
	cfg := DefaultConfig(device)
	if baud > 0 {
		cfg.Baud = baud
	}
	cfg.ReadTimeout = 0
	return Open(cfg)
}
