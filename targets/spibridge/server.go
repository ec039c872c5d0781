// Package spibridge is the firmware side of the SPI bridge: it runs the
// host's spi_xfer, set_pin and eint_config commands against a local SPI
// bus, the co-processor's control pins and its interrupt line. It has
// no machine dependencies so the host simulator can serve it too.
package spibridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"tinygo.org/x/drivers"

	"mrf24w/core"
	"mrf24w/protocol"
)

// Config wires a Server to its hardware.
type Config struct {
	SPI        drivers.SPI
	ChipSelect core.OutputPin
	Hibernate  core.OutputPin
	Reset      core.OutputPin
	IRQ        core.Interrupts
	Logger     *slog.Logger
}

type Server struct {
	spi  drivers.SPI
	pins [protocol.NumPins]core.OutputPin
	irq  core.Interrupts
	log  *slog.Logger

	reg *protocol.Registry
	tr  *protocol.Transport

	fired atomic.Bool
	wake  chan struct{}
	rx    [protocol.SPIChunk]byte

	// Xfers counts spi_xfer commands served.
	Xfers atomic.Uint32
}

// NewServer returns a server that writes its frames to w.
func NewServer(w io.Writer, cfg Config) *Server {
	s := &Server{
		spi:  cfg.SPI,
		pins: [protocol.NumPins]core.OutputPin{cfg.ChipSelect, cfg.Hibernate, cfg.Reset},
		irq:  cfg.IRQ,
		log:  cfg.Logger,
		reg:  protocol.NewBridgeRegistry(),
		wake: make(chan struct{}, 1),
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	for i, p := range s.pins {
		if p == nil {
			s.pins[i] = func(bool) {}
		}
	}
	s.tr = protocol.NewTransport(s.reg, w)
	s.tr.OnReset(s.idle)
	s.tr.OnError(func(err error) {
		s.log.Warn("spibridge: command failed", slog.Any("err", err))
	})
	s.reg.Handle(protocol.CmdIdentify, s.identify)
	s.reg.Handle(protocol.CmdSPIXfer, s.spiXfer)
	s.reg.Handle(protocol.CmdSetPin, s.setPin)
	s.reg.Handle(protocol.CmdEintConfig, s.eintConfig)
	if s.irq != nil {
		s.irq.Attach(s.interrupt)
	}
	s.idle()
	return s
}

// idle deselects the chip and masks the interrupt until the host asks
// for it.
func (s *Server) idle() {
	s.pins[protocol.PinChipSelect](true)
	if s.irq != nil {
		s.irq.Disable()
	}
	s.fired.Store(false)
}

// interrupt runs in interrupt context; the line is already masked.
func (s *Server) interrupt() {
	s.fired.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Server) identify(*[]byte) error {
	return s.tr.Send(protocol.RespIdentify, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(out, []byte(protocol.Version))
	})
}

func (s *Server) spiXfer(args *[]byte) error {
	w, err := protocol.DecodeVLQBytes(args)
	if err != nil {
		return err
	}
	if len(w) > protocol.SPIChunk {
		return fmt.Errorf("spibridge: %d byte xfer", len(w))
	}
	r := s.rx[:len(w)]
	if err := s.spi.Tx(w, r); err != nil {
		return err
	}
	s.Xfers.Add(1)
	return s.tr.Send(protocol.RespSPIXfer, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(out, r)
	})
}

func (s *Server) setPin(args *[]byte) error {
	pin, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	v, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if pin >= uint32(protocol.NumPins) {
		return fmt.Errorf("spibridge: no pin %d", pin)
	}
	s.pins[pin](v != 0)
	return nil
}

func (s *Server) eintConfig(args *[]byte) error {
	v, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if s.irq == nil {
		return nil
	}
	if v != 0 {
		s.irq.Enable()
	} else {
		s.irq.Disable()
	}
	return nil
}

// Receive feeds bytes from the host and sends any interrupt report that
// became due.
func (s *Server) Receive(data []byte) {
	s.tr.Receive(data)
	s.Poll()
}

// Poll reports a pending interrupt to the host. Firmware main loops call
// it between reads.
func (s *Server) Poll() {
	if s.fired.Swap(false) {
		if err := s.tr.Send(protocol.RespEintFired, nil); err != nil {
			s.log.Warn("spibridge: eint report lost", slog.Any("err", err))
		}
	}
}

// Serve reads from r until it fails or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	type chunk struct {
		b   []byte
		err error
	}
	in := make(chan chunk)
	go func() {
		for {
			buf := make([]byte, 128)
			n, err := r.Read(buf)
			select {
			case in <- chunk{buf[:n], err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	for {
		select {
		case c := <-in:
			if len(c.b) > 0 {
				s.Receive(c.b)
			}
			if c.err != nil {
				return c.err
			}
		case <-s.wake:
			s.Poll()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
