// Package session brings up a driver against either the simulator or
// a bridge on a serial port, and runs its processing loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"mrf24w/config"
	"mrf24w/core"
	"mrf24w/host/bridge"
	"mrf24w/host/serial"
	"mrf24w/sim"
	"mrf24w/trace"
)

// Session owns a driver and whatever sits under it.
type Session struct {
	Driver *core.Driver
	Bridge *bridge.Client  // nil when simulated
	Sim    *sim.Device     // nil on hardware
	Trace  *trace.Recorder // nil without a trace database

	log    *slog.Logger
	events chan core.Event

	mu      sync.Mutex
	onFrame func([]byte)
}

// Options tunes Open beyond the tool config.
type Options struct {
	Logger *slog.Logger
	// Sim overrides the simulator's defaults.
	Sim sim.Options
}

// Open connects to the device described by cfg and initialises it.
func Open(cfg *config.Config, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Session{log: log, events: make(chan core.Event, 16)}

	dcfg := cfg.Core()
	dcfg.Logger = log
	dcfg.OnEvent = s.event

	var (
		spi drivers.SPI
		irq core.Interrupts
	)
	if cfg.Sim {
		if opts.Sim.Logger == nil {
			opts.Sim.Logger = log.With(slog.String("dev", "sim"))
		}
		s.Sim = sim.New(opts.Sim)
		spi, irq = s.Sim, s.Sim.IRQ()
		dcfg.ChipSelect, dcfg.Hibernate, dcfg.Reset = s.Sim.ChipSelect, s.Sim.Hibernate, s.Sim.Reset
	} else {
		port, err := serial.OpenLink(cfg.Device, cfg.Baud)
		if err != nil {
			return nil, err
		}
		c, err := bridge.Dial(port, log)
		if err != nil {
			return nil, err
		}
		s.Bridge = c
		spi, irq = c, c.IRQ()
		dcfg.ChipSelect, dcfg.Hibernate, dcfg.Reset = c.ChipSelect, c.Hibernate, c.Reset
	}

	if cfg.TraceDB != "" {
		rec, err := trace.Open(cfg.TraceDB, log)
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.Trace = rec
		dcfg.Tracer = rec
	}

	s.Driver = core.New(spi, irq, dcfg)
	if err := s.Driver.Init(); err != nil {
		return nil, errors.Join(fmt.Errorf("session: init: %w", err), s.Close())
	}
	return s, nil
}

// event runs after the driver lock is released but may be inside one
// of its waits, so it only queues.
func (s *Session) event(ev core.Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("session: event dropped", slog.String("event", ev.Subtype.String()))
	}
}

// Events delivers indicate messages seen by the processing loop.
func (s *Session) Events() <-chan core.Event { return s.events }

// OnFrame sets the receiver for data frames. Without one, frames are
// read and dropped so the FIFO keeps moving.
func (s *Session) OnFrame(fn func([]byte)) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// ApplyPowerSave requests the configured power-save mode.
func (s *Session) ApplyPowerSave(mode string) error {
	switch mode {
	case config.PowerSaveOff:
		return s.Driver.PsPollDisable()
	case config.PowerSaveDTIM:
		return s.Driver.PsPollEnable(true)
	case config.PowerSaveNoDTIM:
		return s.Driver.PsPollEnable(false)
	}
	return fmt.Errorf("%w: power save %q", config.ErrInvalid, mode)
}

// Step runs one processing step and drains a received frame.
func (s *Session) Step() error {
	if err := s.Driver.Process(); err != nil {
		return err
	}
	if !s.Driver.DataPending() {
		return nil
	}
	buf := make([]byte, core.FifoBcntMask)
	n, err := s.Driver.ReceiveDataFrame(buf)
	if errors.Is(err, core.ErrNoPacket) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	fn := s.onFrame
	s.mu.Unlock()
	if fn != nil {
		fn(buf[:n])
	} else {
		s.log.Debug("session: frame dropped", slog.Int("len", n))
	}
	return nil
}

// Run steps the driver every interval until ctx is done. A latched
// fault is logged once; the loop keeps going so a Reset can recover.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	var last error
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		err := s.Step()
		if err != nil && (last == nil || err.Error() != last.Error()) {
			s.log.Error("session: processing failed", slog.Any("err", err))
		}
		last = err
	}
}

// Close releases the driver, bridge and trace database.
func (s *Session) Close() error {
	var errs []error
	if s.Driver != nil {
		errs = append(errs, s.Driver.Close())
	}
	if s.Bridge != nil {
		errs = append(errs, s.Bridge.Close())
	}
	if s.Trace != nil {
		errs = append(errs, s.Trace.Close())
	}
	return errors.Join(errs...)
}
