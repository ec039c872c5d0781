// Package core is the host side driver for the MRF24W WiFi co-processor:
// the RAW window manager, the management message channel, power-save
// coordination and the connection manager, on top of a register access
// layer over SPI.
package core

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"
)

// Config holds driver collaborators and timeouts. Zero durations take
// their defaults.
type Config struct {
	Logger *slog.Logger
	Clock  Clock

	ChipSelect OutputPin // active low
	Hibernate  OutputPin // CE_N, high = hibernate
	Reset      OutputPin // active low

	RawMoveTimeout   time.Duration
	RawMoveRetries   int
	AutoReset        bool
	MgmtReadyTimeout time.Duration
	MgmtTimeout      time.Duration
	IndexTimeout     time.Duration
	WakeTimeout      time.Duration
	ResetTimeout     time.Duration
	PollInterval     time.Duration

	// OnEvent receives indicate messages in arrival order, one at a time.
	// It runs after the driver lock is released. Driver calls made from
	// inside it return ErrReentrantSend; other goroutines are unaffected.
	OnEvent func(Event)

	// OnProcess runs on every processing step, including inside the
	// driver's blocking waits.
	OnProcess func()

	Tracer TransactionTracer
}

// DefaultConfig returns the stock timeouts.
func DefaultConfig() Config {
	return Config{
		RawMoveTimeout:   500 * time.Millisecond,
		RawMoveRetries:   2,
		MgmtReadyTimeout: 5 * time.Millisecond,
		MgmtTimeout:      3 * time.Second,
		IndexTimeout:     5 * time.Millisecond,
		WakeTimeout:      100 * time.Millisecond,
		ResetTimeout:     time.Second,
		PollInterval:     time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = NewSystemClock()
	}
	if c.RawMoveTimeout == 0 {
		c.RawMoveTimeout = def.RawMoveTimeout
	}
	if c.RawMoveRetries < 0 {
		c.RawMoveRetries = 0
	}
	if c.MgmtReadyTimeout == 0 {
		c.MgmtReadyTimeout = def.MgmtReadyTimeout
	}
	if c.MgmtTimeout == 0 {
		c.MgmtTimeout = def.MgmtTimeout
	}
	if c.IndexTimeout == 0 {
		c.IndexTimeout = def.IndexTimeout
	}
	if c.WakeTimeout == 0 {
		c.WakeTimeout = def.WakeTimeout
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	for _, p := range []*OutputPin{&c.ChipSelect, &c.Hibernate, &c.Reset} {
		if *p == nil {
			*p = func(bool) {}
		}
	}
}

// Driver owns the RAW windows, the management channel and the power-save
// state of one co-processor. A single mutex guards all of it; the
// interrupt handler only posts to a channel and never takes the lock.
type Driver struct {
	mu    sync.Mutex
	cfg   Config
	bus   *Bus
	irq   Interrupts
	clock Clock
	log   *slog.Logger

	windows [NumWindows]Window
	saved   [NumWindows]*savedWindow
	ring    rawRing

	// interrupt path
	irqc         chan struct{}
	rawDone      uint8
	hostIntSaved uint8
	needsService bool
	mgmtMsgReady bool
	dataReceived bool
	indexBeyond  bool

	// management channel
	txn        TxnState
	txnReq     []byte
	txnStart   time.Time
	restoreRx  bool
	appWaiting bool
	events     []Event

	// event delivery
	deliverMu  sync.Mutex
	dispatcher atomic.Uint64 // goroutine running OnEvent, 0 when idle

	ps        powerSave
	connected bool

	initialized bool
	hibernating bool
	resetting   bool
	fault       error
}

// New returns a driver for the co-processor on spi, interrupting on irq.
// Call Init before use.
func New(spi drivers.SPI, irq Interrupts, cfg Config) *Driver {
	cfg.applyDefaults()
	d := &Driver{
		cfg:   cfg,
		bus:   NewBus(spi, cfg.ChipSelect),
		irq:   irq,
		clock: cfg.Clock,
		log:   cfg.Logger,
		irqc:  make(chan struct{}, 1),
	}
	d.resetState()
	return d
}

// Bus exposes the register access layer.
func (d *Driver) Bus() *Bus { return d.bus }

func (d *Driver) resetState() {
	for i := range d.windows {
		d.windows[i] = Window{ID: WindowID(i)}
		d.saved[i] = nil
	}
	d.rawDone, d.hostIntSaved = 0, 0
	d.needsService, d.mgmtMsgReady, d.dataReceived, d.indexBeyond = false, false, false, false
	d.txn, d.txnReq, d.restoreRx, d.appWaiting = TxnIdle, nil, false, false
	d.ps = powerSave{state: PSOff}
	d.connected = false
	select {
	case <-d.irqc:
	default:
	}
}

// Interrupt is the external interrupt service routine. It is attached to
// the Interrupts line by Init and may run on any goroutine.
func (d *Driver) Interrupt() {
	d.irq.Disable()
	select {
	case d.irqc <- struct{}{}:
	default:
	}
}

// Init resets the chip and brings the host interface up. It may be
// called again to recover from hibernate or a latched fault.
func (d *Driver) Init() error {
	if d.inHandler() {
		return ErrReentrantSend
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.init()
}

// Reset clears a latched fault and re-initializes the device.
func (d *Driver) Reset() error {
	return d.Init()
}

func (d *Driver) init() error {
	d.resetting = true
	defer func() { d.resetting = false }()

	d.irq.Disable()
	d.bus.ClearErr()
	d.resetState()
	d.fault = nil
	d.hibernating = false
	d.initialized = false
	d.ring.clear()

	if err := d.chipReset(); err != nil {
		return d.latch(fmt.Errorf("chip reset: %w", err))
	}
	d.setupInterrupts()
	if err := d.lowPowerOff(); err != nil {
		return d.latch(fmt.Errorf("wake after reset: %w", err))
	}
	d.irq.Attach(d.Interrupt)
	d.irq.Enable()
	if err := d.rawInit(); err != nil {
		return d.latch(fmt.Errorf("raw init: %w", err))
	}
	d.initialized = true
	d.info("mrf24w initialized", slog.Uint64("scratch", uint64(d.windows[WindowRX].Size)))
	return nil
}

// chipReset pulses the host reset bit and waits for the firmware.
func (d *Driver) chipReset() error {
	d.cfg.Hibernate(false)
	d.cfg.Reset(true)
	d.bus.Write16(RegPSPollH, 0)

	v := d.bus.Read16(RegHostReset)
	d.bus.Write16(RegHostReset, v|HostResetMask)
	v = d.bus.Read16(RegHostReset)
	d.bus.Write16(RegHostReset, v&^HostResetMask)

	dl := newDeadline(d.clock, d.cfg.ResetTimeout)
	for {
		st := d.bus.ReadIndexed(IdxHWStatus)
		if err := d.bus.Err(); err != nil {
			return err
		}
		if st == 0xffff {
			return ErrNoSPI
		}
		if st&HWStatusNotInReset != 0 {
			break
		}
		if dl.expired() {
			return fmt.Errorf("%w: still in reset", ErrDeviceUnresponsive)
		}
		d.sleep()
	}

	dl.restart()
	for d.bus.Read16(RegWFifoBcnt0)&FifoBcntMask == 0 {
		if err := d.bus.Err(); err != nil {
			return err
		}
		if dl.expired() {
			return fmt.Errorf("%w: data pool never came up", ErrDeviceUnresponsive)
		}
		d.sleep()
	}
	return d.bus.Err()
}

// setupInterrupts masks everything and then enables the mailbox and
// RAW completion interrupts.
func (d *Driver) setupInterrupts() {
	d.bus.Write16(RegHostIntr2Mask, 0)
	d.bus.Write16(RegHostIntr2, 0xffff)
	d.bus.Write8(RegHostMask, 0)
	d.bus.Write8(RegHostIntr, 0xff)

	mask := d.bus.Read8(RegHostMask)
	d.bus.Write8(RegHostMask, mask|IntEnabledSet)
	d.bus.Write8(RegHostIntr, IntEnabledSet)
}

// Hibernate asserts CE_N. The co-processor loses all state; Init is
// required before the next operation.
func (d *Driver) Hibernate() error {
	if d.inHandler() {
		return ErrReentrantSend
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irq.Disable()
	d.cfg.Hibernate(true)
	d.hibernating = true
	d.initialized = false
	d.ps.state = PSHibernate
	d.ps.active = false
	d.ps.linkUp = false
	d.connected = false
	d.info("hibernate")
	return nil
}

// usable returns why the driver cannot run an operation, if anything.
func (d *Driver) usable() error {
	switch {
	case d.hibernating:
		return ErrHibernating
	case d.fault != nil:
		return d.fault
	case !d.initialized && !d.resetting:
		return ErrNotInitialized
	}
	return nil
}

// latch records a fatal error. Operations fail with it until Init.
func (d *Driver) latch(err error) error {
	if d.fault == nil {
		d.fault = err
		d.logerr("driver fault", slog.String("err", err.Error()))
	}
	return err
}

// do runs fn under the driver lock and delivers any events it queued
// after the lock is released.
func (d *Driver) do(fn func() error) error {
	if d.inHandler() {
		return ErrReentrantSend
	}
	d.mu.Lock()
	err := d.usable()
	if err == nil {
		err = fn()
	}
	if d.cfg.OnEvent == nil {
		d.events = nil
	}
	pending := len(d.events) > 0
	d.mu.Unlock()
	if pending {
		d.deliver()
	}
	return err
}

// deliver drains the event queue. Only one goroutine delivers at a time,
// so events reach OnEvent in order.
func (d *Driver) deliver() {
	if d.cfg.OnEvent == nil {
		return
	}
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	d.dispatcher.Store(goid())
	defer d.dispatcher.Store(0)
	for {
		d.mu.Lock()
		if len(d.events) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.events[0]
		d.events = d.events[1:]
		d.mu.Unlock()
		d.cfg.OnEvent(ev)
	}
}

// inHandler reports whether the caller is running inside OnEvent.
func (d *Driver) inHandler() bool {
	id := d.dispatcher.Load()
	return id != 0 && id == goid()
}

// sleep blocks for one poll interval or until the interrupt fires.
func (d *Driver) sleep() {
	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-d.irqc:
		d.needsService = true
	case <-t.C:
	}
}

// Status is a snapshot of driver state.
type Status struct {
	Windows           [NumWindows]Window
	Saved             [NumWindows]bool
	Transaction       TxnState
	PowerSave         PowerSaveState
	PsPollActive      bool
	AppWantsPowerSave bool
	SleepNeeded       bool
	Connected         bool
	LinkUp            bool
	DataPending       bool
	RxIndexBeyond     bool // last RX index set ran past the mounted message
	Initialized       bool
	Hibernating       bool
	Fault             error
	RawHistory        []RawMoveRecord
}

// Status returns a snapshot of the driver state.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Status{
		Windows:           d.windows,
		Transaction:       d.txn,
		PowerSave:         d.ps.state,
		PsPollActive:      d.ps.active,
		AppWantsPowerSave: d.ps.appWants,
		SleepNeeded:       d.ps.sleepNeeded,
		Connected:         d.connected,
		LinkUp:            d.ps.linkUp,
		DataPending:       d.dataReceived,
		RxIndexBeyond:     d.indexBeyond,
		Initialized:       d.initialized,
		Hibernating:       d.hibernating,
		Fault:             d.fault,
		RawHistory:        d.ring.snapshot(),
	}
	for i := range d.saved {
		s.Saved[i] = d.saved[i] != nil
	}
	return s
}

// Close detaches the interrupt handler.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irq.Disable()
	d.irq.Attach(nil)
	d.initialized = false
	return d.bus.Err()
}
