package core

import (
	"fmt"
	"log/slog"
)

// PowerSaveState is the co-processor's power mode.
type PowerSaveState uint8

const (
	PSHibernate        PowerSaveState = 1
	PSPollDTIMEnabled  PowerSaveState = 2
	PSPollDTIMDisabled PowerSaveState = 3
	PSOff              PowerSaveState = 4
)

func (s PowerSaveState) String() string {
	switch s {
	case PSHibernate:
		return "hibernate"
	case PSPollDTIMEnabled:
		return "ps_poll_dtim_enabled"
	case PSPollDTIMDisabled:
		return "ps_poll_dtim_disabled"
	case PSOff:
		return "off"
	}
	return "invalid"
}

func (s PowerSaveState) psPoll() bool {
	return s == PSPollDTIMEnabled || s == PSPollDTIMDisabled
}

// powerSave separates what the application asked for (appWants) from
// what the driver has actually done to the hardware (active) and what
// it owes the hardware after a forced wake (sleepNeeded).
type powerSave struct {
	state       PowerSaveState
	active      bool
	appWants    bool
	sleepNeeded bool
	rxDtim      bool

	linkChanged    bool
	linkUp         bool // from connection events only
	dhcpInProgress bool
	dhcpSucceeded  bool
}

// Power mode request payload
const (
	psModeEnable  = 0
	psModeDisable = 1
)

// lowPowerOn lets the co-processor doze between beacons.
func (d *Driver) lowPowerOn() error {
	d.bus.Write16(RegPSPollH, 0x01)
	d.ps.active = true
	d.debug("low power on")
	return d.bus.Err()
}

// lowPowerOff wakes the co-processor and waits until it reports awake.
func (d *Driver) lowPowerOff() error {
	d.bus.Write16(RegPSPollH, 0x00)
	d.ps.active = false
	dl := newDeadline(d.clock, d.cfg.WakeTimeout)
	for d.bus.ReadIndexed(IdxLowPowerStatus)&LowPowerAsleepMask != 0 {
		if err := d.bus.Err(); err != nil {
			return err
		}
		if dl.expired() {
			return d.latch(fmt.Errorf("%w: still in low power", ErrDeviceUnresponsive))
		}
	}
	d.debug("low power off")
	return d.bus.Err()
}

// ensureAwake wakes the device if the driver put it to sleep, and
// remembers to put it back afterwards.
func (d *Driver) ensureAwake() error {
	if !d.ps.state.psPoll() || !d.ps.active {
		return nil
	}
	if err := d.lowPowerOff(); err != nil {
		return err
	}
	d.ps.sleepNeeded = true
	return nil
}

func (d *Driver) sendPowerMode(enable, rxDtim bool) error {
	req := [4]byte{psModeDisable, 1, 1, 0}
	if enable {
		req = [4]byte{psModeEnable, 0, 0, 0}
		if rxDtim {
			req[2] = 1
		}
	}
	_, err := d.transact(Request{
		Header:  []byte{TypeMgmtRequest, byte(SubtypeSetPowerMode)},
		Payload: req[:],
		Expect:  SubtypeSetPowerMode,
	})
	return err
}

func (d *Driver) psPollEnable(rxDtim bool) error {
	d.ps.rxDtim = rxDtim
	if !d.ps.linkUp {
		d.ps.appWants = true
		d.info("ps-poll deferred until connected", slog.Bool("rxDtim", rxDtim))
		return nil
	}
	if err := d.sendPowerMode(true, rxDtim); err != nil {
		return err
	}
	if rxDtim {
		d.ps.state = PSPollDTIMEnabled
	} else {
		d.ps.state = PSPollDTIMDisabled
	}
	if err := d.lowPowerOn(); err != nil {
		return err
	}
	d.ps.appWants = true
	d.ps.sleepNeeded = false
	d.ps.linkChanged = false
	return nil
}

func (d *Driver) psPollDisable() error {
	if err := d.sendPowerMode(false, false); err != nil {
		return err
	}
	d.ps.state = PSOff
	if err := d.lowPowerOff(); err != nil {
		return err
	}
	d.ps.appWants = false
	d.ps.sleepNeeded = false
	d.ps.linkChanged = false
	return nil
}

// PsPollEnable enters PS-Poll, waking for DTIM beacons when rxDtim is
// set. While disconnected the request is remembered and applied once
// the connection comes up.
func (d *Driver) PsPollEnable(rxDtim bool) error {
	return d.do(func() error { return d.psPollEnable(rxDtim) })
}

// PsPollDisable leaves PS-Poll and keeps the device awake.
func (d *Driver) PsPollDisable() error {
	return d.do(d.psPollDisable)
}

// EnsureAwake wakes the device when the driver has it in low power.
func (d *Driver) EnsureAwake() error {
	return d.locked(d.ensureAwake)
}

// PowerSaveState returns the current power mode.
func (d *Driver) PowerSaveState() PowerSaveState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ps.state
}

// SetDHCPInProgress holds off re-sleeping while an address is acquired.
func (d *Driver) SetDHCPInProgress(inProgress bool) {
	d.mu.Lock()
	d.ps.dhcpInProgress = inProgress
	d.mu.Unlock()
}

// DHCPSucceeded lets the power-save task put the device to sleep.
func (d *Driver) DHCPSucceeded() {
	d.mu.Lock()
	d.ps.dhcpInProgress = false
	d.ps.dhcpSucceeded = true
	d.mu.Unlock()
}

// setLink records an association change reported by the co-processor
// and tells the power-save task about it.
func (d *Driver) setLink(up bool) {
	if d.ps.linkUp == up {
		return
	}
	d.ps.linkUp = up
	d.ps.linkChanged = true
}

// powerSaveTask puts the device back to sleep after driver activity and
// applies deferred PS-Poll requests. It never runs inside a management
// wait.
func (d *Driver) powerSaveTask() error {
	if d.txn != TxnIdle || !d.ps.appWants {
		return nil
	}
	switch {
	case d.ps.linkChanged:
		d.ps.linkChanged = false
		if d.ps.linkUp {
			d.info("connected, applying ps-poll")
			return d.psPollEnable(d.ps.rxDtim)
		}
		// The co-processor wakes itself when the link drops.
		d.ps.active = false
		d.ps.sleepNeeded = false
		d.ps.state = PSOff
	case d.ps.dhcpSucceeded:
		d.ps.dhcpSucceeded = false
		if d.ps.state.psPoll() && !d.ps.active {
			d.ps.sleepNeeded = false
			return d.lowPowerOn()
		}
	case d.ps.linkUp && d.ps.sleepNeeded && !d.ps.dhcpInProgress:
		d.ps.sleepNeeded = false
		return d.lowPowerOn()
	}
	return nil
}
