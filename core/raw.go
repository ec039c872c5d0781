package core

import (
	"fmt"
	"log/slog"
	"time"
)

// WindowID selects one of the two RAW windows.
type WindowID uint8

const (
	WindowTX WindowID = 0 // RAW0
	WindowRX WindowID = 1 // RAW1

	NumWindows = 2
)

// Other returns the opposite window.
func (id WindowID) Other() WindowID {
	return id ^ 1
}

func (id WindowID) String() string {
	if id == WindowTX {
		return "tx"
	}
	return "rx"
}

// MountState is what a window is currently bound to.
type MountState uint8

const (
	Unmounted MountState = iota
	ScratchMounted
	DataMounted
	MgmtMounted
)

func (s MountState) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case ScratchMounted:
		return "scratch"
	case DataMounted:
		return "data"
	case MgmtMounted:
		return "mgmt"
	}
	return "invalid"
}

// Window is the host's view of a RAW window.
type Window struct {
	ID    WindowID
	Ready bool
	State MountState
	Size  uint16 // byte count reported by the last mount
}

// savedWindow is the single save slot behind Push/Pop.
type savedWindow struct {
	ready bool
	state MountState
	size  uint16
}

// rawMove is the one primitive behind every mount, unmount, send and
// receive: write the control word, wait for the completion interrupt,
// read back the byte count.
func (d *Driver) rawMove(id WindowID, target MountTarget, dest bool, size uint16) (uint16, error) {
	if d.fault != nil {
		return 0, d.fault
	}
	regs := windowRegs[id]
	rec := RawMoveRecord{Tick: d.clock.Ticks(), Window: id, Target: target, Dest: dest, Size: size}

	d.bus.Write8(RegHostIntr, regs.intBit)
	d.rawDone &^= regs.intBit
	g := holdInterrupts(d.irq)
	d.bus.Write16(regs.ctrl0, RawCtrlWord(target, dest, size))
	err := d.waitRawMove(id)
	g.release()

	var n uint16
	if err == nil {
		n = d.bus.Read16(regs.ctrl1) & FifoBcntMask
		err = d.bus.Err()
	}
	rec.Result = n
	rec.Failed = err != nil
	d.ring.record(rec)
	if err != nil {
		return 0, d.rawFailed(rec, err)
	}
	d.debug("raw move",
		slog.String("window", id.String()),
		slog.String("target", target.String()),
		slog.Bool("dest", dest),
		slog.Uint64("size", uint64(size)),
		slog.Uint64("result", uint64(n)))
	return n, nil
}

// waitRawMove blocks until the window's completion bit has been seen
// by the interrupt service routine. A lost edge is recovered by polling
// the interrupt register directly before giving up.
func (d *Driver) waitRawMove(id WindowID) error {
	bit := windowRegs[id].intBit
	dl := newDeadline(d.clock, d.cfg.RawMoveTimeout)
	retries := 0
	d.irq.Enable()
	for d.rawDone&bit == 0 {
		if d.takeIRQ() {
			d.serviceRawInterrupt()
			continue
		}
		if err := d.bus.Err(); err != nil {
			return err
		}
		if !dl.expired() {
			continue
		}
		if retries >= d.cfg.RawMoveRetries {
			return ErrDeviceUnresponsive
		}
		retries++
		d.warn("raw move completion late, polling", slog.Int("retry", retries))
		if d.bus.Read8(RegHostIntr)&bit != 0 {
			d.serviceRawInterrupt()
		}
		dl.restart()
	}
	d.rawDone &^= bit
	return nil
}

// takeIRQ waits up to one poll interval for the interrupt handler.
func (d *Driver) takeIRQ() bool {
	select {
	case <-d.irqc:
		return true
	default:
	}
	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-d.irqc:
		return true
	case <-t.C:
		return false
	}
}

func (d *Driver) rawFailed(rec RawMoveRecord, err error) error {
	err = fmt.Errorf("%w: %s", err, rec)
	d.dumpRawRing()
	d.latch(err)
	if d.cfg.AutoReset && !d.resetting {
		d.warn("resetting device after raw move failure")
		if rerr := d.init(); rerr != nil {
			return fmt.Errorf("%w (reset: %v)", err, rerr)
		}
	}
	return err
}

func (d *Driver) mgmtTxFree() uint16 {
	return d.bus.Read16(RegWFifoBcnt1) & FifoBcntMask
}

func (d *Driver) dataTxFree() uint16 {
	return d.bus.Read16(RegWFifoBcnt0) & FifoBcntMask
}

// allocateTx mounts n bytes of pool on the TX window. Insufficient
// space is reported as false, not an error.
func (d *Driver) allocateTx(pool MountTarget, state MountState, n uint16) (bool, error) {
	var free uint16
	if pool == TargetMgmt {
		free = d.mgmtTxFree()
	} else {
		free = d.dataTxFree()
	}
	if err := d.bus.Err(); err != nil {
		return false, err
	}
	if free < n {
		d.debug("tx pool short", slog.String("pool", pool.String()),
			slog.Uint64("need", uint64(n)), slog.Uint64("free", uint64(free)))
		return false, nil
	}
	got, err := d.rawMove(WindowTX, pool, true, n)
	if err != nil || got == 0 {
		return false, err
	}
	w := &d.windows[WindowTX]
	w.Ready, w.State, w.Size = true, state, got
	return true, nil
}

func (d *Driver) allocateMgmtTx(n uint16) (bool, error) {
	return d.allocateTx(TargetMgmt, MgmtMounted, n)
}

func (d *Driver) allocateDataTx(n uint16) (bool, error) {
	if err := d.ensureAwake(); err != nil {
		return false, err
	}
	return d.allocateTx(TargetData, DataMounted, n)
}

func (d *Driver) unmount(id WindowID, pool MountTarget) error {
	if _, err := d.rawMove(id, pool, false, 0); err != nil {
		return err
	}
	d.windows[id] = Window{ID: id}
	return nil
}

func (d *Driver) deallocateDataTx() error { return d.unmount(WindowTX, TargetData) }
func (d *Driver) deallocateDataRx() error { return d.unmount(WindowRX, TargetData) }
func (d *Driver) deallocateMgmtRx() error { return d.unmount(WindowRX, TargetMgmt) }

// sendTx hands the first n bytes of the TX window to the MAC.
func (d *Driver) sendTx(n uint16) error {
	if _, err := d.rawMove(WindowTX, TargetMAC, false, n); err != nil {
		return err
	}
	d.windows[WindowTX] = Window{ID: WindowTX}
	return nil
}

// mountRx mounts the oldest received message on the RX window.
func (d *Driver) mountRx(state MountState) (uint16, error) {
	n, err := d.rawMove(WindowRX, TargetMAC, true, 0)
	if err != nil {
		return 0, err
	}
	d.windows[WindowRX] = Window{ID: WindowRX, Ready: true, State: state, Size: n}
	if state == DataMounted && d.dataReceived {
		d.frameTaken()
	}
	return n, nil
}

// pushWindow saves the window's object in its slot. A second push
// overwrites the first.
func (d *Driver) pushWindow(id WindowID) error {
	w := d.windows[id]
	if _, err := d.rawMove(id, TargetStack, false, 0); err != nil {
		return err
	}
	if d.saved[id] != nil {
		d.debug("save slot overwritten", slog.String("window", id.String()))
	}
	d.saved[id] = &savedWindow{ready: w.Ready, state: w.State, size: w.Size}
	d.windows[id] = Window{ID: id}
	return nil
}

// popWindow restores the saved object. Without a saved object it
// returns 0 and leaves the window alone.
func (d *Driver) popWindow(id WindowID) (uint16, error) {
	s := d.saved[id]
	if s == nil {
		return 0, nil
	}
	n, err := d.rawMove(id, TargetStack, true, 0)
	if err != nil {
		return 0, err
	}
	d.saved[id] = nil
	d.windows[id] = Window{ID: id, Ready: s.ready, State: s.state, Size: n}
	return n, nil
}

// scratchMount mounts the scratch pad. When the scratch is already held
// by the other window the move returns 0 and that window is used.
func (d *Driver) scratchMount(id WindowID) (WindowID, uint16, error) {
	n, err := d.rawMove(id, TargetScratch, true, 0)
	if err != nil {
		return id, 0, err
	}
	if n == 0 {
		d.debug("scratch on other window", slog.String("asked", id.String()))
		id = id.Other()
	}
	w := &d.windows[id]
	w.State = ScratchMounted
	if n != 0 {
		w.Size = n
	}
	return id, n, nil
}

func (d *Driver) scratchUnmount(id WindowID) error {
	if _, err := d.rawMove(id, TargetScratch, false, 0); err != nil {
		return err
	}
	w := &d.windows[id]
	w.State = Unmounted
	return nil
}

// rawInit moves the scratch pad off both windows, leaving them free.
func (d *Driver) rawInit() error {
	if err := d.scratchUnmount(WindowTX); err != nil {
		return err
	}
	id, n, err := d.scratchMount(WindowRX)
	if err != nil {
		return err
	}
	if err := d.scratchUnmount(id); err != nil {
		return err
	}
	for i := range d.windows {
		d.windows[i] = Window{ID: WindowID(i)}
	}
	d.windows[WindowRX].Size = n
	return nil
}

// setIndex moves the window cursor. An index past the mounted region
// leaves the status busy; that is reported as false after IndexTimeout.
func (d *Driver) setIndex(id WindowID, index uint16) (bool, error) {
	regs := windowRegs[id]
	d.bus.Write16(regs.index, index)
	dl := newDeadline(d.clock, d.cfg.IndexTimeout)
	for {
		st := d.bus.Read16(regs.status)
		if err := d.bus.Err(); err != nil {
			return false, err
		}
		if st&RawStatusBusyMask == 0 {
			if id == WindowRX {
				d.indexBeyond = false
			}
			return true, nil
		}
		if dl.expired() {
			if id == WindowRX {
				d.indexBeyond = true
			}
			d.debug("index beyond window", slog.String("window", id.String()), slog.Uint64("index", uint64(index)))
			return false, nil
		}
	}
}

func (d *Driver) getIndex(id WindowID) (uint16, error) {
	v := d.bus.Read16(windowRegs[id].index)
	return v, d.bus.Err()
}

// readWindow copies len(dst) bytes from start. The range is not checked
// against the mounted size; an unreachable index leaves dst zeroed.
func (d *Driver) readWindow(id WindowID, start uint16, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	ok, err := d.setIndex(id, start)
	if err != nil {
		return err
	}
	if !ok {
		clear(dst)
		return nil
	}
	d.bus.ReadArray(windowRegs[id].data, dst)
	return d.bus.Err()
}

func (d *Driver) writeWindow(id WindowID, start uint16, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	ok, err := d.setIndex(id, start)
	if err != nil || !ok {
		return err
	}
	d.bus.WriteArray(windowRegs[id].data, src)
	return d.bus.Err()
}

// rawCopy copies n bytes from the other window into dest.
func (d *Driver) rawCopy(dest WindowID, n uint16) (uint16, error) {
	return d.rawMove(dest, TargetCopy, true, n)
}

// Window returns the host view of a RAW window.
func (d *Driver) Window(id WindowID) Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.windows[id]
}

// locked runs a RAW window operation under the driver lock.
func (d *Driver) locked(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usable(); err != nil {
		return err
	}
	return fn()
}

// AllocateMgmtTx mounts n bytes of the management pool on the TX window.
// It returns false without error when the pool is short.
func (d *Driver) AllocateMgmtTx(n uint16) (ok bool, err error) {
	err = d.locked(func() error {
		ok, err = d.allocateMgmtTx(n)
		return err
	})
	return ok, err
}

// AllocateDataTx mounts n bytes of the data pool on the TX window,
// waking the device first.
func (d *Driver) AllocateDataTx(n uint16) (ok bool, err error) {
	err = d.locked(func() error {
		ok, err = d.allocateDataTx(n)
		return err
	})
	return ok, err
}

// DeallocateDataTx returns the TX window's data buffer to its pool.
func (d *Driver) DeallocateDataTx() error {
	return d.locked(d.deallocateDataTx)
}

// DeallocateDataRx frees the mounted RX data buffer.
func (d *Driver) DeallocateDataRx() error {
	return d.locked(d.deallocateDataRx)
}

// DeallocateMgmtRx frees the mounted RX management buffer.
func (d *Driver) DeallocateMgmtRx() error {
	return d.locked(d.deallocateMgmtRx)
}

// SendTx sends the first n bytes of the TX window and unmounts it.
func (d *Driver) SendTx(n uint16) error {
	return d.locked(func() error { return d.sendTx(n) })
}

// MountRx mounts the next received data message and returns its length.
func (d *Driver) MountRx() (n uint16, err error) {
	err = d.locked(func() error {
		n, err = d.mountRx(DataMounted)
		return err
	})
	return n, err
}

// PushWindow saves whatever is mounted on id.
func (d *Driver) PushWindow(id WindowID) error {
	return d.locked(func() error { return d.pushWindow(id) })
}

// PopWindow restores the object saved by PushWindow and returns its
// byte count. With nothing saved it returns 0.
func (d *Driver) PopWindow(id WindowID) (n uint16, err error) {
	err = d.locked(func() error {
		n, err = d.popWindow(id)
		return err
	})
	return n, err
}

// ScratchMount mounts the scratch pad on id, or reports the other
// window when the scratch was already held there.
func (d *Driver) ScratchMount(id WindowID) (got WindowID, n uint16, err error) {
	err = d.locked(func() error {
		got, n, err = d.scratchMount(id)
		return err
	})
	return got, n, err
}

// ScratchUnmount releases the scratch pad from id.
func (d *Driver) ScratchUnmount(id WindowID) error {
	return d.locked(func() error { return d.scratchUnmount(id) })
}

// SetIndex positions the window cursor. False means the index lies past
// the mounted region.
func (d *Driver) SetIndex(id WindowID, index uint16) (ok bool, err error) {
	err = d.locked(func() error {
		ok, err = d.setIndex(id, index)
		return err
	})
	return ok, err
}

// GetIndex reads the window cursor.
func (d *Driver) GetIndex(id WindowID) (index uint16, err error) {
	err = d.locked(func() error {
		index, err = d.getIndex(id)
		return err
	})
	return index, err
}

// Read copies len(dst) bytes from the window starting at start.
func (d *Driver) Read(id WindowID, start uint16, dst []byte) error {
	return d.locked(func() error { return d.readWindow(id, start, dst) })
}

// Write copies src into the window starting at start.
func (d *Driver) Write(id WindowID, start uint16, src []byte) error {
	return d.locked(func() error { return d.writeWindow(id, start, src) })
}

// RawToRawCopy copies n bytes from the other window into dest.
func (d *Driver) RawToRawCopy(dest WindowID, n uint16) (got uint16, err error) {
	err = d.locked(func() error {
		got, err = d.rawCopy(dest, n)
		return err
	})
	return got, err
}
