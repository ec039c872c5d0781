package core

import (
	"fmt"
	"log/slog"
)

// serviceRawInterrupt is the interrupt body while a RAW move is in
// flight. Completion bits are recorded; mailbox bits are acknowledged
// once and saved for the process step.
func (d *Driver) serviceRawInterrupt() {
	intr := d.bus.Read8(RegHostIntr)
	mask := d.bus.Read8(RegHostMask)
	active := intr & mask
	raw := active & IntRawAny
	others := active &^ IntRawAny
	fresh := others &^ d.hostIntSaved
	d.rawDone |= raw
	d.hostIntSaved |= fresh
	if ack := raw | fresh; ack != 0 {
		d.bus.Write8(RegHostIntr, ack)
	}
	// Leave the line masked when mailbox work is waiting; the process
	// step re-enables it.
	if raw == 0 || others == 0 {
		d.irq.Enable()
	}
	if others != 0 {
		d.needsService = true
	}
}

// serviceInterrupt turns a pending interrupt into work for the process
// step. One source is handled per call; bits already acknowledged by
// serviceRawInterrupt are not acknowledged twice.
func (d *Driver) serviceInterrupt() error {
	d.needsService = false
	intr := d.bus.Read8(RegHostIntr)
	mask := d.bus.Read8(RegHostMask)
	if err := d.bus.Err(); err != nil {
		return err
	}
	saved := d.hostIntSaved
	active := (intr | saved) & mask &^ IntRawAny

	var bit uint8
	switch {
	case active&IntINT2 != 0:
		intr2 := d.bus.Read16(RegHostIntr2)
		return d.latch(fmt.Errorf("%w: intr2=0x%04x", ErrDeviceFault, intr2))
	case active&IntFifo1 != 0:
		bit = IntFifo1
		d.mgmtMsgReady = true
	case active&IntFifo0 != 0:
		if d.dataReceived {
			// The line stays masked until the pending frame is taken.
			return nil
		}
		bit = IntFifo0
		d.dataReceived = true
	case active != 0:
		d.debug("unexpected interrupt", slog.Any("bits", hex8(active)))
		d.bus.Write8(RegHostIntr, active&^saved)
		d.hostIntSaved = 0
		d.irq.Enable()
		return d.bus.Err()
	default:
		d.irq.Enable()
		return d.bus.Err()
	}
	if saved&bit == 0 {
		d.bus.Write8(RegHostIntr, bit)
	}
	d.hostIntSaved = saved &^ bit
	rest := active &^ bit
	if d.dataReceived {
		rest &^= IntFifo0
	}
	d.needsService = rest != 0
	return d.bus.Err()
}

// process is one cooperative step of the receive path. It runs from
// every blocking wait as well as from Process.
func (d *Driver) process() error {
	select {
	case <-d.irqc:
		d.needsService = true
	default:
	}
	var err error
	switch {
	case d.needsService && !d.mgmtMsgReady:
		err = d.serviceInterrupt()
	case d.mgmtMsgReady && d.txn != TxnConfirmed:
		// A held confirm owns the RX window until it is freed.
		err = d.receiveMgmt()
	}
	if err != nil {
		return err
	}
	if err := d.macProcess(); err != nil {
		return err
	}
	if d.cfg.OnProcess != nil {
		d.cfg.OnProcess()
	}
	return nil
}

// macProcess breaks the deadlock of a management send waiting on a TX
// window that holds an unsent data frame.
func (d *Driver) macProcess() error {
	if !d.appWaiting {
		return nil
	}
	if d.windows[WindowTX].State == DataMounted {
		d.warn("dropping unsent data frame for management request")
		return d.deallocateDataTx()
	}
	d.appWaiting = false
	return nil
}

// receiveMgmt mounts the management message the co-processor signalled
// and dispatches it by type.
func (d *Driver) receiveMgmt() error {
	d.mgmtMsgReady = false
	if err := d.ensureAwake(); err != nil {
		return err
	}
	pushed := false
	if d.windows[WindowRX].State == DataMounted {
		if err := d.pushWindow(WindowRX); err != nil {
			return err
		}
		pushed = true
	}
	n, err := d.mountRx(MgmtMounted)
	if err != nil {
		return err
	}
	if n < 2 {
		d.warn("empty management message", slog.Uint64("len", uint64(n)))
		return d.finishMgmtRx(pushed)
	}

	var hdr [2]byte
	if err := d.readWindow(WindowRX, 0, hdr[:]); err != nil {
		return err
	}
	switch hdr[0] {
	case TypeMgmtConfirm:
		if d.txn == TxnAwaiting {
			d.txn = TxnConfirmed
			if pushed {
				d.restoreRx = true
			}
			d.irq.Enable()
			return nil
		}
		d.warn("unsolicited management confirm", slog.Uint64("subtype", uint64(hdr[1])))
	case TypeMgmtIndicate:
		data := make([]byte, min(int(n)-2, 64))
		if err := d.readWindow(WindowRX, 2, data); err != nil {
			return err
		}
		d.handleEvent(Event{Subtype: EventSubtype(hdr[1]), Data: data})
	default:
		d.warn("unknown management message type", slog.Uint64("type", uint64(hdr[0])))
	}
	return d.finishMgmtRx(pushed)
}

// finishMgmtRx frees a management message that no transaction owns.
func (d *Driver) finishMgmtRx(pushed bool) error {
	if err := d.deallocateMgmtRx(); err != nil {
		return err
	}
	if pushed {
		if _, err := d.popWindow(WindowRX); err != nil {
			return err
		}
	}
	d.irq.Enable()
	return nil
}

// handleEvent applies connection events to driver state and queues the
// event for OnEvent.
func (d *Driver) handleEvent(ev Event) {
	var status byte
	if len(ev.Data) > 0 {
		status = ev.Data[0]
	}
	switch ev.Subtype {
	case EventConnectionAttemptStatus:
		if status == ConnAttemptSuccessful {
			d.setLink(true)
			d.setConnected(true)
		} else {
			d.setConnected(false)
		}
	case EventConnectionLost:
		switch status {
		case ConnTemporarilyLost:
			// Still reconnecting; the logical flag stays up.
			d.setLink(false)
		case ConnPermanentlyLost:
			d.setConnected(false)
			d.setLink(false)
		case ConnReestablished:
			d.setLink(true)
			d.setConnected(true)
		}
	case EventConnectionReestablished:
		d.setLink(true)
		d.setConnected(true)
	}
	d.info("event", slog.String("subtype", ev.Subtype.String()), slog.Int("status", int(status)))
	d.events = append(d.events, ev)
}

// Process runs one step of the receive path and the power-save task.
// Call it from the application's main loop.
func (d *Driver) Process() error {
	return d.do(func() error {
		if err := d.process(); err != nil {
			return err
		}
		return d.powerSaveTask()
	})
}

// DataPending reports whether a received data frame is waiting.
func (d *Driver) DataPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataReceived
}
