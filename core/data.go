package core

import (
	"fmt"
	"log/slog"
)

// sendDataFrame mounts a data buffer, writes the preamble and payload
// and hands it to the MAC.
func (d *Driver) sendDataFrame(payload []byte) error {
	n := DataPreambleSize + len(payload)
	if n > int(FifoBcntMask) {
		return fmt.Errorf("%w: %d byte frame", ErrNoTxSpace, len(payload))
	}
	if w := d.windows[WindowTX]; w.State == DataMounted || w.State == MgmtMounted {
		return fmt.Errorf("%w: tx window holds %s", ErrNoTxSpace, w.State)
	}
	ok, err := d.allocateDataTx(uint16(n))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoTxSpace
	}
	preamble := [DataPreambleSize]byte{TypeDataRequest, StdDataMsgSubtype, 1, 0}
	if err := d.writeWindow(WindowTX, 0, preamble[:]); err != nil {
		return err
	}
	if err := d.writeWindow(WindowTX, DataPreambleSize, payload); err != nil {
		return err
	}
	return d.sendTx(uint16(n))
}

// receiveDataFrame mounts the pending data frame, copies its body past
// the RX preamble into dst and frees it.
func (d *Driver) receiveDataFrame(dst []byte) (int, error) {
	// Management messages mount ahead of data; take them first.
	for d.mgmtMsgReady && d.txn != TxnConfirmed {
		if err := d.receiveMgmt(); err != nil {
			return 0, err
		}
	}
	if !d.dataReceived {
		return 0, ErrNoPacket
	}
	if d.txn == TxnConfirmed {
		// The RX window holds a confirm nobody has collected yet.
		return 0, ErrTransactionPending
	}
	if err := d.ensureAwake(); err != nil {
		return 0, err
	}
	size, err := d.mountRx(DataMounted)
	if err != nil {
		return 0, err
	}
	var n int
	if size > DataPreambleSize {
		n = min(int(size)-DataPreambleSize, len(dst))
		if err := d.readWindow(WindowRX, DataPreambleSize, dst[:n]); err != nil {
			return 0, err
		}
	}
	if err := d.deallocateDataRx(); err != nil {
		return 0, err
	}
	d.debug("data frame received", slog.Uint64("size", uint64(size)))
	return n, nil
}

// frameTaken clears the data flag once the pending frame is mounted and
// lets the interrupt line run again.
func (d *Driver) frameTaken() {
	d.dataReceived = false
	if d.hostIntSaved != 0 {
		d.needsService = true
	}
	d.irq.Enable()
}

// SendDataFrame sends one data frame. ErrNoTxSpace means the data pool
// is full or the TX window is busy; try again after Process.
func (d *Driver) SendDataFrame(payload []byte) error {
	return d.do(func() error { return d.sendDataFrame(payload) })
}

// ReceiveDataFrame copies the next received frame into dst and returns
// its length, truncated to len(dst). ErrNoPacket means none is pending.
func (d *Driver) ReceiveDataFrame(dst []byte) (n int, err error) {
	err = d.do(func() error {
		n, err = d.receiveDataFrame(dst)
		return err
	})
	return n, err
}
