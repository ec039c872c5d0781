package core

import (
	"fmt"
	"log/slog"
	"time"
)

// TxnState is the lifecycle of the single management transaction.
type TxnState uint8

const (
	TxnIdle      TxnState = iota // no request outstanding
	TxnAwaiting                  // request sent, confirm not yet mounted
	TxnConfirmed                 // confirm mounted on the RX window
)

func (s TxnState) String() string {
	switch s {
	case TxnIdle:
		return "idle"
	case TxnAwaiting:
		return "awaiting"
	case TxnConfirmed:
		return "confirmed"
	}
	return "invalid"
}

// FreePolicy says who releases the RX management buffer.
type FreePolicy uint8

const (
	FreeImmediately  FreePolicy = iota // validate header and free
	CallerReadsFirst                   // leave mounted for ReadMgmtResponse
)

// Transaction describes a finished management exchange.
type Transaction struct {
	Subtype  MgmtSubtype
	Request  []byte
	Result   ResultCode
	MACState uint8
	Start    time.Time
	Duration time.Duration
	Err      error
}

// TransactionTracer records finished management transactions.
type TransactionTracer interface {
	RecordTransaction(Transaction)
}

// Request is a complete management exchange for Transact.
type Request struct {
	Header  []byte
	Payload []byte
	Expect  MgmtSubtype

	// ReadOffset/Read copy response bytes before the buffer is freed.
	ReadOffset uint16
	Read       []byte
}

// sendMgmt mounts a management buffer, writes the request and hands it
// to the co-processor.
func (d *Driver) sendMgmt(header, payload []byte) error {
	if d.txn != TxnIdle {
		return ErrTransactionPending
	}
	if len(header) < 2 {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooShort, len(header))
	}
	n := len(header) + len(payload)
	if n > MaxMgmtMsgSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, n)
	}
	if err := d.ensureAwake(); err != nil {
		return err
	}
	if d.windows[WindowRX].State == DataMounted {
		if err := d.pushWindow(WindowRX); err != nil {
			return err
		}
		d.restoreRx = true
	}

	dl := newDeadline(d.clock, d.cfg.MgmtReadyTimeout)
	giveUp := newDeadline(d.clock, d.cfg.MgmtTimeout)
	for {
		ok, err := d.txMgmtReady(uint16(n))
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if dl.expired() {
			d.warn("tx management mount point stuck, forcing unmount",
				slog.String("state", d.windows[WindowTX].State.String()))
			d.windows[WindowTX] = Window{ID: WindowTX}
			dl.restart()
		}
		if giveUp.expired() {
			return d.latch(fmt.Errorf("%w: management pool never freed", ErrDeviceUnresponsive))
		}
		if err := d.process(); err != nil {
			return err
		}
		d.sleep()
	}

	if err := d.writeWindow(WindowTX, 0, header); err != nil {
		return err
	}
	if err := d.writeWindow(WindowTX, uint16(len(header)), payload); err != nil {
		return err
	}
	if err := d.sendTx(uint16(n)); err != nil {
		return err
	}
	d.txn = TxnAwaiting
	d.txnReq = append(append(d.txnReq[:0], header...), payload...)
	d.txnStart = time.Now()
	d.debug("mgmt sent", slog.String("subtype", MgmtSubtype(header[1]).String()), slog.Int("len", n))
	return nil
}

// txMgmtReady mounts the management pool once the TX window is free.
func (d *Driver) txMgmtReady(n uint16) (bool, error) {
	w := d.windows[WindowTX]
	if w.Ready || (w.State != Unmounted && w.State != ScratchMounted) {
		d.appWaiting = true
		return false, nil
	}
	ok, err := d.allocateMgmtTx(n)
	if err != nil {
		return false, err
	}
	if !ok {
		d.appWaiting = true
		return false, nil
	}
	d.appWaiting = false
	return true, nil
}

// awaitConfirm runs the receive path until the confirm is mounted.
// Data frames arriving meanwhile are dropped.
func (d *Driver) awaitConfirm(expect MgmtSubtype) error {
	switch d.txn {
	case TxnIdle:
		return ErrNoTransaction
	case TxnConfirmed:
		return nil
	}
	dl := newDeadline(d.clock, d.cfg.MgmtTimeout)
	for d.txn == TxnAwaiting {
		if err := d.process(); err != nil {
			return err
		}
		if d.dataReceived && !d.mgmtMsgReady {
			if err := d.dropDataFrame(); err != nil {
				return err
			}
			continue
		}
		if d.txn != TxnAwaiting {
			break
		}
		if dl.expired() {
			err := fmt.Errorf("%w: no confirm for %s", ErrDeviceUnresponsive, expect)
			d.trace(expect, MgmtHeader{}, err)
			d.txn = TxnIdle
			return d.latch(err)
		}
		d.sleep()
	}
	return nil
}

func (d *Driver) dropDataFrame() error {
	if _, err := d.mountRx(DataMounted); err != nil {
		return err
	}
	if err := d.deallocateDataRx(); err != nil {
		return err
	}
	d.info("data frame dropped during management wait")
	return nil
}

// checkConfirm reads and validates the mounted confirm header. A result
// error is returned alongside ok=true: the buffer may still be freed.
func (d *Driver) checkConfirm(expect MgmtSubtype, readPath bool) (MgmtHeader, bool, error) {
	var b [MgmtHeaderSize]byte
	if err := d.readWindow(WindowRX, 0, b[:]); err != nil {
		return MgmtHeader{}, false, err
	}
	hdr := parseMgmtHeader(b[:])
	if hdr.Subtype != expect {
		err := fmt.Errorf("%w: expected %s, got %s", ErrProtocolMismatch, expect, hdr.Subtype)
		d.trace(expect, hdr, err)
		return hdr, false, d.latch(err)
	}
	switch {
	case hdr.Result == ResultSuccess:
		return hdr, true, nil
	case readPath && hdr.Result == ResultNoStoredBSSDescriptor:
		d.info("mgmt soft result", slog.String("subtype", expect.String()), slog.String("result", hdr.Result.String()))
		return hdr, true, nil
	case !readPath && softResult(expect, hdr.Result):
		d.info("mgmt soft result", slog.String("subtype", expect.String()), slog.String("result", hdr.Result.String()))
		return hdr, true, nil
	}
	return hdr, true, &ResultError{Subtype: expect, Code: hdr.Result}
}

// releaseMgmtRx frees the confirm and restores any RX data saved by
// the send.
func (d *Driver) releaseMgmtRx() error {
	if err := d.deallocateMgmtRx(); err != nil {
		return err
	}
	d.txn = TxnIdle
	if d.restoreRx {
		d.restoreRx = false
		if _, err := d.popWindow(WindowRX); err != nil {
			return err
		}
	}
	return nil
}

// waitMgmt waits for the confirm and applies the free policy.
func (d *Driver) waitMgmt(expect MgmtSubtype, policy FreePolicy) (MgmtHeader, error) {
	if err := d.awaitConfirm(expect); err != nil {
		return MgmtHeader{}, err
	}
	if policy == CallerReadsFirst {
		return MgmtHeader{}, nil
	}
	hdr, ok, resErr := d.checkConfirm(expect, false)
	if !ok {
		return hdr, resErr
	}
	if err := d.releaseMgmtRx(); err != nil {
		return hdr, err
	}
	d.trace(expect, hdr, resErr)
	return hdr, resErr
}

// waitMgmtRead waits, validates, copies len(dst) bytes from offset and
// frees the confirm.
func (d *Driver) waitMgmtRead(expect MgmtSubtype, offset uint16, dst []byte) (MgmtHeader, error) {
	if err := d.awaitConfirm(expect); err != nil {
		return MgmtHeader{}, err
	}
	hdr, ok, resErr := d.checkConfirm(expect, true)
	if !ok {
		return hdr, resErr
	}
	if resErr == nil {
		if err := d.readWindow(WindowRX, offset, dst); err != nil {
			return hdr, err
		}
	}
	if err := d.releaseMgmtRx(); err != nil {
		return hdr, err
	}
	d.trace(expect, hdr, resErr)
	return hdr, resErr
}

func (d *Driver) trace(subtype MgmtSubtype, hdr MgmtHeader, err error) {
	if d.cfg.Tracer == nil {
		return
	}
	d.cfg.Tracer.RecordTransaction(Transaction{
		Subtype:  subtype,
		Request:  append([]byte(nil), d.txnReq...),
		Result:   hdr.Result,
		MACState: hdr.MACState,
		Start:    d.txnStart,
		Duration: time.Since(d.txnStart),
		Err:      err,
	})
}

// transact runs a full exchange with the lock held.
func (d *Driver) transact(req Request) (MgmtHeader, error) {
	if err := d.sendMgmt(req.Header, req.Payload); err != nil {
		return MgmtHeader{}, err
	}
	if req.Read != nil {
		return d.waitMgmtRead(req.Expect, req.ReadOffset, req.Read)
	}
	return d.waitMgmt(req.Expect, FreeImmediately)
}

// Transact sends a management request and waits for its confirm. The
// driver lock is held throughout, so concurrent callers serialise.
func (d *Driver) Transact(req Request) (hdr MgmtHeader, err error) {
	err = d.do(func() error {
		hdr, err = d.transact(req)
		return err
	})
	return hdr, err
}

// SendMgmt sends a management request. The caller must follow it with
// one of the wait calls before sending again.
func (d *Driver) SendMgmt(header, payload []byte) error {
	return d.do(func() error { return d.sendMgmt(header, payload) })
}

// WaitMgmtResponse waits for the confirm of the outstanding request.
// With FreeImmediately the header is validated and the buffer freed;
// with CallerReadsFirst the buffer stays mounted until FreeMgmtResponse.
func (d *Driver) WaitMgmtResponse(expect MgmtSubtype, policy FreePolicy) error {
	return d.do(func() error {
		_, err := d.waitMgmt(expect, policy)
		return err
	})
}

// WaitMgmtResponseAndRead waits for the confirm, validates it and copies
// len(dst) bytes starting at offset before freeing the buffer.
func (d *Driver) WaitMgmtResponseAndRead(expect MgmtSubtype, offset uint16, dst []byte) error {
	return d.do(func() error {
		_, err := d.waitMgmtRead(expect, offset, dst)
		return err
	})
}

// ReadMgmtResponse copies bytes out of a confirm held by CallerReadsFirst.
func (d *Driver) ReadMgmtResponse(offset uint16, dst []byte) error {
	return d.do(func() error {
		if d.txn != TxnConfirmed {
			return ErrNoTransaction
		}
		return d.readWindow(WindowRX, offset, dst)
	})
}

// FreeMgmtResponse releases a confirm held by CallerReadsFirst.
func (d *Driver) FreeMgmtResponse() error {
	return d.do(func() error {
		if d.txn != TxnConfirmed {
			return ErrNoTransaction
		}
		var b [MgmtHeaderSize]byte
		if err := d.readWindow(WindowRX, 0, b[:]); err != nil {
			return err
		}
		hdr := parseMgmtHeader(b[:])
		if err := d.releaseMgmtRx(); err != nil {
			return err
		}
		d.trace(hdr.Subtype, hdr, nil)
		return nil
	})
}
