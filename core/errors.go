package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnresponsive is returned when a RAW move, a wake request or a
	// management response never completes. The driver refuses further
	// work until Reset.
	ErrDeviceUnresponsive = errors.New("mrf24w: device unresponsive")

	// ErrDeviceFault is returned after the co-processor raised its fatal
	// secondary interrupt.
	ErrDeviceFault = errors.New("mrf24w: device fault interrupt")

	// ErrNoSPI means the reset handshake read back all ones.
	ErrNoSPI = errors.New("mrf24w: no SPI response from device")

	// ErrProtocolMismatch is returned when a confirm carries an unexpected
	// subtype. The RX management buffer is left mounted.
	ErrProtocolMismatch = errors.New("mrf24w: management response subtype mismatch")

	// ErrTransactionPending rejects a management send while another
	// transaction has not completed.
	ErrTransactionPending = errors.New("mrf24w: management transaction already outstanding")

	// ErrReentrantSend rejects management traffic during event dispatch.
	ErrReentrantSend = errors.New("mrf24w: management send from event handler")

	// ErrNoTransaction is returned by a response wait with nothing sent.
	ErrNoTransaction = errors.New("mrf24w: no management transaction outstanding")

	// ErrDisconnectFailed is returned by Disconnect when not connected.
	ErrDisconnectFailed = errors.New("mrf24w: disconnect failed, not connected")

	// ErrHibernating is returned after Hibernate until the next Init.
	ErrHibernating = errors.New("mrf24w: device is hibernating")

	// ErrNotInitialized is returned before Init has completed.
	ErrNotInitialized = errors.New("mrf24w: driver not initialized")

	// ErrMessageTooLong rejects management requests over MaxMgmtMsgSize.
	ErrMessageTooLong = errors.New("mrf24w: management message too long")
	// ErrMessageTooShort rejects request headers without type and subtype.
	ErrMessageTooShort = errors.New("mrf24w: management header too short")

	// ErrNoTxSpace is returned when the TX data pool cannot hold a frame.
	ErrNoTxSpace = errors.New("mrf24w: no TX buffer space")

	// ErrNoPacket is returned by ReceiveDataFrame with nothing pending.
	ErrNoPacket = errors.New("mrf24w: no data packet pending")
)

// ResultError is a management confirm that carried a failing result code.
type ResultError struct {
	Subtype MgmtSubtype
	Code    ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("mrf24w: %s failed: %s (%d)", e.Subtype, e.Code, uint8(e.Code))
}

// IsResult reports whether err carries the given management result code.
func IsResult(err error, code ResultCode) bool {
	var re *ResultError
	return errors.As(err, &re) && re.Code == code
}
