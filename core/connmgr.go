package core

import (
	"fmt"
	"log/slog"
)

// setConnected updates the logical connection flag. The power-save task
// follows link events instead; see setLink.
func (d *Driver) setConnected(up bool) {
	if d.connected == up {
		return
	}
	d.connected = up
	d.debug("connection flag", slog.Bool("connected", up))
}

// Connected reports the driver's logical connection flag. It reflects
// connect/disconnect calls and connection events, not a status query.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect asks the co-processor to connect with connection profile cpID.
// The result of the attempt arrives later as a connection event.
func (d *Driver) Connect(cpID uint8) error {
	return d.do(func() error {
		_, err := d.transact(Request{
			Header: []byte{TypeMgmtRequest, byte(SubtypeCMConnect), cpID, 0},
			Expect: SubtypeCMConnect,
		})
		if err != nil {
			return err
		}
		d.setConnected(true)
		d.info("connect requested", slog.Int("cp", int(cpID)))
		return nil
	})
}

// Disconnect drops the current connection. It fails with
// ErrDisconnectFailed when the driver or the co-processor says there is
// nothing to disconnect; the cached flag is consulted first so a known
// disconnected driver does not touch the bus.
func (d *Driver) Disconnect() error {
	return d.do(func() error {
		if !d.connected {
			return fmt.Errorf("%w: not connected", ErrDisconnectFailed)
		}
		st, err := d.connectionState()
		if err != nil {
			return err
		}
		if !st.Connected() {
			d.setConnected(false)
			return fmt.Errorf("%w: co-processor reports %s", ErrDisconnectFailed, st)
		}
		_, err = d.transact(Request{
			Header: []byte{TypeMgmtRequest, byte(SubtypeCMDisconnect)},
			Expect: SubtypeCMDisconnect,
		})
		if err != nil {
			return err
		}
		d.setConnected(false)
		d.info("disconnected")
		return nil
	})
}

// connectionState queries the co-processor's connection state.
func (d *Driver) connectionState() (ConnectionState, error) {
	var b [2]byte
	_, err := d.transact(Request{
		Header:     []byte{TypeMgmtRequest, byte(SubtypeCMGetStatus)},
		Expect:     SubtypeCMGetStatus,
		ReadOffset: MgmtDataOffset,
		Read:       b[:],
	})
	if err != nil {
		return 0, err
	}
	return ConnectionState(b[0]), nil
}

// GetConnectionState queries the co-processor and updates the logical
// connection flag: connected or reconnecting counts as up.
func (d *Driver) GetConnectionState() (st ConnectionState, err error) {
	err = d.do(func() error {
		st, err = d.connectionState()
		if err != nil {
			return err
		}
		d.setConnected(st.Active())
		return nil
	})
	return st, err
}

// CheckConnectionState queries the co-processor without touching the
// logical connection flag.
func (d *Driver) CheckConnectionState() (st ConnectionState, err error) {
	err = d.do(func() error {
		st, err = d.connectionState()
		return err
	})
	return st, err
}
