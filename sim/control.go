package sim

import "mrf24w/core"

// Test and tooling controls. Each one updates the interrupt line.

// InjectDataFrame queues a received data frame for the host.
func (d *Device) InjectDataFrame(payload []byte) {
	d.mu.Lock()
	msg := append([]byte{core.TypeDataRxIndicate, core.StdDataMsgSubtype, 0, 0}, payload...)
	d.enqueue(fifoData, msg)
	d.mu.Unlock()
	d.update()
}

// InjectEvent queues an indicate message.
func (d *Device) InjectEvent(ev core.EventSubtype, data ...byte) {
	d.mu.Lock()
	if ev == core.EventConnectionLost && len(data) > 0 && data[0] == core.ConnPermanentlyLost {
		d.fw.state = core.ConnConnectionPermanentlyLost
	}
	d.enqueue(fifoMgmt, indicate(ev, data...))
	d.mu.Unlock()
	d.update()
}

// DeliverMgmt queues an arbitrary management message for the host.
func (d *Device) DeliverMgmt(msg []byte) {
	d.mu.Lock()
	d.enqueue(fifoMgmt, append([]byte(nil), msg...))
	d.mu.Unlock()
	d.update()
}

// InjectFault raises the secondary interrupt with the given cause bits.
func (d *Device) InjectFault(intr2 uint16) {
	d.mu.Lock()
	d.intr2 |= intr2
	d.intr |= core.IntINT2
	d.mask |= core.IntINT2
	d.mu.Unlock()
	d.update()
}

// Stall stops RAW moves from signalling completion.
func (d *Device) Stall(stall bool) {
	d.mu.Lock()
	d.stall = stall
	d.mu.Unlock()
}

// Silence stops the firmware answering management requests.
func (d *Device) Silence(silent bool) {
	d.mu.Lock()
	d.fw.silent = silent
	d.mu.Unlock()
}

// Respond installs a hook that can replace the confirm for any request.
// Returning nil falls through to the firmware model. The hook runs with
// the device locked and must not call back into it.
func (d *Device) Respond(fn func(req []byte) []byte) {
	d.mu.Lock()
	d.fw.respond = fn
	d.mu.Unlock()
}

// SetPoolFree overrides the free byte count of a TX pool.
func (d *Device) SetPoolFree(pool core.MountTarget, n uint16) {
	d.mu.Lock()
	*d.poolFree(pool) = n
	d.mu.Unlock()
}

// PoolFree returns the free byte count of a TX pool.
func (d *Device) PoolFree(pool core.MountTarget) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.poolFree(pool)
}

// Violations counts RAW moves issued while the chip was asleep.
func (d *Device) Violations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.violations
}

// Moves counts RAW moves since New.
func (d *Device) Moves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.moves
}

// Asleep reports whether the chip is in PS-Poll low power.
func (d *Device) Asleep() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.asleep
}

// PowerMode reports the last power mode request.
func (d *Device) PowerMode() (enabled, rxDtim bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fw.psEnabled, d.fw.rxDtim
}

// ConnectionState is the firmware's connection manager state.
func (d *Device) ConnectionState() core.ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fw.state
}

// SetConnectionState forces the firmware's connection manager state.
func (d *Device) SetConnectionState(st core.ConnectionState, cpID uint8) {
	d.mu.Lock()
	d.fw.state, d.fw.cpID = st, cpID
	d.mu.Unlock()
}

// Requests returns every management request received, oldest first.
func (d *Device) Requests() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.fw.requests...)
}

// Sent returns the payloads of data frames sent by the host.
func (d *Device) Sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.fw.sent...)
}

// Param returns a firmware parameter value.
func (d *Device) Param(id core.ParamID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.fw.params[id]...)
}

// WindowInfo describes what the device has mounted on a RAW window.
type WindowInfo struct {
	Mounted bool
	Pool    core.MountTarget
	Len     int
	Saved   bool
	Index   uint16
	Scratch bool
}

// Window returns the device side view of a RAW window.
func (d *Device) Window(id core.WindowID) WindowInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.win[id]
	info := WindowInfo{Saved: w.saved != nil, Index: w.index, Scratch: d.scratchOn == int(id)}
	if w.buf != nil {
		info.Mounted = true
		info.Pool = w.buf.pool
		info.Len = len(w.buf.data)
	}
	return info
}

// Pending returns how many messages wait in each FIFO, acknowledged or
// not.
func (d *Device) Pending() (data, mgmt int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending[fifoData]) + len(d.acked[fifoData]),
		len(d.pending[fifoMgmt]) + len(d.acked[fifoMgmt])
}
