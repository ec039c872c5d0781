package sim

import (
	"log/slog"

	"mrf24w/core"
)

// move runs a RAW move written to a window's control register and
// raises the completion interrupt unless moves are stalled.
func (d *Device) move(id core.WindowID, word uint16) {
	target, dest, size := core.DecodeRawCtrlWord(word)
	d.moves++
	if d.asleep {
		d.violations++
		d.log.Warn("sim: raw move while asleep", slog.String("window", id.String()))
	}
	w := &d.win[id]
	var n uint16
	switch target {
	case core.TargetMgmt, core.TargetData:
		if dest {
			n = d.allocate(w, target, size)
		} else {
			d.release(w)
		}
	case core.TargetMAC:
		if dest {
			n = d.mountRx(w)
		} else {
			n = d.transmit(w, size)
		}
	case core.TargetStack:
		if dest {
			if w.saved != nil {
				w.buf, w.saved = w.saved, nil
				n = uint16(len(w.buf.data))
			}
		} else {
			w.saved, w.buf = w.buf, nil
			if w.saved != nil {
				n = uint16(len(w.saved.data))
			}
		}
	case core.TargetScratch:
		n = d.scratchMove(id, dest)
	case core.TargetCopy:
		n = d.copyMove(id, size)
	default:
		d.log.Warn("sim: unknown raw target", slog.Int("target", int(target)))
	}
	w.result = n
	w.index = 0
	d.log.Debug("sim: raw move",
		slog.String("window", id.String()),
		slog.String("target", target.String()),
		slog.Bool("dest", dest),
		slog.Int("size", int(size)),
		slog.Int("result", int(n)))
	if d.stall {
		return
	}
	d.intr |= core.WindowIntBit(id)
}

func (d *Device) poolFree(pool core.MountTarget) *uint16 {
	if pool == core.TargetMgmt {
		return &d.mgmtFree
	}
	return &d.dataFree
}

func (d *Device) allocate(w *window, pool core.MountTarget, size uint16) uint16 {
	free := d.poolFree(pool)
	if size > *free {
		return 0
	}
	*free -= size
	w.buf = &buffer{data: make([]byte, size), pool: pool, capacity: size}
	return size
}

// release frees whatever the window holds, returning pool space.
func (d *Device) release(w *window) {
	if b := w.buf; b != nil && b.capacity > 0 {
		*d.poolFree(b.pool) += b.capacity
	}
	w.buf = nil
}

// nextRx picks the next acknowledged message. Management messages
// mount ahead of data.
func (d *Device) nextRx(take bool) *buffer {
	for _, f := range [2]int{fifoMgmt, fifoData} {
		if len(d.acked[f]) == 0 {
			continue
		}
		b := d.acked[f][0]
		if take {
			d.acked[f] = d.acked[f][1:]
		}
		return b
	}
	return nil
}

func (d *Device) mountRx(w *window) uint16 {
	b := d.nextRx(true)
	if b == nil {
		return 0
	}
	w.buf = b
	return uint16(len(b.data))
}

// transmit hands the first size bytes of the window to the firmware.
func (d *Device) transmit(w *window, size uint16) uint16 {
	b := w.buf
	if b == nil {
		return 0
	}
	size = min(size, uint16(len(b.data)))
	msg := append([]byte(nil), b.data[:size]...)
	d.release(w)
	switch b.pool {
	case core.TargetMgmt:
		d.fw.request(d, msg)
	case core.TargetData:
		d.fw.data(msg)
	}
	return size
}

func (d *Device) scratchMove(id core.WindowID, dest bool) uint16 {
	w := &d.win[id]
	if !dest {
		if d.scratchOn == int(id) {
			d.scratchOn = -1
			w.buf = nil
		}
		return 0
	}
	if d.scratchOn == int(id.Other()) {
		return 0
	}
	d.scratchOn = int(id)
	w.buf = d.scratch
	return uint16(len(d.scratch.data))
}

// copyMove copies size bytes from the other window's cursor to this
// window's cursor.
func (d *Device) copyMove(id core.WindowID, size uint16) uint16 {
	dst, src := &d.win[id], &d.win[id.Other()]
	if dst.buf == nil || src.buf == nil {
		return 0
	}
	if int(src.index) >= len(src.buf.data) || int(dst.index) >= len(dst.buf.data) {
		return 0
	}
	end := min(int(src.index)+int(size), len(src.buf.data))
	return uint16(copy(dst.buf.data[dst.index:], src.buf.data[src.index:end]))
}
