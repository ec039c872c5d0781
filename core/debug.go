package core

import (
	"context"
	"log/slog"
	"strconv"
)

// RawMoveRecord captures one RAW move for post-mortem analysis.
type RawMoveRecord struct {
	Tick   uint32
	Window WindowID
	Target MountTarget
	Dest   bool
	Size   uint16
	Result uint16
	Failed bool
}

func (r RawMoveRecord) String() string {
	dir := "src"
	if r.Dest {
		dir = "dst"
	}
	s := "raw" + strconv.Itoa(int(r.Window)) + " " + r.Target.String() + " " + dir +
		" size=" + strconv.Itoa(int(r.Size)) + " result=" + strconv.Itoa(int(r.Result)) +
		" tick=" + strconv.Itoa(int(r.Tick))
	if r.Failed {
		s += " FAILED"
	}
	return s
}

// RawRingSize is how many RAW moves are kept.
const RawRingSize = 32

type rawRing struct {
	buf  [RawRingSize]RawMoveRecord
	head uint8
	n    uint8
}

func (r *rawRing) record(rec RawMoveRecord) {
	r.buf[r.head] = rec
	r.head = (r.head + 1) % RawRingSize
	if r.n < RawRingSize {
		r.n++
	}
}

// snapshot returns the ring oldest first.
func (r *rawRing) snapshot() []RawMoveRecord {
	out := make([]RawMoveRecord, 0, r.n)
	start := (r.head + RawRingSize - r.n) % RawRingSize
	for i := uint8(0); i < r.n; i++ {
		out = append(out, r.buf[(start+i)%RawRingSize])
	}
	return out
}

func (r *rawRing) clear() {
	*r = rawRing{}
}

// dumpRawRing logs the RAW move history, oldest first.
func (d *Driver) dumpRawRing() {
	if !d.log.Enabled(context.Background(), slog.LevelError) {
		return
	}
	for _, rec := range d.ring.snapshot() {
		d.logerr("raw history", slog.String("move", rec.String()))
	}
}

func (d *Driver) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Driver) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Driver) warn(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelWarn, msg, attrs...)
}

func (d *Driver) logerr(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

func (d *Driver) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	d.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func hex8(v uint8) slog.Value {
	const digits = "0123456789abcdef"
	return slog.StringValue("0x" + string([]byte{digits[v>>4], digits[v&0xf]}))
}
