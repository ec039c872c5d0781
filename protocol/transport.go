package protocol

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Transport is the bridge end of the link. It acknowledges host frames,
// runs the commands they carry and sends responses.
//
// Receive must be called from a single goroutine. Send may be called
// from anywhere, including command handlers.
type Transport struct {
	reg  *Registry
	scan scanner
	in   *FifoBuffer

	// expect is the next sequence the host should send. Responses go
	// out with the same value.
	expect atomic.Uint32

	wmu   sync.Mutex
	w     io.Writer
	frame []byte

	onReset func()
	onError func(error)
}

func NewTransport(reg *Registry, w io.Writer) *Transport {
	t := &Transport{
		reg:   reg,
		in:    NewFifoBuffer(4 * FrameMax),
		w:     w,
		frame: make([]byte, 0, FrameMax),
	}
	t.expect.Store(SeqDest)
	return t
}

// OnReset is called when the host restarts its sequence.
func (t *Transport) OnReset(fn func()) { t.onReset = fn }

// OnError receives handler and write failures.
func (t *Transport) OnError(fn func(error)) { t.onError = fn }

// Receive consumes bytes read from the host.
func (t *Transport) Receive(data []byte) {
	for len(data) > 0 {
		n := t.in.Write(data)
		data = data[n:]
		t.process()
		if n == 0 && t.in.Free() == 0 {
			t.in.Reset()
		}
	}
}

func (t *Transport) process() {
	buf := t.in.Data()
	rest := buf
	for {
		seq, payload, r, ok, resynced := t.scan.next(rest)
		rest = r
		if resynced {
			t.ack()
		}
		if !ok {
			break
		}
		t.accept(seq, payload)
	}
	t.in.Pop(len(buf) - len(rest))
}

func (t *Transport) accept(seq uint8, payload []byte) {
	expect := uint8(t.expect.Load())
	if seq == SeqDest && expect != SeqDest {
		expect = SeqDest
		t.expect.Store(SeqDest)
		if t.onReset != nil {
			t.onReset()
		}
	}
	if seq != expect {
		// Acking the sequence we still want is the NAK.
		t.ack()
		return
	}
	t.expect.Store(uint32(NextSeq(seq)))
	t.ack()
	t.run(payload)
}

func (t *Transport) run(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.scan.lost = true
			t.fail(fmt.Errorf("protocol: handler panic: %v", r))
		}
	}()
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			t.scan.lost = true
			t.fail(err)
			return
		}
		if err := t.reg.Dispatch(uint16(id), &payload); err != nil {
			t.fail(err)
			return
		}
	}
}

func (t *Transport) ack() {
	_ = t.write(nil)
}

// Send encodes one command frame and writes it.
func (t *Transport) Send(id uint16, args func(OutputBuffer)) error {
	var out ScratchOutput
	EncodeVLQUint(&out, uint32(id))
	if args != nil {
		args(&out)
	}
	if out.Overflowed() {
		return fmt.Errorf("%w: %s", ErrFrameTooLong, t.reg.Name(id))
	}
	return t.write(out.Result())
}

func (t *Transport) write(payload []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	frame, err := AppendFrame(t.frame[:0], uint8(t.expect.Load()), payload)
	if err != nil {
		return err
	}
	if _, err := t.w.Write(frame); err != nil {
		t.fail(err)
		return err
	}
	return nil
}

func (t *Transport) fail(err error) {
	if t.onError != nil {
		t.onError(err)
	}
}

// Reset forgets partial input and expects a fresh host sequence.
func (t *Transport) Reset() {
	t.in.Reset()
	t.scan.lost = false
	t.expect.Store(SeqDest)
	if t.onReset != nil {
		t.onReset()
	}
}
