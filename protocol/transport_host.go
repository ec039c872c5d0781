package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Message is a decoded response from the bridge.
type Message struct {
	Seq  uint8
	ID   uint16
	Args []byte
}

// HostTransport is the host end of the link. Commands go out one at a
// time and each waits for its acknowledgement. Responses are either
// routed to an async handler or queued for Call.
type HostTransport struct {
	port io.ReadWriteCloser
	reg  *Registry
	log  *slog.Logger

	seq  atomic.Uint32
	scan scanner
	in   *FifoBuffer

	acks chan uint8
	resp chan Message

	asyncMu sync.RWMutex
	async   map[uint16]func(args []byte)

	callMu sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// AckTimeout bounds the wait for an acknowledgement.
	AckTimeout time.Duration
}

// NewHostTransport starts reading from port.
func NewHostTransport(port io.ReadWriteCloser, reg *Registry, log *slog.Logger) *HostTransport {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	t := &HostTransport{
		port:       port,
		reg:        reg,
		log:        log,
		in:         NewFifoBuffer(1024),
		acks:       make(chan uint8, 4),
		resp:       make(chan Message, 16),
		async:      make(map[uint16]func([]byte)),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		AckTimeout: 2 * time.Second,
	}
	t.seq.Store(SeqDest)
	go t.readLoop()
	return t
}

// OnAsync routes every response with the given id to fn instead of the
// Call queue. fn runs on the read goroutine and must not block on the
// transport.
func (t *HostTransport) OnAsync(id uint16, fn func(args []byte)) {
	t.asyncMu.Lock()
	t.async[id] = fn
	t.asyncMu.Unlock()
}

// Send writes one command and waits for its acknowledgement.
func (t *HostTransport) Send(id uint16, args func(OutputBuffer)) error {
	t.callMu.Lock()
	defer t.callMu.Unlock()
	return t.send(id, args)
}

// Call sends a command and waits for the response with id want.
// Responses with other ids are discarded.
func (t *HostTransport) Call(id uint16, args func(OutputBuffer), want uint16, timeout time.Duration) ([]byte, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()
	for len(t.resp) > 0 {
		m := <-t.resp
		t.log.Debug("bridge: stale response", slog.String("cmd", t.reg.Name(m.ID)))
	}
	if err := t.send(id, args); err != nil {
		return nil, err
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case m := <-t.resp:
			if m.ID == want {
				return m.Args, nil
			}
			t.log.Debug("bridge: unexpected response", slog.String("cmd", t.reg.Name(m.ID)))
		case <-deadline.C:
			return nil, fmt.Errorf("protocol: no %s within %v", t.reg.Name(want), timeout)
		case <-t.stop:
			return nil, ErrClosed
		}
	}
}

func (t *HostTransport) send(id uint16, args func(OutputBuffer)) error {
	select {
	case <-t.stop:
		return ErrClosed
	default:
	}
	var out ScratchOutput
	EncodeVLQUint(&out, uint32(id))
	if args != nil {
		args(&out)
	}
	if out.Overflowed() {
		return fmt.Errorf("%w: %s", ErrFrameTooLong, t.reg.Name(id))
	}
	seq := uint8(t.seq.Load())
	frame, err := AppendFrame(nil, seq, out.Result())
	if err != nil {
		return err
	}
	for len(t.acks) > 0 {
		<-t.acks
	}
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("protocol: write %s: %w", t.reg.Name(id), err)
	}
	return t.waitAck(NextSeq(seq))
}

func (t *HostTransport) waitAck(want uint8) error {
	deadline := time.NewTimer(t.AckTimeout)
	defer deadline.Stop()
	for {
		select {
		case got := <-t.acks:
			if got == want {
				t.seq.Store(uint32(want))
				return nil
			}
			t.log.Debug("bridge: nak", slog.Int("want", int(want)), slog.Int("got", int(got)))
		case <-deadline.C:
			return fmt.Errorf("protocol: no ack for seq %#x within %v", want, t.AckTimeout)
		case <-t.stop:
			return ErrClosed
		}
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)
	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.receive(buf[:n])
		}
		if err == nil {
			continue
		}
		select {
		case <-t.stop:
			return
		default:
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			t.log.Info("bridge: link closed", slog.Any("err", err))
			return
		}
		t.log.Warn("bridge: read failed", slog.Any("err", err))
		time.Sleep(10 * time.Millisecond)
	}
}

func (t *HostTransport) receive(data []byte) {
	for len(data) > 0 {
		n := t.in.Write(data)
		data = data[n:]
		buf := t.in.Data()
		rest := buf
		for {
			seq, payload, r, ok, _ := t.scan.next(rest)
			rest = r
			if !ok {
				break
			}
			t.dispatch(seq, payload)
		}
		t.in.Pop(len(buf) - len(rest))
	}
}

func (t *HostTransport) dispatch(seq uint8, payload []byte) {
	if len(payload) == 0 {
		select {
		case t.acks <- seq:
		default:
		}
		return
	}
	id, err := DecodeVLQUint(&payload)
	if err != nil {
		t.log.Warn("bridge: bad response", slog.Any("err", err))
		return
	}
	args := append([]byte(nil), payload...)
	t.asyncMu.RLock()
	fn := t.async[uint16(id)]
	t.asyncMu.RUnlock()
	if fn != nil {
		fn(args)
		return
	}
	m := Message{Seq: seq, ID: uint16(id), Args: args}
	select {
	case t.resp <- m:
	default:
		// Full: drop the oldest.
		select {
		case <-t.resp:
		default:
		}
		t.resp <- m
	}
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Seq returns the sequence the next command will carry.
func (t *HostTransport) Seq() uint8 {
	return uint8(t.seq.Load())
}
