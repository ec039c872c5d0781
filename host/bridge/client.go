// Package bridge drives a remote MRF24W through the SPI bridge firmware.
// A Client is the SPI bus, the three control pins and the interrupt line
// that core.New expects.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mrf24w/core"
	"mrf24w/protocol"
)

var ErrBadBridge = errors.New("bridge: not an mrf24w bridge")

type Client struct {
	tr      *protocol.HostTransport
	line    *core.Line
	log     *slog.Logger
	version string

	mu  sync.Mutex
	err error

	// Timeout bounds each response wait.
	Timeout time.Duration
}

// Dial identifies the bridge on port. The client owns port afterwards.
func Dial(port io.ReadWriteCloser, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		tr:      protocol.NewHostTransport(port, protocol.NewBridgeRegistry(), log),
		line:    core.NewLine(),
		log:     log,
		Timeout: time.Second,
	}
	c.tr.OnAsync(protocol.RespEintFired, c.fired)
	args, err := c.tr.Call(protocol.CmdIdentify, nil, protocol.RespIdentify, c.Timeout)
	if err == nil {
		var v []byte
		v, err = protocol.DecodeVLQBytes(&args)
		c.version = string(v)
	}
	if err != nil {
		c.tr.Close()
		return nil, fmt.Errorf("bridge: identify: %w", err)
	}
	if !strings.HasPrefix(c.version, "mrf24w-bridge") {
		c.tr.Close()
		return nil, fmt.Errorf("%w: %q", ErrBadBridge, c.version)
	}
	log.Info("bridge: connected", slog.String("version", c.version))
	return c, nil
}

// Version is the firmware's identify string.
func (c *Client) Version() string { return c.version }

// Err returns the first pin or transfer failure. Pins have no error
// return, so their failures surface here and on the next Tx.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Tx clocks w out and r in, split into bridge sized chunks. Either may
// be nil; a nil w sends zeros.
func (c *Client) Tx(w, r []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	n := max(len(w), len(r))
	var chunk [protocol.SPIChunk]byte
	for off := 0; off < n; off += protocol.SPIChunk {
		end := min(off+protocol.SPIChunk, n)
		out := chunk[:end-off]
		clear(out)
		if off < len(w) {
			copy(out, w[off:min(end, len(w))])
		}
		args, err := c.tr.Call(protocol.CmdSPIXfer, func(o protocol.OutputBuffer) {
			protocol.EncodeVLQBytes(o, out)
		}, protocol.RespSPIXfer, c.Timeout)
		if err == nil {
			var in []byte
			in, err = protocol.DecodeVLQBytes(&args)
			if err == nil && off < len(r) {
				copy(r[off:min(end, len(r))], in)
			}
		}
		if err != nil {
			err = fmt.Errorf("bridge: spi_xfer: %w", err)
			c.setErr(err)
			return err
		}
	}
	return nil
}

// Transfer clocks a single byte.
func (c *Client) Transfer(b byte) (byte, error) {
	var r [1]byte
	err := c.Tx([]byte{b}, r[:])
	return r[0], err
}

func (c *Client) setPin(pin uint8, level bool) {
	var v uint32
	if level {
		v = 1
	}
	err := c.tr.Send(protocol.CmdSetPin, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(pin))
		protocol.EncodeVLQUint(o, v)
	})
	if err != nil {
		c.setErr(fmt.Errorf("bridge: set_pin %d: %w", pin, err))
	}
}

func (c *Client) ChipSelect(level bool) { c.setPin(protocol.PinChipSelect, level) }
func (c *Client) Hibernate(level bool)  { c.setPin(protocol.PinHibernate, level) }
func (c *Client) Reset(level bool)      { c.setPin(protocol.PinReset, level) }

// IRQ is the co-processor interrupt line as seen through the bridge.
func (c *Client) IRQ() core.Interrupts { return irq{c} }

// fired runs on the transport's read goroutine.
func (c *Client) fired([]byte) {
	c.line.Set(true)
}

type irq struct{ c *Client }

func (i irq) Attach(h func()) { i.c.line.Attach(h) }

// Enable re-arms the remote line. The bridge masks itself after each
// report; if the device still asserts INT it reports again at once.
func (i irq) Enable() {
	i.c.line.Set(false)
	err := i.c.tr.Send(protocol.CmdEintConfig, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 1)
	})
	if err != nil {
		i.c.setErr(fmt.Errorf("bridge: eint_config: %w", err))
	}
	i.c.line.Enable()
}

func (i irq) Disable()       { i.c.line.Disable() }
func (i irq) Disabled() bool { return i.c.line.Disabled() }

// Close masks the remote interrupt and closes the link.
func (c *Client) Close() error {
	_ = c.tr.Send(protocol.CmdEintConfig, func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
	})
	return c.tr.Close()
}
