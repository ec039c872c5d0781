//go:build tinygo

package core

import (
	"machine"
	"runtime/interrupt"
)

// PinLine is the co-processor INT pin on a tinygo target. The pin is
// active low; the handler is armed on the falling edge.
type PinLine struct {
	pin      machine.Pin
	disabled bool
	handler  func()
}

// NewPinLine configures pin as a pulled-up input. The line starts disabled.
func NewPinLine(pin machine.Pin) *PinLine {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &PinLine{pin: pin, disabled: true}
}

func (p *PinLine) Attach(handler func()) {
	p.handler = handler
}

func (p *PinLine) Enable() {
	state := interrupt.Disable()
	p.disabled = false
	p.pin.SetInterrupt(machine.PinFalling, p.isr)
	interrupt.Restore(state)
	// Level still low: the edge was missed while masked.
	if !p.pin.Get() {
		p.isr(p.pin)
	}
}

func (p *PinLine) Disable() {
	state := interrupt.Disable()
	p.disabled = true
	p.pin.SetInterrupt(0, nil)
	interrupt.Restore(state)
}

func (p *PinLine) Disabled() bool {
	return p.disabled
}

func (p *PinLine) isr(machine.Pin) {
	if p.disabled {
		return
	}
	p.Disable()
	if p.handler != nil {
		p.handler()
	}
}
