package core

import "sync"

// Interrupts is the external interrupt line from the co-processor.
// The handler runs with the line already disabled.
type Interrupts interface {
	Enable()
	Disable()
	Disabled() bool
	Attach(handler func())
}

// Line is a level-triggered software interrupt line. Whoever owns the
// physical signal calls Set; the attached handler fires while the level
// is asserted and the line is enabled.
type Line struct {
	mu       sync.Mutex
	disabled bool
	asserted bool
	handler  func()
	fired    uint32
}

// NewLine returns a line that starts disabled.
func NewLine() *Line {
	return &Line{disabled: true}
}

func (l *Line) Attach(handler func()) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

func (l *Line) Enable() {
	l.mu.Lock()
	l.disabled = false
	h := l.take()
	l.mu.Unlock()
	if h != nil {
		h()
	}
}

func (l *Line) Disable() {
	l.mu.Lock()
	l.disabled = true
	l.mu.Unlock()
}

func (l *Line) Disabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disabled
}

// Set drives the line level. true means the device is requesting service.
func (l *Line) Set(asserted bool) {
	l.mu.Lock()
	l.asserted = asserted
	h := l.take()
	l.mu.Unlock()
	if h != nil {
		h()
	}
}

// Fired returns how many times the handler has been entered.
func (l *Line) Fired() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fired
}

// take must be called with mu held. It disables the line and returns the
// handler to call when an interrupt is due.
func (l *Line) take() func() {
	if l.disabled || !l.asserted || l.handler == nil {
		return nil
	}
	l.disabled = true
	l.fired++
	return l.handler
}

// intGuard masks the line for the span of a RAW move. release only
// re-masks a line the caller had masked; it never re-enables one. A line
// that was enabled on entry stays as the handler left it, usually masked
// until the next process step.
type intGuard struct {
	irq         Interrupts
	wasDisabled bool
}

func holdInterrupts(irq Interrupts) intGuard {
	g := intGuard{irq: irq, wasDisabled: irq.Disabled()}
	irq.Disable()
	return g
}

func (g intGuard) release() {
	if g.wasDisabled {
		g.irq.Disable()
	}
}
