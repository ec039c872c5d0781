//go:build rp2040 || rp2350

package main

import "machine"

// InitUSB configures machine.Serial, which is USB CDC on these chips.
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting.
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead fills buf from what is already buffered.
func USBRead(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		buf[n] = b
		n++
	}
	return n
}

// USBWriteBytes writes data to the host.
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}

// usbWriter is the bridge's frame sink. After repeated failures the
// host is taken to be gone and frames are dropped until it reads again.
type usbWriter struct {
	consecutiveFailures uint32
	disconnected        bool
}

func (w *usbWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := USBWriteBytes(p[written:])
		if err != nil || n == 0 {
			w.consecutiveFailures++
			if w.consecutiveFailures > 10 {
				w.disconnected = true
				w.consecutiveFailures = 0
			}
			if err == nil {
				err = errUSBStalled
			}
			return written, err
		}
		written += n
	}
	w.consecutiveFailures = 0
	return written, nil
}
