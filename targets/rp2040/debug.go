//go:build rp2040 || rp2350

package main

import (
	"io"
	"log/slog"
	"machine"
)

// initDebugLog returns a logger on UART1 (GPIO8 TX, GPIO9 RX, 115200).
// With the UART unavailable logs are discarded.
func initDebugLog() *slog.Logger {
	uart := machine.UART1
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO8,
		RX:       machine.GPIO9,
	})
	var w io.Writer = uart
	if err != nil {
		w = io.Discard
	}
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("mrf24w bridge up")
	return log
}
