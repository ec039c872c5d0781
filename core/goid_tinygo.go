//go:build tinygo

package core

// goid has no goroutine identity to read on tinygo. Every caller counts
// as the dispatcher while OnEvent runs.
func goid() uint64 { return 1 }
