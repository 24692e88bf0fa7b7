//go:build !linux

package worker

// PinToCPU is a no-op where thread affinity is not supported.
func PinToCPU(int) error { return nil }
