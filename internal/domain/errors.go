package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDevice marks audio device failures. Fatal only at startup.
	ErrDevice = errors.New("audio device error")
	// ErrEngine marks recognition engine failures. Always recoverable.
	ErrEngine = errors.New("recognition engine error")
	// ErrQueueOverflow is reported when a captured frame had to be dropped.
	ErrQueueOverflow = errors.New("audio frame queue overflow")
	// ErrKeyEvent marks malformed key events. Never propagated past the detector.
	ErrKeyEvent = errors.New("unrecognized key event")
)

// DeviceError describes why an input device could not be opened.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	device := e.Device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("audio device %q: %v", device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

// EngineError wraps a recognition failure with the operation that failed.
func EngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
}
