// Package link owns the serial device: opening it exclusively, reading idle
// windows, serialized frame writes, and the publish/subscribe helpers used to
// talk to the Bristlemouth bridge.
package link

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrDeviceBusy means another process holds the serial device exclusively.
	ErrDeviceBusy = errors.New("serial device busy")
	// ErrDeviceMissing means the device path is absent, inaccessible, or misconfigured.
	ErrDeviceMissing = errors.New("serial device missing or misconfigured")
)

// Port is an open serial device. Read returning (0, nil) means no bytes were
// available within the port's own read timeout.
type Port interface {
	io.ReadWriteCloser
}

// OpenError describes a failure to open the serial device.
type OpenError struct {
	Device string
	Kind   error // ErrDeviceBusy or ErrDeviceMissing
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v: %v", e.Device, e.Kind, e.Err)
}

func (e *OpenError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Hints lists operator actions for the failure.
func (e *OpenError) Hints() []string {
	if errors.Is(e.Kind, ErrDeviceBusy) {
		return []string{
			"another process holds " + e.Device + "; stop it (e.g. systemctl stop <agent unit>)",
			"find the holder with: lsof " + e.Device,
		}
	}
	return []string{
		"check link.device (currently " + e.Device + ")",
		"list candidates with: ls -l /dev/serial* /dev/ttyAMA* /dev/ttyUSB*",
		"make sure the user is in the dialout group",
	}
}

// Describe renders the error with its hints on separate lines.
func (e *OpenError) Describe() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, h := range e.Hints() {
		b.WriteString("\n  hint: ")
		b.WriteString(h)
	}
	return b.String()
}
