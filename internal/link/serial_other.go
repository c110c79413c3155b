//go:build !linux

package link

import "errors"

// OpenSerial is only implemented for Linux hosts.
func OpenSerial(device string, baud int) (Port, error) {
	return nil, &OpenError{Device: device, Kind: ErrDeviceMissing, Err: errors.ErrUnsupported}
}
