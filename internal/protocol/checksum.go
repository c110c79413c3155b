package protocol

import (
	"encoding/binary"
	"fmt"
)

// Checksum folds data into seed using the peer firmware's 16-bit recurrence.
// The bit operations are a wire contract; do not substitute a library CRC.
func Checksum(seed uint16, data []byte) uint16 {
	for _, b := range data {
		e := byte(seed) ^ b
		f := e ^ (e << 4)
		seed = (seed >> 8) ^ (uint16(f) << 8) ^ (uint16(f) << 3) ^ (uint16(f) >> 4)
	}
	return seed
}

var zeroChecksum = []byte{0, 0}

// FrameChecksum computes the checksum of an unencoded packet with the
// checksum bytes held at zero, whatever they currently contain.
func FrameChecksum(packet []byte) (uint16, error) {
	if len(packet) < FrameHeaderLen {
		return 0, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(packet), FrameHeaderLen)
	}
	sum := Checksum(0, packet[:2])
	sum = Checksum(sum, zeroChecksum)
	return Checksum(sum, packet[FrameHeaderLen:]), nil
}

// VerifyChecksum compares the embedded checksum with a recomputed one.
func VerifyChecksum(packet []byte) error {
	want, err := FrameChecksum(packet)
	if err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint16(packet[2:4]); got != want {
		return fmt.Errorf("%w: frame carries %#04x, computed %#04x", ErrChecksum, got, want)
	}
	return nil
}
