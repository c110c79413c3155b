package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumVectors(t *testing.T) {
	assert.Equal(t, uint16(0x2189), Checksum(0, []byte("123456789")))
	assert.Equal(t, uint16(0x0000), Checksum(0, nil))
	assert.Equal(t, uint16(0x0000), Checksum(0, []byte{0}))
	assert.Equal(t, uint16(0x3c99), Checksum(0, []byte("ab")))
	assert.Equal(t, uint16(0x246a), Checksum(0, []byte("ba")))
}

func TestChecksumDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		b := make([]byte, 1+rng.Intn(512))
		rng.Read(b)
		assert.Equal(t, Checksum(0, b), Checksum(0, b))
	}
}

func TestChecksumOrderDependent(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	changed := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		b := make([]byte, 16)
		rng.Read(b)
		p := make([]byte, len(b))
		copy(p, b)
		rng.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
		if string(p) == string(b) {
			continue
		}
		if Checksum(0, p) != Checksum(0, b) {
			changed++
		}
	}
	assert.Greater(t, changed, trials*9/10)
}

func TestChecksumChaining(t *testing.T) {
	data := []byte("camera/capture/image")
	assert.Equal(t, Checksum(0, data), Checksum(Checksum(0, data[:7]), data[7:]))
}

func TestFrameChecksumIgnoresEmbeddedBytes(t *testing.T) {
	packet := []byte{0x03, 0x00, 0xAA, 0xBB, 0x01, 0x00, 'x'}
	sum, err := FrameChecksum(packet)
	require.NoError(t, err)

	zeroed := []byte{0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 'x'}
	assert.Equal(t, Checksum(0, zeroed), sum)
}

func TestVerifyChecksum(t *testing.T) {
	packet, err := BuildSubscribe("camera/status")
	require.NoError(t, err)
	require.NoError(t, VerifyChecksum(packet))

	packet[len(packet)-1] ^= 0x01
	assert.ErrorIs(t, VerifyChecksum(packet), ErrChecksum)

	assert.ErrorIs(t, VerifyChecksum([]byte{0x02, 0x00}), ErrTruncated)
}
