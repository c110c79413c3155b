package protocol

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVectors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "01"},
		{"single zero", "00", "0101"},
		{"zero inside", "11220033", "0311220233"},
		{"trailing zeros", "11000000", "0211010101"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := hex.DecodeString(tt.in)
			assert.Equal(t, tt.want, hex.EncodeToString(Encode(in)))
		})
	}
}

func TestEncodeMaxRun(t *testing.T) {
	run := bytes.Repeat([]byte{0x01}, 254)
	enc := Encode(run)
	assert.Len(t, enc, 255)
	assert.Equal(t, byte(0xFF), enc[0])

	enc = Encode(append(run, 0x01))
	assert.Len(t, enc, 257)
	assert.Equal(t, []byte{0x02, 0x01}, enc[255:])
}

func TestEncodeNeverEmitsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		in := make([]byte, rng.Intn(1200))
		rng.Read(in)
		assert.NotContains(t, Encode(in), byte(0))
	}
}

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		make([]byte, 600),
		bytes.Repeat([]byte{0xAB}, 253),
		bytes.Repeat([]byte{0xAB}, 254),
		bytes.Repeat([]byte{0xAB}, 255),
		bytes.Repeat([]byte{0xAB}, 1024),
		append(bytes.Repeat([]byte{0xAB}, 254), 0),
		append([]byte{0}, bytes.Repeat([]byte{0xAB}, 508)...),
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		b := make([]byte, rng.Intn(2048))
		rng.Read(b)
		// sprinkle zeros so both code paths run
		for j := range b {
			if rng.Intn(50) == 0 {
				b[j] = 0
			}
		}
		cases = append(cases, b)
	}

	for _, in := range cases {
		out, err := Decode(Encode(in))
		require.NoError(t, err)
		if len(in) == 0 {
			assert.Empty(t, out)
			continue
		}
		assert.Equal(t, in, out)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte{0x05, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrCOBS)

	_, err = Decode([]byte{0x02, 0x01, 0x00, 0x01})
	assert.ErrorIs(t, err, ErrCOBS)

	_, err = Decode([]byte{0x03, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrCOBS)
}
