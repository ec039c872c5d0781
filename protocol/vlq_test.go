package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeInt(v int32) []byte {
	out := NewScratchOutput()
	EncodeVLQInt(out, v)
	return append([]byte(nil), out.Result()...)
}

func TestVLQKnownEncodings(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{-1, []byte{0x7f}},
		{95, []byte{0x5f}},
		{96, []byte{0x80, 0x60}},
		{-32, []byte{0x60}},
		{-33, []byte{0xff, 0x5f}},
		{127, []byte{0x80, 0x7f}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, encodeInt(tt.v), "encode %d", tt.v)
	}
}

func TestVLQRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 127, -128, 1000, -1000, 65535, -65535, 1 << 20, -(1 << 27), 1<<31 - 1} {
		data := encodeInt(v)
		got, err := DecodeVLQInt(&data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Empty(t, data)
	}
	for _, v := range []uint32{0, 200, 1 << 16, 1<<32 - 1} {
		out := NewScratchOutput()
		EncodeVLQUint(out, v)
		data := out.Result()
		got, err := DecodeVLQUint(&data)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestVLQBytes(t *testing.T) {
	for _, b := range [][]byte{{}, {1}, {0xff, 0xfe, 0xfd}, make([]byte, SPIChunk)} {
		out := NewScratchOutput()
		EncodeVLQBytes(out, b)
		data := out.Result()
		got, err := DecodeVLQBytes(&data)
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}
}

func TestVLQTruncated(t *testing.T) {
	data := []byte{0x80}
	_, err := DecodeVLQInt(&data)
	assert.ErrorIs(t, err, ErrShortVLQ)
	assert.Equal(t, []byte{0x80}, data, "input untouched on error")

	data = []byte{0x05, 1, 2}
	_, err = DecodeVLQBytes(&data)
	assert.ErrorIs(t, err, ErrShortVLQ)
}
