package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFrameLayout(t *testing.T) {
	frame, err := AppendFrame(nil, 0x13, []byte{0x01, 0x02})
	require.NoError(t, err)
	require.Len(t, frame, 7)
	assert.Equal(t, byte(7), frame[0])
	assert.Equal(t, byte(0x13), frame[1])
	crc := CRC16(frame[:4])
	assert.Equal(t, []byte{byte(crc >> 8), byte(crc), SyncByte}, frame[4:])

	_, err = AppendFrame(nil, SeqDest, make([]byte, PayloadMax+1))
	assert.ErrorIs(t, err, ErrFrameTooLong)
}

func TestNextSeqWraps(t *testing.T) {
	assert.Equal(t, uint8(0x11), NextSeq(0x10))
	assert.Equal(t, uint8(0x10), NextSeq(0x1f))
}

func TestScannerSplitsStream(t *testing.T) {
	a, _ := AppendFrame(nil, 0x10, []byte{1})
	b, _ := AppendFrame(nil, 0x11, nil)
	stream := append(append([]byte{SyncByte, SyncByte}, a...), b[:3]...)

	var s scanner
	seq, payload, rest, ok, _ := s.next(stream)
	require.True(t, ok)
	assert.Equal(t, uint8(0x10), seq)
	assert.Equal(t, []byte{1}, payload)

	// Half a frame waits for more input.
	_, _, rest, ok, _ = s.next(rest)
	assert.False(t, ok)
	assert.Equal(t, b[:3], rest)

	seq, payload, rest, ok, _ = s.next(append(rest, b[3:]...))
	require.True(t, ok)
	assert.Equal(t, uint8(0x11), seq)
	assert.Empty(t, payload)
	assert.Empty(t, rest)
}

func TestScannerResyncsAfterCorruption(t *testing.T) {
	good, _ := AppendFrame(nil, 0x12, []byte{9, 9})
	bad := append([]byte(nil), good...)
	bad[2] ^= 0xff

	var s scanner
	_, _, rest, ok, _ := s.next(append(bad, good...))
	require.True(t, ok, "the good frame after the sync byte is found")
	assert.Empty(t, rest)

	s = scanner{}
	_, _, _, ok, resynced := s.next(append([]byte{0x03, 0x55, SyncByte}, good...))
	assert.True(t, ok)
	assert.True(t, resynced)
}

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xffff), CRC16(nil))
	a := CRC16([]byte{5, SeqDest})
	assert.Equal(t, a, CRC16([]byte{5, SeqDest}))
	assert.NotEqual(t, a, CRC16([]byte{5, SeqDest | 1}))
}

func TestParseFrame(t *testing.T) {
	frame, _ := AppendFrame(nil, 0x14, []byte{3, 1})
	seq, payload, rest, err := ParseFrame(append(append([]byte{SyncByte}, frame...), 0xaa))
	require.NoError(t, err)
	assert.Equal(t, uint8(0x14), seq)
	assert.Equal(t, []byte{3, 1}, payload)
	assert.Equal(t, []byte{0xaa}, rest)

	bad := append([]byte(nil), frame...)
	bad[len(bad)-2] ^= 1
	_, _, _, err = ParseFrame(bad)
	assert.ErrorIs(t, err, ErrBadFrame)

	_, _, _, err = ParseFrame(frame[:4])
	assert.ErrorIs(t, err, ErrBadFrame)
}
