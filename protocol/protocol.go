// Package protocol is the serial link between the host tools and the
// SPI bridge firmware. Every frame is
//
//	[len][seq][VLQ command id][VLQ args...][crc hi][crc lo][0x7e]
//
// The high nibble of seq is always 0x10. A frame with no payload is an
// acknowledgement carrying the next sequence the receiver expects.
package protocol

import "errors"

// Version is reported by the bridge in identify_response.
const Version = "mrf24w-bridge 0.1.0"

const (
	HeaderSize  = 2
	TrailerSize = 3
	FrameMin    = HeaderSize + TrailerSize
	FrameMax    = 64
	PayloadMax  = FrameMax - FrameMin

	SyncByte = 0x7e
	SeqDest  = 0x10
	SeqMask  = 0x0f

	posLen = 0
	posSeq = 1
)

var (
	ErrFrameTooLong   = errors.New("protocol: frame too long")
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrClosed         = errors.New("protocol: transport closed")
)

// NextSeq returns the sequence that follows seq.
func NextSeq(seq uint8) uint8 {
	return (seq+1)&SeqMask | SeqDest
}

// AppendFrame encodes payload as a frame with sequence seq and appends
// it to dst.
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	n := FrameMin + len(payload)
	if n > FrameMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(n), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), SyncByte), nil
}

// scanner splits a byte stream into frames. After a framing error it
// drops bytes up to the next sync byte.
type scanner struct {
	lost bool
}

// next returns the first complete frame in data and the bytes after it.
// ok is false when data holds no complete frame; rest is then what must
// be kept for the next call. resynced reports that the scanner found
// its footing again after a framing error.
func (s *scanner) next(data []byte) (seq uint8, payload, rest []byte, ok, resynced bool) {
	for len(data) > 0 {
		if s.lost {
			i := indexSync(data)
			if i < 0 {
				return 0, nil, nil, false, resynced
			}
			data = data[i+1:]
			s.lost = false
			resynced = true
			continue
		}
		if data[0] == SyncByte {
			data = data[1:]
			continue
		}
		if len(data) < FrameMin {
			break
		}
		n := int(data[posLen])
		if n < FrameMin || n > FrameMax || data[posSeq]&^SeqMask != SeqDest {
			s.lost = true
			continue
		}
		if len(data) < n {
			break
		}
		if data[n-1] != SyncByte {
			s.lost = true
			continue
		}
		crc := uint16(data[n-3])<<8 | uint16(data[n-2])
		if crc != CRC16(data[:n-TrailerSize]) {
			s.lost = true
			continue
		}
		return data[posSeq], data[HeaderSize : n-TrailerSize], data[n:], true, resynced
	}
	return 0, nil, data, false, resynced
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == SyncByte {
			return i
		}
	}
	return -1
}

// ErrBadFrame reports that ParseFrame found no valid frame.
var ErrBadFrame = errors.New("protocol: bad frame")

// ParseFrame decodes the first frame in data. Leading sync bytes are
// skipped; anything after the frame is returned in rest.
func ParseFrame(data []byte) (seq uint8, payload, rest []byte, err error) {
	var s scanner
	seq, payload, rest, ok, resynced := s.next(data)
	if !ok || resynced {
		return 0, nil, data, ErrBadFrame
	}
	return seq, payload, rest, nil
}
