package protocol

import "errors"

var ErrShortVLQ = errors.New("protocol: truncated VLQ")

// EncodeVLQInt writes v in the variable length form the bridge parses:
// most significant group first, bit 7 set on every byte but the last.
func EncodeVLQInt(out OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	for _, shift := range [...]uint{28, 21, 14, 7} {
		lim := int32(1) << (shift - 2)
		if v < -lim || v >= 3*lim {
			buf[n] = byte(v>>shift)&0x7f | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7f
	out.Output(buf[:n+1])
}

func EncodeVLQUint(out OutputBuffer, v uint32) {
	EncodeVLQInt(out, int32(v))
}

// DecodeVLQInt consumes one value from the front of *data.
func DecodeVLQInt(data *[]byte) (int32, error) {
	d := *data
	if len(d) == 0 {
		return 0, ErrShortVLQ
	}
	c := uint32(d[0])
	d = d[1:]
	v := c & 0x7f
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1f)
	}
	for c&0x80 != 0 {
		if len(d) == 0 {
			return 0, ErrShortVLQ
		}
		c = uint32(d[0])
		d = d[1:]
		v = v<<7 | c&0x7f
	}
	*data = d
	return int32(v), nil
}

func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length prefixed byte string (%*s).
func EncodeVLQBytes(out OutputBuffer, b []byte) {
	EncodeVLQUint(out, uint32(len(b)))
	out.Output(b)
}

// DecodeVLQBytes consumes a length prefixed byte string. The result
// aliases *data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < n {
		return nil, ErrShortVLQ
	}
	b := (*data)[:n]
	*data = (*data)[n:]
	return b, nil
}
