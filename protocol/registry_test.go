package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeRegistryIDs(t *testing.T) {
	r := NewBridgeRegistry()
	for id, name := range map[uint16]string{
		CmdIdentify:   "identify",
		CmdSPIXfer:    "spi_xfer",
		CmdSetPin:     "set_pin",
		CmdEintConfig: "eint_config",
		RespIdentify:  "identify_response",
		RespSPIXfer:   "spi_xfer_response",
		RespEintFired: "eint_fired",
	} {
		assert.Equal(t, name, r.Name(id))
	}
	assert.Equal(t, "cmd(99)", r.Name(99))

	lines := strings.Split(strings.TrimSpace(r.Dictionary()), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "2 set_pin pin=%c value=%c", lines[2])
	assert.Equal(t, "6 eint_fired", lines[6])
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	id := r.Register("ping", "n=%u")
	assert.Equal(t, id, r.Register("ping", "n=%u"))

	args := []byte{0x05}
	assert.ErrorIs(t, r.Dispatch(id, &args), ErrUnknownCommand, "no handler yet")

	var got uint32
	require.NoError(t, r.Handle(id, func(args *[]byte) error {
		v, err := DecodeVLQUint(args)
		got = v
		return err
	}))
	require.NoError(t, r.Dispatch(id, &args))
	assert.Equal(t, uint32(5), got)
	assert.Empty(t, args)

	assert.ErrorIs(t, r.Handle(42, nil), ErrUnknownCommand)
}

func TestDescribe(t *testing.T) {
	r := NewBridgeRegistry()
	encode := func(id uint16, args func(OutputBuffer)) []byte {
		var out ScratchOutput
		EncodeVLQUint(&out, uint32(id))
		if args != nil {
			args(&out)
		}
		return append([]byte(nil), out.Result()...)
	}

	s, err := r.Describe(encode(CmdSetPin, func(o OutputBuffer) {
		EncodeVLQUint(o, uint32(PinReset))
		EncodeVLQUint(o, 1)
	}))
	require.NoError(t, err)
	assert.Equal(t, "set_pin pin=2 value=1", s)

	s, err = r.Describe(encode(RespSPIXfer, func(o OutputBuffer) {
		EncodeVLQBytes(o, []byte{0xde, 0xad})
	}))
	require.NoError(t, err)
	assert.Equal(t, "spi_xfer_response data=dead", s)

	s, err = r.Describe(nil)
	require.NoError(t, err)
	assert.Equal(t, "ack", s)

	_, err = r.Describe(encode(CmdSetPin, func(o OutputBuffer) { EncodeVLQUint(o, 0) }))
	assert.ErrorIs(t, err, ErrShortVLQ)

	_, err = r.Describe([]byte{40})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestLookupName(t *testing.T) {
	r := NewBridgeRegistry()
	cmd, ok := r.LookupName("eint_config")
	require.True(t, ok)
	assert.Equal(t, CmdEintConfig, cmd.ID)
	assert.Equal(t, "enable=%c", cmd.Format)

	_, ok = r.LookupName("nope")
	assert.False(t, ok)
}
