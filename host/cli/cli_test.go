package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrf24w/core"
)

// syncBuffer is written by the shell and its processing loop at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetIn(strings.NewReader(stdin))
	env := filepath.Join(t.TempDir(), "none.env")
	cmd.SetArgs(append([]string{"--env", env}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mrf24w-host")

	out, err = run(t, "", "--sim", "version", "--probe")
	require.NoError(t, err)
	assert.Contains(t, out, "bridge simulated")
	assert.Contains(t, out, "firmware rom 0x31 patch 0x20")
}

func TestNeedsDeviceOrSim(t *testing.T) {
	_, err := run(t, "", "status")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	out, err := run(t, "", "--sim", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "connection:   "+core.ConnNotConnected.String())
	assert.Contains(t, out, "window "+core.WindowRX.String())
}

func TestConnect(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.sqlite3")
	out, err := run(t, "", "--sim", "--trace", db, "connect", "2")
	require.NoError(t, err)
	assert.Contains(t, out, core.ConnConnectedInfrastructure.String())

	_, err = run(t, "", "--sim", "connect", "nope")
	assert.Error(t, err)
}

func TestParams(t *testing.T) {
	out, err := run(t, "", "--sim", "param", "get", "mac_address")
	require.NoError(t, err)
	assert.Equal(t, "00:1e:c0:12:34:56\n", out)

	_, err = run(t, "", "--sim", "param", "set", "rts_threshold", "512")
	require.NoError(t, err)
	_, err = run(t, "", "--sim", "param", "get", "colour")
	assert.ErrorContains(t, err, "unknown parameter")
	_, err = run(t, "", "--sim", "param", "set", "regional_domain", "300")
	assert.Error(t, err)
}

func TestParseParam(t *testing.T) {
	b, err := parseParam(core.ParamRTSThreshold, "0x0200")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00}, b)

	b, err = parseParam(core.ParamLinkDownThreshold, "7")
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, b)

	b, err = parseParam(core.ParamMACAddress, "02:00:00:aa:bb:cc")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0xaa, 0xbb, 0xcc}, b)

	assert.Equal(t, "512", formatParam(core.ParamRTSThreshold, []byte{2, 0}))
}

func TestShell(t *testing.T) {
	script := strings.Join([]string{
		"help",
		"connect 1",
		"set rts_threshold 1000",
		"get rts_threshold",
		"send cafe",
		"ps nodtim",
		"ps off",
		"bogus",
		"disconnect",
		"disconnect",
		"quit",
	}, "\n")
	out, err := run(t, script, "--sim", "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "Available commands")
	assert.Contains(t, out, core.ConnConnectedInfrastructure.String())
	assert.Contains(t, out, "1000\n")
	assert.Contains(t, out, "sent 2 bytes")
	assert.Contains(t, out, core.PSPollDTIMDisabled.String())
	assert.Contains(t, out, "unknown command: bogus")
	assert.Contains(t, out, "Error: "+core.ErrDisconnectFailed.Error())
}
