package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrf24w/core"
	"mrf24w/sim"
)

func TestAllocateMgmtTxShortPool(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})

	dev.SetPoolFree(core.TargetMgmt, 4)
	before := drv.Window(core.WindowTX)
	ok, err := drv.AllocateMgmtTx(8)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, drv.Window(core.WindowTX))
	assert.False(t, dev.Window(core.WindowTX).Mounted)

	dev.SetPoolFree(core.TargetMgmt, 4+10)
	ok, err = drv.AllocateMgmtTx(8)
	require.NoError(t, err)
	require.True(t, ok)
	w := drv.Window(core.WindowTX)
	assert.True(t, w.Ready)
	assert.Equal(t, core.MgmtMounted, w.State)
	assert.Equal(t, uint16(8), w.Size)
	assert.Equal(t, 8, dev.Window(core.WindowTX).Len)
	assert.Equal(t, uint16(6), dev.PoolFree(core.TargetMgmt))
}

func TestAllocateDataTxAndSend(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})

	ok, err := drv.AllocateDataTx(6)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.DataMounted, drv.Window(core.WindowTX).State)

	require.NoError(t, drv.Write(core.WindowTX, 0, []byte{1, 1, 1, 0, 0xaa, 0xbb}))
	idx, err := drv.GetIndex(core.WindowTX)
	require.NoError(t, err)
	assert.Equal(t, uint16(6), idx)

	require.NoError(t, drv.SendTx(6))
	assert.Equal(t, core.Unmounted, drv.Window(core.WindowTX).State)
	assert.Equal(t, [][]byte{{0xaa, 0xbb}}, dev.Sent())
}

func TestMountRxAndRead(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})

	dev.InjectDataFrame([]byte("hello"))
	require.Eventually(t, func() bool {
		return drv.Process() == nil && drv.DataPending()
	}, time.Second, time.Millisecond)

	n, err := drv.MountRx()
	require.NoError(t, err)
	assert.Equal(t, uint16(4+5), n)
	buf := make([]byte, 5)
	require.NoError(t, drv.Read(core.WindowRX, 4, buf))
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, drv.DeallocateDataRx())
	assert.Equal(t, core.Unmounted, drv.Window(core.WindowRX).State)
	assert.False(t, dev.Window(core.WindowRX).Mounted)
}

func TestReadPastWindowZeroFills(t *testing.T) {
	drv, _ := newDriver(t, sim.Options{})

	ok, err := drv.AllocateDataTx(4)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = drv.SetIndex(core.WindowTX, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	buf := []byte{9, 9, 9}
	require.NoError(t, drv.Read(core.WindowTX, 100, buf))
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestPushPopRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		id    core.WindowID
		mount func(t *testing.T, drv *core.Driver, dev *sim.Device)
	}{
		{
			name: "data",
			id:   core.WindowRX,
			mount: func(t *testing.T, drv *core.Driver, dev *sim.Device) {
				dev.InjectDataFrame([]byte{1, 2, 3})
				require.Eventually(t, func() bool {
					return drv.Process() == nil && drv.DataPending()
				}, time.Second, time.Millisecond)
				_, err := drv.MountRx()
				require.NoError(t, err)
			},
		},
		{
			name: "management",
			id:   core.WindowTX,
			mount: func(t *testing.T, drv *core.Driver, dev *sim.Device) {
				ok, err := drv.AllocateMgmtTx(12)
				require.NoError(t, err)
				require.True(t, ok)
			},
		},
		{
			name: "scratch",
			id:   core.WindowTX,
			mount: func(t *testing.T, drv *core.Driver, dev *sim.Device) {
				got, n, err := drv.ScratchMount(core.WindowTX)
				require.NoError(t, err)
				require.Equal(t, core.WindowTX, got)
				require.NotZero(t, n)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, dev := newDriver(t, sim.Options{})
			tt.mount(t, drv, dev)
			before := drv.Window(tt.id)
			devBefore := dev.Window(tt.id)

			require.NoError(t, drv.PushWindow(tt.id))
			assert.Equal(t, core.Unmounted, drv.Window(tt.id).State)
			assert.True(t, drv.Status().Saved[tt.id])

			n, err := drv.PopWindow(tt.id)
			require.NoError(t, err)
			assert.Equal(t, before.Size, n)
			assert.Equal(t, before, drv.Window(tt.id))
			assert.Equal(t, devBefore.Len, dev.Window(tt.id).Len)
			assert.False(t, drv.Status().Saved[tt.id])
		})
	}
}

func TestPopWithoutPush(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})

	ok, err := drv.AllocateMgmtTx(8)
	require.NoError(t, err)
	require.True(t, ok)
	before := drv.Window(core.WindowTX)
	moves := dev.Moves()

	n, err := drv.PopWindow(core.WindowTX)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, drv.Window(core.WindowTX))
	assert.Equal(t, moves, dev.Moves())
}

func TestSecondPushOverwrites(t *testing.T) {
	drv, _ := newDriver(t, sim.Options{})

	ok, err := drv.AllocateMgmtTx(8)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, drv.PushWindow(core.WindowTX))

	ok, err = drv.AllocateMgmtTx(16)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, drv.PushWindow(core.WindowTX))

	n, err := drv.PopWindow(core.WindowTX)
	require.NoError(t, err)
	assert.Equal(t, uint16(16), n)

	n, err = drv.PopWindow(core.WindowTX)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScratchHeldByOtherWindow(t *testing.T) {
	drv, _ := newDriver(t, sim.Options{ScratchSize: 512})

	got, n, err := drv.ScratchMount(core.WindowRX)
	require.NoError(t, err)
	require.Equal(t, core.WindowRX, got)
	require.Equal(t, uint16(512), n)

	got, n, err = drv.ScratchMount(core.WindowTX)
	require.NoError(t, err)
	assert.Equal(t, core.WindowRX, got)
	assert.Zero(t, n)
	assert.Equal(t, core.ScratchMounted, drv.Window(core.WindowRX).State)

	require.NoError(t, drv.ScratchUnmount(core.WindowRX))
	assert.Equal(t, core.Unmounted, drv.Window(core.WindowRX).State)
}

func TestRawToRawCopy(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})

	dev.InjectDataFrame([]byte("copyme"))
	require.Eventually(t, func() bool {
		return drv.Process() == nil && drv.DataPending()
	}, time.Second, time.Millisecond)
	_, err := drv.MountRx()
	require.NoError(t, err)

	ok, err := drv.AllocateDataTx(10)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := drv.RawToRawCopy(core.WindowTX, 10)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), n)

	buf := make([]byte, 6)
	require.NoError(t, drv.Read(core.WindowTX, 4, buf))
	assert.Equal(t, "copyme", string(buf))
}

func TestMutualExclusion(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})
	connect(t, drv)

	// Hold a data frame on RX while management traffic runs through it.
	dev.InjectDataFrame([]byte{1, 2, 3, 4})
	require.Eventually(t, func() bool {
		return drv.Process() == nil && drv.DataPending()
	}, time.Second, time.Millisecond)
	_, err := drv.MountRx()
	require.NoError(t, err)
	require.Equal(t, core.DataMounted, drv.Window(core.WindowRX).State)

	for range 5 {
		st, err := drv.CheckConnectionState()
		require.NoError(t, err)
		assert.Equal(t, core.ConnConnectedInfrastructure, st)
		assert.Equal(t, core.DataMounted, drv.Window(core.WindowRX).State)
		assert.Equal(t, 8, dev.Window(core.WindowRX).Len)
		assert.False(t, drv.Status().Saved[core.WindowRX])
	}

	buf := make([]byte, 4)
	require.NoError(t, drv.Read(core.WindowRX, 4, buf))
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestRawMoveTimeout(t *testing.T) {
	clock := &core.StepClock{Step: 50}
	drv, dev := newDriver(t, sim.Options{}, func(c *core.Config) {
		c.Clock = clock
		c.RawMoveTimeout = 200 * time.Millisecond
		c.RawMoveRetries = 1
	})

	dev.Stall(true)
	_, err := drv.AllocateMgmtTx(8)
	require.ErrorIs(t, err, core.ErrDeviceUnresponsive)
	st := drv.Status()
	assert.ErrorIs(t, st.Fault, core.ErrDeviceUnresponsive)
	require.NotEmpty(t, st.RawHistory)
	last := st.RawHistory[len(st.RawHistory)-1]
	assert.True(t, last.Failed)
	assert.Equal(t, core.TargetMgmt, last.Target)

	_, err = drv.AllocateMgmtTx(8)
	assert.ErrorIs(t, err, core.ErrDeviceUnresponsive)

	dev.Stall(false)
	require.NoError(t, drv.Reset())
	ok, err := drv.AllocateMgmtTx(8)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRawMoveTimeoutAutoReset(t *testing.T) {
	clock := &core.StepClock{Step: 50}
	drv, dev := newDriver(t, sim.Options{}, func(c *core.Config) {
		c.Clock = clock
		c.RawMoveTimeout = 100 * time.Millisecond
		c.RawMoveRetries = 0
		c.AutoReset = true
	})

	dev.Stall(true)
	_, err := drv.AllocateMgmtTx(8)
	require.ErrorIs(t, err, core.ErrDeviceUnresponsive)
	assert.Error(t, drv.Status().Fault)

	dev.Stall(false)
	_, err = drv.AllocateMgmtTx(8)
	assert.Error(t, err)
	require.NoError(t, drv.Reset())
	assert.NoError(t, drv.Status().Fault)
}

func TestRxIndexBeyondReported(t *testing.T) {
	drv, dev := newDriver(t, sim.Options{})
	dev.InjectDataFrame([]byte{1, 2})
	require.Eventually(t, func() bool {
		return drv.Process() == nil && drv.DataPending()
	}, time.Second, time.Millisecond)
	_, err := drv.MountRx()
	require.NoError(t, err)

	ok, err := drv.SetIndex(core.WindowRX, 100)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, drv.Status().RxIndexBeyond)

	ok, err = drv.SetIndex(core.WindowRX, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, drv.Status().RxIndexBeyond)
}
