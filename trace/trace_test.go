package trace

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrf24w/core"
	"mrf24w/sim"
)

func open(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndRecent(t *testing.T) {
	r := open(t)
	start := time.Unix(1700000000, 0)
	r.RecordTransaction(core.Transaction{
		Subtype:  core.SubtypeCMConnect,
		Request:  []byte{2, 30, 1, 0},
		Result:   core.ResultSuccess,
		Start:    start,
		Duration: 3 * time.Millisecond,
	})
	r.RecordTransaction(core.Transaction{
		Subtype: core.SubtypeCMGetStatus,
		Request: []byte{2, 32},
		Start:   start.Add(time.Second),
		Err:     errors.New("no confirm"),
	})

	recs, err := r.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, core.SubtypeCMGetStatus, recs[0].Subtype)
	assert.Equal(t, "no confirm", recs[0].Err)
	assert.Equal(t, core.SubtypeCMConnect, recs[1].Subtype)
	assert.Equal(t, []byte{2, 30, 1, 0}, recs[1].Request)
	assert.Equal(t, 3*time.Millisecond, recs[1].Duration)
	assert.True(t, start.Equal(recs[1].Start))
	assert.Equal(t, r.Session(), recs[1].Session)
	assert.NotEqual(t, recs[0].ID, recs[1].ID)

	recs, err = r.Recent(1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestBatchWrites(t *testing.T) {
	r := open(t)
	r.BatchSize = 2
	for range 3 {
		r.RecordTransaction(core.Transaction{Subtype: core.SubtypeSetParam, Start: time.Now()})
	}
	r.mu.Lock()
	assert.Len(t, r.pending, 1)
	r.mu.Unlock()

	require.NoError(t, r.Flush())
	var n int
	require.NoError(t, r.db.QueryRow(`select count(*) from mgmt_trace`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestSessionsShareFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath())
	a, err := Open(path, nil)
	require.NoError(t, err)
	a.RecordTransaction(core.Transaction{Subtype: core.SubtypeCMConnect, Start: time.Now()})
	require.NoError(t, a.Close())

	b, err := Open(path, nil)
	require.NoError(t, err)
	defer b.Close()
	b.RecordTransaction(core.Transaction{Subtype: core.SubtypeCMDisconnect, Start: time.Now()})
	recs, err := b.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, core.SubtypeCMDisconnect, recs[0].Subtype)
	assert.NotEqual(t, a.Session(), b.Session())

	var n int
	require.NoError(t, b.db.QueryRow(`select count(*) from mgmt_trace`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestClosedRecorder(t *testing.T) {
	r, err := Open(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	r.RecordTransaction(core.Transaction{Subtype: core.SubtypeCMConnect})
	assert.NoError(t, r.Flush())
	_, err = r.Recent(1)
	assert.Error(t, err)
}

func TestRecordsDriverTraffic(t *testing.T) {
	r := open(t)
	dev := sim.New(sim.Options{})
	cfg := core.DefaultConfig()
	cfg.ChipSelect = dev.ChipSelect
	cfg.Hibernate = dev.Hibernate
	cfg.Reset = dev.Reset
	cfg.Tracer = r
	drv := core.New(dev, dev.IRQ(), cfg)
	require.NoError(t, drv.Init())
	defer drv.Close()

	require.NoError(t, drv.Connect(1))
	_, err := drv.CheckConnectionState()
	require.NoError(t, err)

	recs, err := r.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, core.SubtypeCMGetStatus, recs[0].Subtype)
	assert.Equal(t, core.SubtypeCMConnect, recs[1].Subtype)
	assert.Equal(t, core.ResultSuccess, recs[1].Result)
	assert.Empty(t, recs[1].Err)
}
