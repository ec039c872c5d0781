package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrf24w/config"
	"mrf24w/core"
)

func simConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sim = true
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenSimulated(t *testing.T) {
	cfg := simConfig(t)
	cfg.TraceDB = filepath.Join(t.TempDir(), "trace.sqlite3")
	s, err := Open(cfg, Options{})
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Sim)
	assert.Nil(t, s.Bridge)
	require.NotNil(t, s.Trace)
	assert.True(t, s.Driver.Status().Initialized)

	require.NoError(t, s.Driver.Connect(cfg.Profile))
	recs, err := s.Trace.Recent(5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, core.SubtypeCMConnect, recs[0].Subtype)
}

func TestOpenMissingDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Device = filepath.Join(t.TempDir(), "ttyNONE")
	_, err := Open(cfg, Options{})
	assert.Error(t, err)
}

func TestStepDeliversFramesAndEvents(t *testing.T) {
	s, err := Open(simConfig(t), Options{})
	require.NoError(t, err)
	defer s.Close()

	var (
		mu     sync.Mutex
		frames [][]byte
	)
	s.OnFrame(func(b []byte) {
		mu.Lock()
		frames = append(frames, append([]byte(nil), b...))
		mu.Unlock()
	})

	require.NoError(t, s.Driver.Connect(1))
	s.Sim.InjectDataFrame([]byte("hello"))
	for range 10 {
		require.NoError(t, s.Step())
	}

	mu.Lock()
	assert.Equal(t, [][]byte{[]byte("hello")}, frames)
	mu.Unlock()

	select {
	case ev := <-s.Events():
		assert.Equal(t, core.EventConnectionAttemptStatus, ev.Subtype)
	default:
		t.Fatal("no connection event")
	}
}

func TestApplyPowerSave(t *testing.T) {
	s, err := Open(simConfig(t), Options{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Driver.Connect(1))

	require.NoError(t, s.ApplyPowerSave(config.PowerSaveNoDTIM))
	assert.Equal(t, core.PSPollDTIMDisabled, s.Driver.PowerSaveState())
	assert.True(t, s.Sim.Asleep())

	require.NoError(t, s.ApplyPowerSave(config.PowerSaveOff))
	assert.Equal(t, core.PSOff, s.Driver.PowerSaveState())

	assert.ErrorIs(t, s.ApplyPowerSave("always"), config.ErrInvalid)
}

func TestRunStopsWithContext(t *testing.T) {
	s, err := Open(simConfig(t), Options{})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Millisecond) }()

	s.Sim.InjectEvent(core.EventConnectionReestablished, 0)
	require.Eventually(t, s.Driver.Connected, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
