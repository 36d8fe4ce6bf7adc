package digitcap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tactilesense/digitcap/digit"
)

func newTestPump(t *testing.T, session digit.Session) (*Pump, *Orchestrator, *recordingPresenter, *Loop) {
	t.Helper()
	loop := NewLoop()
	t.Cleanup(loop.Close)
	presenter := &recordingPresenter{}
	orch := NewOrchestrator(loop, presenter)
	orch.tick = 5 * time.Millisecond
	orch.settle = 5 * time.Millisecond
	orch.SetSaveDirectory(t.TempDir())
	pump := NewPump(loop, session, orch, presenter, nil)
	return pump, orch, presenter, loop
}

func TestPumpIntervalFromFrameRate(t *testing.T) {
	pump, _, _, _ := newTestPump(t, digit.NewMockSession())

	// Mock default stream is QVGA 60fps: 1000/60 = 16ms.
	assert.Equal(t, 16*time.Millisecond, pump.Interval())

	pump.SetFrameRate(30)
	assert.Equal(t, 33*time.Millisecond, pump.Interval())
	pump.SetFrameRate(15)
	assert.Equal(t, 66*time.Millisecond, pump.Interval())

	pump.SetFrameRate(0) // refused, interval kept
	assert.Equal(t, 66*time.Millisecond, pump.Interval())
}

func TestPumpFeedsCaptureBeforeRender(t *testing.T) {
	session := digit.NewMockSession()
	pump, orch, presenter, loop := newTestPump(t, session)
	require.NoError(t, orch.SetNumFrames(3))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		pump.Start()
	})
	waitIdle(t, loop, orch)
	loop.Post(pump.Stop)
	loop.Sync()

	dir := filepath.Join(orch.SaveDirectory(), "interaction_0001")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Contains(t, presenter.Statuses(), "Capturing frame 3/3")
}

func TestPumpDeviceLossAbortsCapture(t *testing.T) {
	session := digit.NewMockSession()
	session.FailPullAfter = 2
	pump, orch, presenter, loop := newTestPump(t, session)
	require.NoError(t, orch.SetNumFrames(5))
	require.NoError(t, orch.SetInteractionNumber(3))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		pump.Start()
	})

	deadline := time.Now().Add(5 * time.Second)
	for !presenter.Lost() {
		require.False(t, time.Now().After(deadline), "device loss never reported")
		time.Sleep(time.Millisecond)
	}
	loop.Sync()

	// The pump stays stopped: no retry for a non-hot-pluggable device.
	assert.False(t, pump.Running())
	assert.Equal(t, stateIdle, orch.State())
	assert.Equal(t, 3, orch.InteractionNumber(), "abort must not advance the counter")
	assert.NotContains(t, presenter.Statuses(), StatusComplete)
}

func TestPumpStartStopIdempotent(t *testing.T) {
	pump, _, _, loop := newTestPump(t, digit.NewMockSession())

	loop.Post(func() {
		pump.Start()
		pump.Start()
		assert.True(t, pump.Running())
		pump.Stop()
		pump.Stop()
		assert.False(t, pump.Running())
	})
	loop.Sync()
}
