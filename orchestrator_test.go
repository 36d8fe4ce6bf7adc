package digitcap

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPresenter captures everything the core reports.
type recordingPresenter struct {
	mu       sync.Mutex
	statuses []string
	frames   int
	enabled  []bool
	lost     bool
}

func (p *recordingPresenter) ShowStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
}

func (p *recordingPresenter) ShowFrame(img image.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
}

func (p *recordingPresenter) SetControlsEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append(p.enabled, enabled)
}

func (p *recordingPresenter) DeviceLost() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = true
}

func (p *recordingPresenter) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.statuses...)
}

func (p *recordingPresenter) Lost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *recordingPresenter, *Loop) {
	t.Helper()
	loop := NewLoop()
	t.Cleanup(loop.Close)
	presenter := &recordingPresenter{}
	orch := NewOrchestrator(loop, presenter)
	orch.tick = 5 * time.Millisecond
	orch.settle = 5 * time.Millisecond
	orch.SetSaveDirectory(t.TempDir())
	return orch, presenter, loop
}

func frame() image.Image {
	return image.NewGray(image.Rect(0, 0, 32, 24))
}

// waitIdle waits for the orchestrator to settle back to idle.
func waitIdle(t *testing.T, loop *Loop, orch *Orchestrator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var state string
		done := make(chan struct{})
		loop.Post(func() { state = orch.State(); close(done) })
		<-done
		if state == stateIdle {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("orchestrator stuck in %q", state)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSingleFrameCapture(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetInteractionNumber(7))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		orch.OnFrame(frame())
	})
	waitIdle(t, loop, orch)

	// A single still goes straight into the save dir, no subfolder.
	entries, err := os.ReadDir(orch.SaveDirectory())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "interaction_0007.jpg", entries[0].Name())

	assert.Equal(t, 8, orch.InteractionNumber())
	statuses := presenter.Statuses()
	assert.Contains(t, statuses, "Capturing frame 1/1")
	assert.Contains(t, statuses, StatusComplete)
	assert.Equal(t, StatusReady, statuses[len(statuses)-1])
}

func TestMultiFrameCapture(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetNumFrames(5))
	require.NoError(t, orch.SetInteractionNumber(3))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		for i := 0; i < 5; i++ {
			orch.OnFrame(frame())
		}
		// Frames past the target are ignored.
		orch.OnFrame(frame())
	})
	waitIdle(t, loop, orch)

	dir := filepath.Join(orch.SaveDirectory(), "interaction_0003")
	for i := 1; i <= 5; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i))
		_, err := os.Stat(name)
		assert.NoError(t, err, "missing %s", name)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	assert.Equal(t, 4, orch.InteractionNumber())
	assert.Contains(t, presenter.Statuses(), "Capturing frame 5/5")
}

func TestCountdownMessages(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	orch.SetCountdownEnabled(true)
	require.NoError(t, orch.SetCountdownSeconds(3))

	loop.Post(func() { require.NoError(t, orch.StartCapture()) })

	deadline := time.Now().Add(5 * time.Second)
	for {
		var capturing bool
		done := make(chan struct{})
		loop.Post(func() { capturing = orch.Capturing(); close(done) })
		<-done
		if capturing {
			break
		}
		require.False(t, time.Now().After(deadline), "countdown never finished")
		time.Sleep(time.Millisecond)
	}

	want := []string{
		"Capturing in 3 seconds...",
		"Capturing in 2 seconds...",
		"Capturing in 1 seconds...",
	}
	assert.Equal(t, want, presenter.Statuses())

	loop.Post(func() { orch.OnFrame(frame()) })
	waitIdle(t, loop, orch)
}

func TestAbortDiscardsPartialSession(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetNumFrames(5))
	require.NoError(t, orch.SetInteractionNumber(3))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		orch.OnFrame(frame())
		orch.OnFrame(frame())
		orch.Abort()
	})
	loop.Sync()

	assert.Equal(t, stateIdle, orch.State())
	assert.Equal(t, 3, orch.InteractionNumber(), "abort must not advance the counter")
	assert.NotContains(t, presenter.Statuses(), StatusComplete)

	// Frames after the abort are dropped.
	loop.Post(func() { orch.OnFrame(frame()) })
	loop.Sync()
	dir := filepath.Join(orch.SaveDirectory(), "interaction_0003")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteFailureDoesNotAbortSequence(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetNumFrames(5))
	require.NoError(t, orch.SetInteractionNumber(3))

	dir := filepath.Join(orch.SaveDirectory(), "interaction_0003")
	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		orch.OnFrame(frame())
		orch.OnFrame(frame())
		// Writes start failing mid-sequence; the remaining frames are
		// reported and counted anyway, the files just come up short.
		require.NoError(t, os.RemoveAll(dir))
		orch.OnFrame(frame())
		orch.OnFrame(frame())
		orch.OnFrame(frame())
	})
	waitIdle(t, loop, orch)

	statuses := presenter.Statuses()
	assert.Contains(t, statuses, "Capturing frame 5/5")
	assert.Contains(t, statuses, StatusComplete)
	assert.Equal(t, 4, orch.InteractionNumber())

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStartCaptureIdempotentWhileRunning(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetNumFrames(2))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		require.NoError(t, orch.StartCapture()) // second call: no effect
		orch.OnFrame(frame())
		require.NoError(t, orch.StartCapture()) // still capturing
		orch.OnFrame(frame())
	})
	waitIdle(t, loop, orch)

	var completions int
	for _, s := range presenter.Statuses() {
		if s == StatusComplete {
			completions++
		}
	}
	assert.Equal(t, 1, completions)
	assert.Equal(t, 2, orch.InteractionNumber())
}

func TestStartCaptureSaveDirUnavailable(t *testing.T) {
	orch, presenter, loop := newTestOrchestrator(t)

	// A file where the save dir should be makes MkdirAll fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	orch.SetSaveDirectory(filepath.Join(blocker, "sub"))

	loop.Post(func() {
		err := orch.StartCapture()
		require.ErrorIs(t, err, ErrSaveDirUnavailable)
	})
	loop.Sync()

	assert.Equal(t, stateIdle, orch.State())
	assert.Contains(t, presenter.Statuses(), StatusSaveDirMissing)

	// The status resets to ready after the fixed delay.
	deadline := time.Now().Add(5 * time.Second)
	for {
		statuses := presenter.Statuses()
		if len(statuses) > 0 && statuses[len(statuses)-1] == StatusReady {
			break
		}
		require.False(t, time.Now().After(deadline), "status never reset")
		time.Sleep(time.Millisecond)
	}
}

func TestSettersRejectOutOfRange(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	require.NoError(t, orch.SetNumFrames(600))
	assert.Error(t, orch.SetNumFrames(601))
	assert.Error(t, orch.SetNumFrames(0))
	assert.Equal(t, 600, orch.NumFrames())

	require.NoError(t, orch.SetInteractionNumber(9999))
	assert.Error(t, orch.SetInteractionNumber(10000))
	assert.Error(t, orch.SetInteractionNumber(0))
	assert.Equal(t, 9999, orch.InteractionNumber())

	require.NoError(t, orch.SetCountdownSeconds(10))
	assert.Error(t, orch.SetCountdownSeconds(11))
	assert.Error(t, orch.SetCountdownSeconds(0))
	assert.Equal(t, 10, orch.CountdownSeconds())
}

func TestInteractionCounterCapped(t *testing.T) {
	orch, _, loop := newTestOrchestrator(t)
	require.NoError(t, orch.SetInteractionNumber(MaxInteractionNumber))

	loop.Post(func() {
		require.NoError(t, orch.StartCapture())
		orch.OnFrame(frame())
	})
	waitIdle(t, loop, orch)

	assert.Equal(t, MaxInteractionNumber, orch.InteractionNumber())
}
