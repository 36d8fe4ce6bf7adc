package digitcap

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/looplab/fsm"
)

// Bounds for the capture parameters. Assignments outside these are
// refused, never clamped.
const (
	MaxNumFrames         = 600
	MaxInteractionNumber = 9999
	MinCountdownSeconds  = 1
	MaxCountdownSeconds  = 10
)

// ErrSaveDirUnavailable means the capture target directory does not exist
// and could not be created; the capture was not started.
var ErrSaveDirUnavailable = errors.New("save directory unavailable")

// settleDelay holds the completion status on screen before the
// orchestrator reports ready again.
const settleDelay = time.Second

// Orchestrator state names.
const (
	stateIdle       = "idle"
	stateCountdown  = "countdown"
	stateCapturing  = "capturing"
	stateCompleting = "completing"
)

// Orchestrator is the capture state machine: idle, optional countdown,
// frame acquisition bound to live-view ticks, completion, back to idle. It
// owns the capture parameters and the interaction counter; the
// presentation layer only mirrors them. All methods must be called on the
// Loop.
type Orchestrator struct {
	loop      *Loop
	presenter Presenter
	machine   *fsm.FSM

	numFrames        int
	interactionNum   int
	countdownSeconds int
	countdownEnabled bool
	saveDir          string

	// Pacing, shortened in tests.
	tick   time.Duration
	settle time.Duration

	// Per-capture state, reset on completion or abort.
	target        string
	framesWritten int
	remaining     int
	countdownTask *Task
	settleTask    *Task
	resetTask     *Task
}

// NewOrchestrator returns an idle orchestrator with default parameters:
// one frame, interaction 1, a disabled 3 second countdown, saving under
// "images". Apply persisted preferences through the setters.
func NewOrchestrator(loop *Loop, presenter Presenter) *Orchestrator {
	o := &Orchestrator{
		loop:             loop,
		presenter:        presenter,
		numFrames:        1,
		interactionNum:   1,
		countdownSeconds: 3,
		saveDir:          "images",
		tick:             time.Second,
		settle:           settleDelay,
	}
	o.machine = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: "start", Src: []string{stateIdle}, Dst: stateCountdown},
			{Name: "begin", Src: []string{stateIdle, stateCountdown}, Dst: stateCapturing},
			{Name: "finish", Src: []string{stateCapturing}, Dst: stateCompleting},
			{Name: "settle", Src: []string{stateCompleting}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_" + stateCompleting: func(e *fsm.Event) { o.complete() },
			"enter_" + stateIdle:       func(e *fsm.Event) { o.ready() },
		},
	)
	return o
}

// State returns the current state name.
func (o *Orchestrator) State() string {
	return o.machine.Current()
}

// Capturing reports whether a frame acquisition loop is active.
func (o *Orchestrator) Capturing() bool {
	return o.machine.Is(stateCapturing)
}

// SetNumFrames sets how many frames the next capture records. Values
// outside [1, MaxNumFrames] are refused and the prior value kept.
func (o *Orchestrator) SetNumFrames(n int) error {
	if n < 1 || n > MaxNumFrames {
		return fmt.Errorf("num frames %d not in [1,%d]", n, MaxNumFrames)
	}
	o.numFrames = n
	return nil
}

// SetInteractionNumber sets the counter for the next interaction. Values
// outside [1, MaxInteractionNumber] are refused.
func (o *Orchestrator) SetInteractionNumber(n int) error {
	if n < 1 || n > MaxInteractionNumber {
		return fmt.Errorf("interaction number %d not in [1,%d]", n, MaxInteractionNumber)
	}
	o.interactionNum = n
	return nil
}

// SetCountdownSeconds sets the pre-capture countdown length. Values
// outside [MinCountdownSeconds, MaxCountdownSeconds] are refused.
func (o *Orchestrator) SetCountdownSeconds(n int) error {
	if n < MinCountdownSeconds || n > MaxCountdownSeconds {
		return fmt.Errorf("countdown %d not in [%d,%d]", n, MinCountdownSeconds, MaxCountdownSeconds)
	}
	o.countdownSeconds = n
	return nil
}

// SetCountdownEnabled toggles the pre-capture countdown.
func (o *Orchestrator) SetCountdownEnabled(enabled bool) {
	o.countdownEnabled = enabled
}

// SetSaveDirectory sets the capture root. Existence is checked at capture
// start, not here.
func (o *Orchestrator) SetSaveDirectory(dir string) {
	o.saveDir = dir
}

func (o *Orchestrator) NumFrames() int         { return o.numFrames }
func (o *Orchestrator) InteractionNumber() int { return o.interactionNum }
func (o *Orchestrator) CountdownSeconds() int  { return o.countdownSeconds }
func (o *Orchestrator) CountdownEnabled() bool { return o.countdownEnabled }
func (o *Orchestrator) SaveDirectory() string  { return o.saveDir }

// StartCapture begins a capture cycle. A multi-frame capture records into
// saveDir/interaction_NNNN, created on demand; a single still goes
// directly into saveDir. Returns ErrSaveDirUnavailable (wrapped) if the
// target cannot be resolved. Calling while a cycle is already running has
// no effect beyond the first call.
func (o *Orchestrator) StartCapture() error {
	if !o.machine.Is(stateIdle) {
		return nil
	}
	if o.resetTask != nil {
		o.resetTask.Cancel()
		o.resetTask = nil
	}

	target, err := o.resolveTarget()
	if err != nil {
		o.presenter.ShowStatus(StatusSaveDirMissing)
		o.resetTask = o.loop.PostDelayed(o.settle, func() {
			o.resetTask = nil
			o.presenter.ShowStatus(StatusReady)
		})
		return fmt.Errorf("%w: %v", ErrSaveDirUnavailable, err)
	}
	o.target = target
	o.framesWritten = 0
	o.presenter.SetControlsEnabled(false)

	if o.countdownEnabled && o.countdownSeconds > 0 {
		o.remaining = o.countdownSeconds
		o.machine.Event("start")
		o.presenter.ShowStatus(fmt.Sprintf("Capturing in %d seconds...", o.remaining))
		o.countdownTask = o.loop.PostDelayed(o.tick, o.countdownTick)
	} else {
		o.machine.Event("begin")
	}
	return nil
}

// resolveTarget picks and, for multi-frame captures, creates the directory
// frames are written into.
func (o *Orchestrator) resolveTarget() (string, error) {
	if o.numFrames > 1 {
		dir := filepath.Join(o.saveDir, fmt.Sprintf("interaction_%04d", o.interactionNum))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("creating interaction dir %q: %v", dir, err)
		}
		return dir, nil
	}
	// A single still does not warrant an interaction folder.
	if err := os.MkdirAll(o.saveDir, 0755); err != nil {
		return "", fmt.Errorf("creating save dir %q: %v", o.saveDir, err)
	}
	return o.saveDir, nil
}

func (o *Orchestrator) countdownTick() {
	if !o.machine.Is(stateCountdown) {
		return
	}
	o.remaining--
	if o.remaining <= 0 {
		o.countdownTask = nil
		o.machine.Event("begin")
		return
	}
	o.presenter.ShowStatus(fmt.Sprintf("Capturing in %d seconds...", o.remaining))
	o.countdownTask = o.loop.PostDelayed(o.tick, o.countdownTick)
}

// OnFrame receives one live-view frame. While capturing it writes the
// frame and advances the sequence; in any other state it is ignored. A
// failed write is reported and the sequence continues, so the final file
// count can come up short by the failed frames.
func (o *Orchestrator) OnFrame(img image.Image) {
	if !o.machine.Is(stateCapturing) {
		return
	}
	o.framesWritten++

	var name string
	if o.numFrames > 1 {
		name = fmt.Sprintf("frame_%04d.jpg", o.framesWritten)
	} else {
		name = fmt.Sprintf("interaction_%04d.jpg", o.interactionNum)
	}
	path := filepath.Join(o.target, name)
	if err := imaging.Save(img, path); err != nil {
		log.Printf("writing frame %s: %v", path, err)
	}
	o.presenter.ShowStatus(fmt.Sprintf("Capturing frame %d/%d", o.framesWritten, o.numFrames))

	if o.framesWritten >= o.numFrames {
		o.machine.Event("finish")
	}
}

// complete runs on entering the completing state. This is the only point
// the interaction counter advances: exactly once per completed capture,
// never on abort.
func (o *Orchestrator) complete() {
	if o.interactionNum < MaxInteractionNumber {
		o.interactionNum++
	}
	o.presenter.ShowStatus(StatusComplete)
	o.settleTask = o.loop.PostDelayed(o.settle, func() {
		o.settleTask = nil
		o.machine.Event("settle")
	})
}

// ready runs on settling back to idle after a completed capture.
func (o *Orchestrator) ready() {
	o.target = ""
	o.framesWritten = 0
	o.presenter.ShowStatus(StatusReady)
	o.presenter.SetControlsEnabled(true)
}

// Abort force-resets to idle after a device loss. The partial session is
// discarded, pending countdown and settle callbacks are canceled, the
// interaction counter stays put and no completion status is emitted.
func (o *Orchestrator) Abort() {
	for _, t := range []*Task{o.countdownTask, o.settleTask, o.resetTask} {
		if t != nil {
			t.Cancel()
		}
	}
	o.countdownTask, o.settleTask, o.resetTask = nil, nil, nil
	o.target = ""
	o.framesWritten = 0
	o.machine.SetState(stateIdle)
}
