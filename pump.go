package digitcap

import (
	"log"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tactilesense/digitcap/digit"
)

// PumpOpts are options for a live-view pump.
type PumpOpts struct {
	// PreviewWidth and PreviewHeight downscale frames before they reach
	// the presenter. Zero disables the downscale; captured frames are
	// always written at full resolution either way.
	PreviewWidth  int
	PreviewHeight int

	Verbose bool
}

// Pump is the live-view scheduler: one repeating delayed task on the Loop
// pulling a frame per tick at an interval derived from the active stream's
// frame rate. Captured frames are handed to the orchestrator before the
// presenter sees them, so a dropped render never drops a captured frame. A
// failed pull stops the pump for good and escalates to DeviceLost; the
// device is not hot-pluggable, so there is no retry.
type Pump struct {
	loop      *Loop
	session   digit.Session
	orch      *Orchestrator
	presenter Presenter
	opts      PumpOpts

	interval time.Duration
	running  bool
	task     *Task
}

// NewPump returns a stopped pump. The interval starts out matched to the
// session's current stream.
func NewPump(loop *Loop, session digit.Session, orch *Orchestrator, presenter Presenter, opts *PumpOpts) *Pump {
	p := &Pump{
		loop:      loop,
		session:   session,
		orch:      orch,
		presenter: presenter,
	}
	if opts != nil {
		p.opts = *opts
	}
	fps := 30
	if opt, err := session.Capabilities().Streams.At(session.StreamIndex()); err == nil {
		fps = opt.FPS
	}
	p.SetFrameRate(fps)
	return p
}

// SetFrameRate recomputes the tick interval as 1000ms/fps, integer
// division. Call it whenever the stream changes; the new interval applies
// from the next tick.
func (p *Pump) SetFrameRate(fps int) {
	if fps <= 0 {
		return
	}
	p.interval = time.Duration(1000/fps) * time.Millisecond
}

// Interval returns the current tick interval.
func (p *Pump) Interval() time.Duration {
	return p.interval
}

// Running reports whether the pump is ticking.
func (p *Pump) Running() bool {
	return p.running
}

// Start begins ticking. Idempotent.
func (p *Pump) Start() {
	if p.running {
		return
	}
	p.running = true
	p.task = p.loop.PostDelayed(p.interval, p.tick)
}

// Stop cancels the pending tick. Idempotent.
func (p *Pump) Stop() {
	if !p.running {
		return
	}
	p.running = false
	if p.task != nil {
		p.task.Cancel()
		p.task = nil
	}
}

func (p *Pump) tick() {
	if !p.running {
		return
	}
	img, err := p.session.PullFrame()
	if err != nil {
		log.Printf("live view, pulling frame: %v", err)
		p.Stop()
		p.orch.Abort()
		p.presenter.DeviceLost()
		return
	}

	// Capture first, render second.
	p.orch.OnFrame(img)

	if p.opts.PreviewWidth > 0 && p.opts.PreviewHeight > 0 {
		img = imaging.Resize(img, p.opts.PreviewWidth, p.opts.PreviewHeight, imaging.NearestNeighbor)
	}
	p.presenter.ShowFrame(img)

	p.task = p.loop.PostDelayed(p.interval, p.tick)
}
