package digitcap

import (
	"sync"
	"time"
)

// Loop is a single-threaded cooperative scheduler. Posted functions run in
// order on one goroutine; delayed tasks are cancellable so a disconnect or
// shutdown cannot leave stale transitions firing afterwards. The pump
// tick, countdown tick and settle delay all go through here, as do
// operator commands, which is what lets the rest of the core stay free of
// locks.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}

// Post queues fn to run on the loop. After Close it is a no-op.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Task is a pending delayed callback.
type Task struct {
	mu       sync.Mutex
	timer    *time.Timer
	canceled bool
}

// Cancel stops the task. Safe to call more than once, and after the task
// already ran. A canceled task never runs, even if its timer had already
// fired and queued it on the loop.
func (t *Task) Cancel() {
	t.mu.Lock()
	t.canceled = true
	t.mu.Unlock()
	t.timer.Stop()
}

func (t *Task) run(fn func()) {
	t.mu.Lock()
	canceled := t.canceled
	t.mu.Unlock()
	if !canceled {
		fn()
	}
}

// PostDelayed queues fn to run on the loop after d. The returned task can
// be canceled up until the moment fn actually starts.
func (l *Loop) PostDelayed(d time.Duration, fn func()) *Task {
	t := &Task{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() { t.run(fn) })
	})
	return t
}

// Sync posts a no-op and waits for it, so everything queued before the
// call has run. Useful for orderly shutdown and in tests.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.Post(func() { close(ch) })
	select {
	case <-ch:
	case <-l.done:
	}
}

// Close drains the tasks already queued, then stops the loop. Delayed
// tasks that have not fired yet are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.cond.Signal()
	l.mu.Unlock()
	<-l.done
}
