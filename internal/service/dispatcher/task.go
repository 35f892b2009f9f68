package dispatcher

import (
	"context"
	"sync"
	"time"

	"objectdetection/internal/model"
)

// task is one resolution's unit of work. State only moves forward; the first
// terminal transition wins and later ones are ignored.
type task struct {
	resolution model.Resolution
	seq        uint64
	input      []byte
	req        *model.FrameRequest

	ctx      context.Context
	cancel   context.CancelFunc
	deadline time.Time
	gate     *gate
	notify   chan<- struct{}

	mu     sync.Mutex
	state  model.TaskState
	result *model.DetectionResult
	err    *model.Error
}

func newTask(res model.Resolution, req *model.FrameRequest, g *gate, notify chan<- struct{}) *task {
	return &task{
		resolution: res,
		req:        req,
		gate:       g,
		notify:     notify,
		state:      model.TaskPending,
		cancel:     func() {},
	}
}

// start moves a pending task to running. It fails when the task was already
// abandoned, in which case the worker must skip it.
func (t *task) start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != model.TaskPending {
		return false
	}
	t.state = model.TaskRunning
	return true
}

// finish records a terminal state. It reports whether this call made the transition.
func (t *task) finish(state model.TaskState, result *model.DetectionResult, err *model.Error) bool {
	t.mu.Lock()
	if !t.state.CanTransition(state) || !state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = state
	t.result = result
	t.err = err
	t.mu.Unlock()

	if t.notify != nil {
		select {
		case t.notify <- struct{}{}:
		default:
		}
	}
	return true
}

func (t *task) State() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *task) outcome() model.ResolutionOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return model.ResolutionOutcome{
		Resolution: t.resolution,
		Sequence:   t.seq,
		State:      t.state,
		Result:     t.result,
		Err:        t.err,
	}
}

// gate guards every write a task makes to shared state. Once closed, results
// that arrive late are dropped.
type gate struct {
	mu     sync.RWMutex
	closed bool
}

// run calls fn unless the gate is closed. close waits for running calls.
func (g *gate) run(fn func()) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	fn()
	return true
}

func (g *gate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
