// Package dispatcher fans a FrameRequest out into one inference task per
// resolution on a fixed worker pool and collects the outcomes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/ai"
)

// Inferencer runs detection on one encoded image.
type Inferencer interface {
	Infer(ctx context.Context, image []byte) ([]model.Detection, []byte, error)
}

// Namer issues artifact names.
type Namer interface {
	Next(res model.Resolution) string
}

// Publisher receives every accepted result. It is called at most once per
// task and never after the request's Dispatch call returned, so it must not
// block for long.
type Publisher interface {
	Publish(result *model.DetectionResult, seq uint64)
}

// Dispatcher owns the worker pool. Workers live for the whole process and
// are shared by all requests.
type Dispatcher struct {
	detector  Inferencer
	namer     Namer
	publisher Publisher
	logger    *logger.Logger

	queue          chan *task
	quit           chan struct{}
	numWorkers     int
	taskTimeout    time.Duration
	requestTimeout time.Duration

	sequences map[model.Resolution]*atomic.Uint64
	now       func() time.Time

	stopOnce sync.Once
	wg       sync.WaitGroup

	dispatched atomic.Uint64
	timedOut   atomic.Uint64
	discarded  atomic.Uint64
}

// NewDispatcher starts the worker pool.
func NewDispatcher(detector Inferencer, namer Namer, publisher Publisher, config *config.Config, logger *logger.Logger) *Dispatcher {
	workers := config.ProcessingWorkers
	if workers < 1 {
		workers = 1
	}
	queueSize := config.QueueSize
	if queueSize < len(model.Resolutions) {
		queueSize = len(model.Resolutions)
	}

	d := &Dispatcher{
		detector:       detector,
		namer:          namer,
		publisher:      publisher,
		logger:         logger,
		queue:          make(chan *task, queueSize),
		quit:           make(chan struct{}),
		numWorkers:     workers,
		taskTimeout:    config.TaskTimeout,
		requestTimeout: config.RequestTimeout,
		sequences:      make(map[model.Resolution]*atomic.Uint64, len(model.Resolutions)),
		now:            time.Now,
	}
	for _, res := range model.Resolutions {
		d.sequences[res] = new(atomic.Uint64)
	}

	for i := 0; i < d.numWorkers; i++ {
		d.wg.Add(1)
		go d.processingWorker(i)
	}

	d.logger.Info("Dispatcher started with %d worker(s), task timeout %s, request timeout %s", d.numWorkers, d.taskTimeout, d.requestTimeout)
	return d
}

// Dispatch runs every resolution of req and blocks until each one is terminal
// or the request deadline passes. The returned outcome always has one entry
// per resolution. After Dispatch returns, no task of this request touches
// shared state.
func (d *Dispatcher) Dispatch(ctx context.Context, req *model.FrameRequest) *model.Outcome {
	start := d.now()
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, start.Add(d.requestTimeout))
		defer cancel()
	}

	g := &gate{}
	notify := make(chan struct{}, len(model.Resolutions))
	tasks := make([]*task, 0, len(model.Resolutions))

	for _, res := range model.Resolutions {
		t := newTask(res, req, g, notify)
		tasks = append(tasks, t)

		frame, derr := req.Frame(res)
		if derr != nil {
			t.finish(model.TaskFailed, nil, derr)
			continue
		}
		t.input = frame
		t.seq = d.sequences[res].Add(1)
	}

	for _, t := range tasks {
		if t.State().Terminal() {
			continue
		}
		d.submit(ctx, t)
	}

	d.wait(ctx, tasks, notify)
	g.close()

	outcome := &model.Outcome{
		CorrelationID:     req.CorrelationID,
		Topic:             req.Topic,
		IncludeDetections: req.IncludeDetections,
		Results:           make([]model.ResolutionOutcome, 0, len(tasks)),
		StartedAt:         start,
	}
	for _, t := range tasks {
		t.cancel()
		outcome.Results = append(outcome.Results, t.outcome())
	}
	outcome.Elapsed = d.now().Sub(start)
	d.dispatched.Add(1)
	return outcome
}

// submit queues t with a deadline counted from now. A queue that stays full
// past the deadline times the task out.
func (d *Dispatcher) submit(ctx context.Context, t *task) {
	t.deadline = d.now().Add(d.taskTimeout)
	if d.taskTimeout <= 0 {
		t.ctx, t.cancel = context.WithCancel(ctx)
	} else {
		t.ctx, t.cancel = context.WithDeadline(ctx, t.deadline)
	}

	select {
	case d.queue <- t:
	case <-t.ctx.Done():
		t.finish(model.TaskTimedOut, nil, model.NewError(model.CodeTimeout, t.resolution, "task queue full until deadline"))
	case <-d.quit:
		t.finish(model.TaskFailed, nil, model.NewError(model.CodeInternal, t.resolution, "dispatcher stopped"))
	}
}

// wait blocks until every task is terminal. Tasks past their own deadline are
// timed out individually; the request context ends the wait for all of them.
func (d *Dispatcher) wait(ctx context.Context, tasks []*task, notify <-chan struct{}) {
	for {
		now := d.now()
		pending := 0
		var next time.Time
		for _, t := range tasks {
			if t.State().Terminal() {
				continue
			}
			if d.taskTimeout > 0 && !now.Before(t.deadline) {
				d.timeout(t, "exceeded task timeout of %s", d.taskTimeout)
				continue
			}
			pending++
			if d.taskTimeout > 0 && (next.IsZero() || t.deadline.Before(next)) {
				next = t.deadline
			}
		}
		if pending == 0 {
			return
		}

		var (
			timer <-chan time.Time
			tm    *time.Timer
		)
		if !next.IsZero() {
			tm = time.NewTimer(next.Sub(now))
			timer = tm.C
		}

		select {
		case <-notify:
		case <-timer:
		case <-ctx.Done():
			reason := "request deadline exceeded"
			if ctx.Err() == context.Canceled {
				reason = "request cancelled"
			}
			for _, t := range tasks {
				d.timeout(t, "%s", reason)
			}
			return
		case <-d.quit:
			for _, t := range tasks {
				t.finish(model.TaskFailed, nil, model.NewError(model.CodeInternal, t.resolution, "dispatcher stopped"))
			}
			return
		}
		if tm != nil {
			tm.Stop()
		}
	}
}

func (d *Dispatcher) timeout(t *task, format string, args ...interface{}) {
	if t.finish(model.TaskTimedOut, nil, model.NewError(model.CodeTimeout, t.resolution, format, args...)) {
		d.timedOut.Add(1)
		t.cancel()
		d.logger.Warning("Task %s/%s #%d timed out: %s", t.req.CorrelationID, t.resolution, t.seq, fmt.Sprintf(format, args...))
	}
}

// processingWorker runs queued tasks until Stop.
func (d *Dispatcher) processingWorker(workerID int) {
	defer d.wg.Done()

	d.logger.Info("Processing worker %d started", workerID)
	for {
		select {
		case t := <-d.queue:
			d.run(t, workerID)
		case <-d.quit:
			d.logger.Info("Processing worker %d stopped", workerID)
			return
		}
	}
}

func (d *Dispatcher) run(t *task, workerID int) {
	if !t.start() {
		d.logger.Info("Worker %d skipping abandoned task %s/%s", workerID, t.req.CorrelationID, t.resolution)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Worker %d panic on %s/%s: %v\n%s", workerID, t.req.CorrelationID, t.resolution, r, debug.Stack())
			t.finish(model.TaskFailed, nil, model.NewError(model.CodeInternal, t.resolution, "task panic: %v", r))
		}
	}()

	result, err := d.execute(t)
	if err != nil {
		state := model.TaskFailed
		if err.Code == model.CodeTimeout && t.ctx.Err() != nil {
			state = model.TaskTimedOut
		}
		if t.finish(state, nil, err) {
			d.logger.Warning("Task %s/%s failed: %v", t.req.CorrelationID, t.resolution, err)
		}
		return
	}

	published := t.gate.run(func() {
		if t.finish(model.TaskSucceeded, result, nil) {
			d.publisher.Publish(result, t.seq)
			return
		}
		d.discard(t)
	})
	if !published {
		d.discard(t)
	}
}

func (d *Dispatcher) discard(t *task) {
	d.discarded.Add(1)
	d.logger.Info("Discarding late result for %s/%s #%d", t.req.CorrelationID, t.resolution, t.seq)
}

// execute validates the frame and runs inference on it.
func (d *Dispatcher) execute(t *task) (*model.DetectionResult, *model.Error) {
	start := d.now()

	info, err := ai.Validate(t.input)
	if err != nil {
		return nil, scoped(err, t.resolution)
	}

	detections, annotated, err := d.detector.Infer(t.ctx, t.input)
	if err != nil {
		return nil, scoped(err, t.resolution)
	}

	return &model.DetectionResult{
		Resolution:      t.resolution,
		Detections:      detections,
		AnnotatedImage:  annotated,
		IndexedFilename: d.namer.Next(t.resolution),
		ProcessingTime:  d.now().Sub(start),
		Width:           info.Width,
		Height:          info.Height,
		Topic:           t.req.Topic,
		CorrelationID:   t.req.CorrelationID,
		ProducedAt:      d.now(),
	}, nil
}

// scoped classifies err and tags it with the resolution.
func scoped(err error, res model.Resolution) *model.Error {
	e := model.WrapError(model.CodeOf(err), res, err)
	var me *model.Error
	if errors.As(err, &me) {
		e.Message = me.Message
		if e.Message == "" && me.Err != nil {
			e.Message = me.Err.Error()
		}
	}
	return e
}

// Stats reports counters for the info endpoint.
type Stats struct {
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	Dispatched uint64 `json:"dispatched"`
	TimedOut   uint64 `json:"timed_out"`
	Discarded  uint64 `json:"discarded"`
}

// Stats returns a snapshot of the worker pool counters. Safe to call concurrently with Dispatch.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:    d.numWorkers,
		Queued:     len(d.queue),
		Dispatched: d.dispatched.Load(),
		TimedOut:   d.timedOut.Load(),
		Discarded:  d.discarded.Load(),
	}
}

// Stop ends the workers. Requests still waiting fail with Internal.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		d.wg.Wait()
		d.logger.Info("All processing workers stopped")
	})
}
