// Package forwarder republishes accepted detection results to a downstream
// sink without ever blocking the request path.
package forwarder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

// Forwarder owns a bounded queue drained by background workers. A full
// queue drops the message.
type Forwarder struct {
	sink       Sink
	logger     *logger.Logger
	queue      chan *Message
	numWorkers int
	maxRetries int
	timeout    time.Duration

	// initialInterval and maxInterval shape the retry backoff.
	initialInterval time.Duration
	maxInterval     time.Duration

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewForwarder starts the delivery workers. A nil sink disables forwarding.
func NewForwarder(sink Sink, config *config.Config, logger *logger.Logger) *Forwarder {
	queueSize := config.ForwardQueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	workers := config.ForwardWorkers
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Forwarder{
		sink:            sink,
		logger:          logger,
		queue:           make(chan *Message, queueSize),
		numWorkers:      workers,
		maxRetries:      config.ForwardMaxRetries,
		timeout:         config.ForwardTimeout,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     5 * time.Second,
		ctx:             ctx,
		cancel:          cancel,
	}

	if sink == nil {
		f.logger.Info("Downstream forwarding disabled")
		return f
	}
	for i := 0; i < f.numWorkers; i++ {
		f.wg.Add(1)
		go f.deliveryWorker(i)
	}
	f.logger.Info("Forwarder started with %d worker(s) to %s sink", f.numWorkers, sink.Name())
	return f
}

// Forward queues result for delivery and returns immediately. It reports
// whether the message was queued.
func (f *Forwarder) Forward(result *model.DetectionResult, seq uint64) bool {
	if f.sink == nil || result == nil {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}

	select {
	case f.queue <- &Message{Result: result, Sequence: seq}:
		return true
	default:
		f.dropped.Add(1)
		f.logger.Warning("Forward queue full, dropping %s frame %s", result.Resolution, result.IndexedFilename)
		return false
	}
}

func (f *Forwarder) deliveryWorker(workerID int) {
	defer f.wg.Done()

	for msg := range f.queue {
		if err := f.deliver(msg); err != nil {
			f.failed.Add(1)
			ferr := model.WrapError(model.CodeForwarding, msg.Result.Resolution, err)
			f.logger.Error("Worker %d dropping frame %s after %d attempt(s): %v", workerID, msg.Result.IndexedFilename, msg.Attempts, ferr)
			continue
		}
		f.sent.Add(1)
	}
}

// deliver sends msg with exponential backoff until it succeeds, the retry
// budget is spent, or the forwarder is aborted.
func (f *Forwarder) deliver(msg *Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = f.maxInterval

	operation := func() (struct{}, error) {
		msg.Attempts++
		ctx := f.ctx
		if f.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(f.ctx, f.timeout)
			defer cancel()
		}
		return struct{}{}, f.sink.Send(ctx, msg)
	}

	_, err := backoff.Retry(f.ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warning("Send of %s to %s failed, retrying in %s: %v", msg.Result.IndexedFilename, f.sink.Name(), next.Round(time.Millisecond), err)
		}),
	)
	return err
}

// Stats are the forwarder counters.
type Stats struct {
	Sink    string `json:"sink"`
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Stats returns a snapshot of the queue depth and delivery counters, named by sink.
func (f *Forwarder) Stats() Stats {
	name := SinkNone
	if f.sink != nil {
		name = f.sink.Name()
	}
	return Stats{
		Sink:    name,
		Queued:  len(f.queue),
		Sent:    f.sent.Load(),
		Dropped: f.dropped.Load(),
		Failed:  f.failed.Load(),
	}
}

// Stop refuses new messages and drains the queue until ctx ends; messages
// still pending then are abandoned.
func (f *Forwarder) Stop(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		f.cancel()
		<-done
		f.logger.Warning("Forwarder stopped before draining its queue")
	}
	f.cancel()

	if f.sink != nil {
		if err := f.sink.Close(); err != nil {
			f.logger.Error("Failed to close %s sink: %v", f.sink.Name(), err)
		}
	}
	f.logger.Info("Forwarder stopped: sent=%d dropped=%d failed=%d", f.sent.Load(), f.dropped.Load(), f.failed.Load())
}
