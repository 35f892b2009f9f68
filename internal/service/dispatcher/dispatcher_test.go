package dispatcher

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/indexer"
)

// widths give each resolution a distinguishable test frame.
var widths = map[model.Resolution]int{
	model.ResolutionLow:    4,
	model.ResolutionMedium: 8,
	model.ResolutionHigh:   16,
}

func frame(t *testing.T, res model.Resolution) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, widths[res], widths[res]))))
	return buf.Bytes()
}

func resolutionOf(img []byte) model.Resolution {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return ""
	}
	for res, w := range widths {
		if w == cfg.Width {
			return res
		}
	}
	return ""
}

type fakeInferencer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, res model.Resolution) ([]model.Detection, error)
}

func (f *fakeInferencer) Infer(ctx context.Context, img []byte) ([]model.Detection, []byte, error) {
	f.calls.Add(1)
	var dets []model.Detection
	if f.fn != nil {
		var err error
		dets, err = f.fn(ctx, resolutionOf(img))
		if err != nil {
			return nil, nil, err
		}
	}
	return dets, []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*model.DetectionResult
	seqs      []uint64
}

func (p *recordingPublisher) Publish(result *model.DetectionResult, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, result)
	p.seqs = append(p.seqs, seq)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func (p *recordingPublisher) has(res model.Resolution) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.published {
		if r.Resolution == res {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T, inf Inferencer, pub Publisher, workers int, taskTimeout, requestTimeout time.Duration) *Dispatcher {
	t.Helper()
	cfg := &config.Config{
		ProcessingWorkers: workers,
		QueueSize:         16,
		TaskTimeout:       taskTimeout,
		RequestTimeout:    requestTimeout,
	}
	d := NewDispatcher(inf, indexer.New("test"), pub, cfg, logger.NewNop())
	t.Cleanup(d.Stop)
	return d
}

func fullRequest(t *testing.T) *model.FrameRequest {
	t.Helper()
	req := &model.FrameRequest{
		CorrelationID: "req-1",
		Topic:         "cam",
		Frames:        make(map[model.Resolution][]byte),
		DecodeErrors:  make(map[model.Resolution]*model.Error),
		ReceivedAt:    time.Now(),
	}
	for _, res := range model.Resolutions {
		req.Frames[res] = frame(t, res)
	}
	return req
}

func TestDispatch_AllResolutionsSucceed(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		return []model.Detection{{Class: "person", ClassID: 1, Confidence: 0.9}}, nil
	}}
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, inf, pub, 3, time.Second, 2*time.Second)

	outcome := d.Dispatch(context.Background(), fullRequest(t))

	require.Len(t, outcome.Results, 3)
	names := make(map[string]bool)
	for i, r := range outcome.Results {
		assert.Equal(t, model.Resolutions[i], r.Resolution)
		require.Equal(t, model.TaskSucceeded, r.State, r.Resolution)
		assert.Nil(t, r.Err)
		assert.Equal(t, 1, r.Result.DetectionCount())
		assert.Equal(t, widths[r.Resolution], r.Result.Width)
		assert.Equal(t, "cam", r.Result.Topic)
		names[r.Result.IndexedFilename] = true
	}
	assert.Len(t, names, 3)
	assert.Equal(t, 3, outcome.Succeeded())
	assert.Equal(t, 3, pub.count())
}

func TestDispatch_CorruptFrameIsIsolated(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, &fakeInferencer{}, pub, 3, time.Second, 2*time.Second)

	req := fullRequest(t)
	delete(req.Frames, model.ResolutionMedium)
	req.DecodeErrors[model.ResolutionMedium] = model.NewError(model.CodeDecode, model.ResolutionMedium, "invalid base64 payload")

	outcome := d.Dispatch(context.Background(), req)

	assert.Equal(t, model.TaskSucceeded, outcome.Results[0].State)
	assert.Equal(t, model.TaskFailed, outcome.Results[1].State)
	assert.Equal(t, model.CodeDecode, outcome.Results[1].Err.Code)
	assert.Equal(t, model.TaskSucceeded, outcome.Results[2].State)
	assert.Equal(t, 2, pub.count())
}

func TestDispatch_MissingResolutionIsReported(t *testing.T) {
	d := newTestDispatcher(t, &fakeInferencer{}, &recordingPublisher{}, 3, time.Second, 2*time.Second)

	req := fullRequest(t)
	delete(req.Frames, model.ResolutionHigh)

	outcome := d.Dispatch(context.Background(), req)
	require.Len(t, outcome.Results, 3)
	assert.Equal(t, model.TaskFailed, outcome.Results[2].State)
	assert.Equal(t, model.CodeMissingField, outcome.Results[2].Err.Code)
	assert.Zero(t, outcome.Results[2].Sequence)
}

func TestDispatch_UndecodableFrameFailsValidation(t *testing.T) {
	inf := &fakeInferencer{}
	d := newTestDispatcher(t, inf, &recordingPublisher{}, 3, time.Second, 2*time.Second)

	req := fullRequest(t)
	req.Frames[model.ResolutionLow] = []byte("\x89PNG\r\n\x1a\ntruncated")

	outcome := d.Dispatch(context.Background(), req)
	assert.Equal(t, model.TaskFailed, outcome.Results[0].State)
	assert.Equal(t, model.CodeDecode, outcome.Results[0].Err.Code)
	assert.Equal(t, model.ResolutionLow, outcome.Results[0].Err.Resolution)
	assert.Equal(t, int32(2), inf.calls.Load())
}

func TestDispatch_InferenceErrorIsIsolated(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		if res == model.ResolutionLow {
			return nil, model.NewError(model.CodeInference, "", "engine exploded")
		}
		return nil, nil
	}}
	d := newTestDispatcher(t, inf, &recordingPublisher{}, 3, time.Second, 2*time.Second)

	outcome := d.Dispatch(context.Background(), fullRequest(t))
	assert.Equal(t, model.CodeInference, outcome.Results[0].Err.Code)
	assert.Equal(t, "engine exploded", outcome.Results[0].Err.Message)
	assert.Equal(t, 2, outcome.Succeeded())
}

func TestDispatch_StragglerTimesOutAndNeverPublishes(t *testing.T) {
	release := make(chan struct{})
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		if res == model.ResolutionHigh {
			<-release
		}
		return nil, nil
	}}
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, inf, pub, 3, 50*time.Millisecond, 2*time.Second)

	start := time.Now()
	outcome := d.Dispatch(context.Background(), fullRequest(t))
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, model.TaskSucceeded, outcome.Results[0].State)
	assert.Equal(t, model.TaskSucceeded, outcome.Results[1].State)
	assert.Equal(t, model.TaskTimedOut, outcome.Results[2].State)
	assert.Equal(t, model.CodeTimeout, outcome.Results[2].Err.Code)

	close(release)
	require.Eventually(t, func() bool { return d.Stats().Discarded == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, pub.count())
	assert.False(t, pub.has(model.ResolutionHigh))
}

func TestDispatch_AggregateDeadline(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		time.Sleep(300 * time.Millisecond)
		return nil, nil
	}}
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, inf, pub, 3, 5*time.Second, 50*time.Millisecond)

	start := time.Now()
	outcome := d.Dispatch(context.Background(), fullRequest(t))
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	for _, r := range outcome.Results {
		assert.Equal(t, model.TaskTimedOut, r.State, r.Resolution)
	}
	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, pub.count())
}

func TestDispatch_CallerCancellation(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		<-ctx.Done()
		return nil, model.WrapError(model.CodeTimeout, "", ctx.Err())
	}}
	d := newTestDispatcher(t, inf, &recordingPublisher{}, 3, 5*time.Second, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	outcome := d.Dispatch(ctx, fullRequest(t))
	for _, r := range outcome.Results {
		assert.Equal(t, model.TaskTimedOut, r.State)
		assert.Equal(t, model.CodeTimeout, r.Err.Code)
	}
}

func TestDispatch_PanicBecomesFailed(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		if res == model.ResolutionMedium {
			panic("nil map write")
		}
		return nil, nil
	}}
	d := newTestDispatcher(t, inf, &recordingPublisher{}, 3, time.Second, 2*time.Second)

	outcome := d.Dispatch(context.Background(), fullRequest(t))
	assert.Equal(t, model.TaskFailed, outcome.Results[1].State)
	assert.Equal(t, model.CodeInternal, outcome.Results[1].Err.Code)
	assert.Equal(t, 2, outcome.Succeeded())

	// the worker survived
	outcome = d.Dispatch(context.Background(), fullRequest(t))
	assert.Equal(t, 2, outcome.Succeeded())
}

func TestDispatch_SequencesIncreasePerResolution(t *testing.T) {
	pub := &recordingPublisher{}
	d := newTestDispatcher(t, &fakeInferencer{}, pub, 3, time.Second, 2*time.Second)

	first := d.Dispatch(context.Background(), fullRequest(t))
	second := d.Dispatch(context.Background(), fullRequest(t))

	for i := range model.Resolutions {
		assert.Equal(t, uint64(1), first.Results[i].Sequence)
		assert.Equal(t, uint64(2), second.Results[i].Sequence)
	}
}

func TestDispatch_AbandonedTaskIsSkipped(t *testing.T) {
	inf := &fakeInferencer{fn: func(ctx context.Context, res model.Resolution) ([]model.Detection, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	}}
	d := newTestDispatcher(t, inf, &recordingPublisher{}, 1, 50*time.Millisecond, time.Second)

	outcome := d.Dispatch(context.Background(), fullRequest(t))
	for _, r := range outcome.Results {
		assert.Equal(t, model.TaskTimedOut, r.State)
	}

	// the single worker is busy with low; medium and high are skipped when dequeued
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), inf.calls.Load())
}

func TestTask_TransitionsAreOneWay(t *testing.T) {
	tk := newTask(model.ResolutionLow, &model.FrameRequest{}, &gate{}, nil)

	assert.True(t, tk.start())
	assert.False(t, tk.start())
	assert.True(t, tk.finish(model.TaskTimedOut, nil, model.NewError(model.CodeTimeout, model.ResolutionLow, "late")))
	assert.False(t, tk.finish(model.TaskSucceeded, &model.DetectionResult{}, nil))
	assert.Equal(t, model.TaskTimedOut, tk.State())
	assert.Nil(t, tk.outcome().Result)
}

func TestGate_ClosedRejectsWrites(t *testing.T) {
	g := &gate{}
	ran := 0
	assert.True(t, g.run(func() { ran++ }))
	g.close()
	assert.False(t, g.run(func() { ran++ }))
	assert.Equal(t, 1, ran)
}
