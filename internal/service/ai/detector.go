package ai

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

// Engine is the external detection model. Implementations are expensive to
// build and are not safe for concurrent use; Detector serializes every call.
type Engine interface {
	// Detect runs inference on an encoded image and returns the detections
	// together with the annotated image (JPEG).
	Detect(image []byte) ([]model.Detection, []byte, error)
	Info() ModelInfo
	Close() error
}

// ModelInfo describes the loaded model for the /info endpoint.
type ModelInfo struct {
	Name                string         `json:"model"`
	Classes             map[int]string `json:"classes"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	IOUThreshold        float64        `json:"iou_threshold"`
	MaxDetections       int            `json:"max_detections"`
}

// Detector owns the single engine instance. The guard is a one-slot
// semaphore so that a caller waiting for the engine can give up when its
// context ends; the engine call itself cannot be interrupted.
type Detector struct {
	engine Engine
	guard  chan struct{}
	logger *logger.Logger

	calls    atomic.Uint64
	failures atomic.Uint64
}

// NewDetector wraps engine behind the exclusive-access guard.
func NewDetector(engine Engine, logger *logger.Logger) *Detector {
	return &Detector{
		engine: engine,
		guard:  make(chan struct{}, 1),
		logger: logger,
	}
}

// Infer runs the engine on an already validated image. Only the engine call
// runs under the guard. Engine failures and panics come back as InferenceError;
// a context that ends while waiting for the guard comes back as TimeoutError.
func (d *Detector) Infer(ctx context.Context, image []byte) ([]model.Detection, []byte, error) {
	select {
	case d.guard <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, model.WrapError(model.CodeTimeout, "", fmt.Errorf("waiting for inference engine: %w", ctx.Err()))
	}
	defer func() { <-d.guard }()

	d.calls.Add(1)
	start := time.Now()
	detections, annotated, err := d.detect(image)
	if err != nil {
		d.failures.Add(1)
		return nil, nil, err
	}

	d.logger.Info("Inference finished in %s with %d detection(s)", time.Since(start).Round(time.Millisecond), len(detections))
	return sanitize(detections), annotated, nil
}

// detect shields the caller from engine panics.
func (d *Detector) detect(image []byte) (detections []model.Detection, annotated []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.NewError(model.CodeInference, "", "engine panic: %v", r)
		}
	}()

	detections, annotated, err = d.engine.Detect(image)
	if err != nil {
		return nil, nil, model.WrapError(model.CodeInference, "", err)
	}
	if len(annotated) == 0 {
		return nil, nil, model.NewError(model.CodeInference, "", "engine returned no annotated image")
	}
	return detections, annotated, nil
}

// Info returns the engine's model description.
func (d *Detector) Info() ModelInfo {
	return d.engine.Info()
}

// Stats returns the number of engine calls and how many of them failed.
func (d *Detector) Stats() (calls, failures uint64) {
	return d.calls.Load(), d.failures.Load()
}

// Close releases the engine.
func (d *Detector) Close() error {
	d.guard <- struct{}{}
	defer func() { <-d.guard }()
	return d.engine.Close()
}

// sanitize clamps confidences into [0,1] and drops NaN scores.
func sanitize(detections []model.Detection) []model.Detection {
	out := make([]model.Detection, 0, len(detections))
	for _, det := range detections {
		if math.IsNaN(det.Confidence) {
			continue
		}
		det.Confidence = math.Max(0, math.Min(1, det.Confidence))
		out = append(out, det)
	}
	return out
}
