package model

import "time"

// BoundingBox is a detection rectangle in pixel coordinates of the source frame.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width of the box in pixels.
func (b BoundingBox) Width() float64 {
	return b.X2 - b.X1
}

// Height of the box in pixels.
func (b BoundingBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Detection is one object found by the engine.
type Detection struct {
	Class      string      `json:"class"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is the immutable outcome of one resolution's inference.
// It is shared read-only by the response, the frame cache, the forwarder and
// the persistence buffer; none of them may modify it.
type DetectionResult struct {
	Resolution      Resolution
	Detections      []Detection
	AnnotatedImage  []byte
	IndexedFilename string
	ProcessingTime  time.Duration
	Width           int
	Height          int
	Topic           string
	CorrelationID   string
	ProducedAt      time.Time
}

// DetectionCount returns the number of detections.
func (r *DetectionResult) DetectionCount() int {
	return len(r.Detections)
}

// Labels returns the distinct class labels in detection order.
func (r *DetectionResult) Labels() []string {
	seen := make(map[string]bool, len(r.Detections))
	labels := make([]string, 0, len(r.Detections))
	for _, d := range r.Detections {
		if seen[d.Class] {
			continue
		}
		seen[d.Class] = true
		labels = append(labels, d.Class)
	}
	return labels
}
