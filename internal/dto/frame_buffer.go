package dto

import "objectdetection/internal/model"

// BufferedFrame holds an annotated frame and its detections before flushing to disk.
type BufferedFrame struct {
	Result   *model.DetectionResult
	Sequence uint64
}
