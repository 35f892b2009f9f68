package model

import "time"

// FrameRecord is a persisted annotated frame.
type FrameRecord struct {
	ID             int64     `json:"id"`
	Filename       string    `json:"filename"`
	Resolution     string    `json:"resolution"`
	Topic          string    `json:"topic"`
	CorrelationID  string    `json:"correlation_id"`
	Sequence       uint64    `json:"sequence"`
	DetectionCount int       `json:"detection_count"`
	Timestamp      time.Time `json:"timestamp"`
	FilePath       string    `json:"filepath"`
	FileSize       int64     `json:"filesize"`
}

// DetectionRecord is a persisted detection belonging to a FrameRecord.
type DetectionRecord struct {
	ID         int64   `json:"id"`
	FrameID    int64   `json:"frame_id"`
	ObjectName string  `json:"object_name"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}
