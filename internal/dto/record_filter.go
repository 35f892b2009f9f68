// RecordFilter describes user-provided filters to narrow the frame record list.
package dto

import (
	"time"

	"objectdetection/internal/model"
)

type RecordFilter struct {
	Topic      string
	Resolution string
	Object     string
	After      time.Time
	Before     time.Time
	Limit      int
	Offset     int
}

// RecordPage is one page of the record listing.
type RecordPage struct {
	Records    []RecordView `json:"records"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
	Total      int          `json:"total"`
	TotalPages int          `json:"total_pages"`
	Topics     []string     `json:"topics,omitempty"`
	Objects    []string     `json:"objects,omitempty"`
}

// RecordView is a frame record with its detections.
type RecordView struct {
	model.FrameRecord
	Detections []model.DetectionRecord `json:"detections"`
}

// StoreStats summarises what the record store holds.
type StoreStats struct {
	TotalFrames    int            `json:"total_frames"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	PerTopic       map[string]int `json:"per_topic"`
	PerResolution  map[string]int `json:"per_resolution"`
	ObjectCounts   map[string]int `json:"object_counts"`
}
