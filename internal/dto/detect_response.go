package dto

import "objectdetection/internal/model"

// DetectResponse is the body of the multi-resolution detect endpoint.
type DetectResponse struct {
	Success          bool          `json:"success"`
	CorrelationID    string        `json:"correlation_id"`
	SourceTopic      string        `json:"source_topic"`
	Results          []ResultEntry `json:"results"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
	Timestamp        string        `json:"timestamp"`
	Error            *ErrorBody    `json:"error,omitempty"`
}

// ResultEntry reports one resolution. Fields that only make sense for a
// successful resolution are null otherwise, and Error is null on success.
type ResultEntry struct {
	Resolution       string            `json:"resolution"`
	IndexedFilename  *string           `json:"indexed_filename"`
	DetectionCount   *int              `json:"detection_count"`
	Error            *string           `json:"error"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Sequence         uint64            `json:"sequence,omitempty"`
	ProcessingTimeMs *float64          `json:"processing_time_ms,omitempty"`
	Detections       []model.Detection `json:"detections,omitempty"`
}

// ErrorBody is the structured error attached to failed responses.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SingleDetectResponse is the body of the single-image detect endpoints.
type SingleDetectResponse struct {
	Success         bool              `json:"success"`
	Timestamp       string            `json:"timestamp"`
	ImageDimensions *Dimensions       `json:"image_dimensions,omitempty"`
	DetectionCount  int               `json:"detection_count"`
	Detections      []model.Detection `json:"detections"`
	AnnotatedImage  string            `json:"annotated_image,omitempty"`
	ModelInfo       *ModelSummary     `json:"model_info,omitempty"`
	Error           *ErrorBody        `json:"error,omitempty"`
}

// Dimensions of a decoded frame.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ModelSummary is the short model description embedded in detect responses.
type ModelSummary struct {
	Model               string  `json:"model"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IOUThreshold        float64 `json:"iou_threshold"`
}

// BatchDetectResponse is the body of the single-image batch endpoints.
type BatchDetectResponse struct {
	Success     bool               `json:"success"`
	Timestamp   string             `json:"timestamp"`
	TotalImages int                `json:"total_images"`
	Results     []BatchImageResult `json:"results"`
}

// BatchImageResult reports one image of a batch. Multipart batches identify
// images by index and file name, JSON batches by id.
type BatchImageResult struct {
	FileIndex      *int              `json:"file_index,omitempty"`
	Filename       string            `json:"filename,omitempty"`
	ID             string            `json:"id,omitempty"`
	Success        bool              `json:"success"`
	DetectionCount int               `json:"detection_count"`
	Detections     []model.Detection `json:"detections,omitempty"`
	Error          string            `json:"error,omitempty"`
}
