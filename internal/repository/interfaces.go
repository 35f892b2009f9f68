package repository

import (
	"context"

	"objectdetection/internal/dto"
	"objectdetection/internal/model"
)

// FrameRepository defines the interface for persisted frame operations.
type FrameRepository interface {
	// Create operations
	Insert(ctx context.Context, rec *model.FrameRecord) (int64, error)

	// Read operations
	GetByID(ctx context.Context, id int64) (*model.FrameRecord, error)
	GetByFilename(ctx context.Context, filename string) (*model.FrameRecord, error)
	GetAll(ctx context.Context, filter *dto.RecordFilter) ([]model.FrameRecord, error)
	GetTotalCount(ctx context.Context, filter *dto.RecordFilter) (int, error)
	Exists(ctx context.Context, filename string) (bool, error)
	GetTopics(ctx context.Context) ([]string, error)
	GetStats(ctx context.Context) (*dto.StoreStats, error)

	// Delete operations
	DeleteByFilename(ctx context.Context, filename string) error
}

// DetectionRepository defines the interface for persisted detection operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(ctx context.Context, detections []model.DetectionRecord) error

	// Read operations
	GetByFrameID(ctx context.Context, frameID int64) ([]model.DetectionRecord, error)
	GetAllObjectNames(ctx context.Context) ([]string, error)
}
