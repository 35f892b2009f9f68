package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"objectdetection/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for PostgreSQL.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new PostgreSQL detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single round trip.
func (r *DetectionRepository) InsertBatch(ctx context.Context, detections []model.DetectionRecord) error {
	if len(detections) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, det := range detections {
		batch.Queue(`
			INSERT INTO detections (frame_id, object_name, class_id, confidence, x1, y1, x2, y2)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, det.FrameID, det.ObjectName, det.ClassID, det.Confidence, det.X1, det.Y1, det.X2, det.Y2)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert detections: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByFrameID retrieves all detections for a frame.
func (r *DetectionRepository) GetByFrameID(ctx context.Context, frameID int64) ([]model.DetectionRecord, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, frame_id, object_name, class_id, confidence, x1, y1, x2, y2
		FROM detections WHERE frame_id = $1 ORDER BY id
	`, frameID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.DetectionRecord
	for rows.Next() {
		var det model.DetectionRecord
		if err := rows.Scan(&det.ID, &det.FrameID, &det.ObjectName, &det.ClassID, &det.Confidence, &det.X1, &det.Y1, &det.X2, &det.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, det)
	}
	return detections, rows.Err()
}

// GetAllObjectNames returns a list of all unique detected object names.
func (r *DetectionRepository) GetAllObjectNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT DISTINCT object_name FROM detections ORDER BY object_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query objects: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
