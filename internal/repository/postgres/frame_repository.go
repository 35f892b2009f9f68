package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"objectdetection/internal/dto"
	"objectdetection/internal/model"
)

const frameColumns = `f.id, f.filename, f.resolution, f.topic, f.correlation_id, f.sequence, f.detection_count, f.timestamp, f.filepath, f.filesize`

// FrameRepository implements repository.FrameRepository for PostgreSQL.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new PostgreSQL frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// Insert adds a new frame record and returns its id.
func (r *FrameRepository) Insert(ctx context.Context, rec *model.FrameRecord) (int64, error) {
	var id int64
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO frames (filename, resolution, topic, correlation_id, sequence, detection_count, timestamp, filepath, filesize)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, rec.Filename, rec.Resolution, rec.Topic, rec.CorrelationID, int64(rec.Sequence), rec.DetectionCount, rec.Timestamp.UTC(), rec.FilePath, rec.FileSize).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert frame: %w", err)
	}
	return id, nil
}

// GetByID retrieves a frame by its ID.
func (r *FrameRepository) GetByID(ctx context.Context, id int64) (*model.FrameRecord, error) {
	row := r.db.Pool().QueryRow(ctx, `SELECT `+frameColumns+` FROM frames f WHERE f.id = $1`, id)
	return scanFrameRow(row)
}

// GetByFilename retrieves a frame by its filename.
func (r *FrameRepository) GetByFilename(ctx context.Context, filename string) (*model.FrameRecord, error) {
	row := r.db.Pool().QueryRow(ctx, `SELECT `+frameColumns+` FROM frames f WHERE f.filename = $1`, filename)
	return scanFrameRow(row)
}

// GetAll retrieves frames based on filter criteria, newest first.
func (r *FrameRepository) GetAll(ctx context.Context, filter *dto.RecordFilter) ([]model.FrameRecord, error) {
	where, args := buildWhere(filter)
	query := `SELECT DISTINCT ` + frameColumns + ` FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` + where +
		` ORDER BY f.timestamp DESC, f.id DESC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []model.FrameRecord
	for rows.Next() {
		rec, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, *rec)
	}
	return frames, rows.Err()
}

// GetTotalCount returns the total count of frames matching the filter.
func (r *FrameRepository) GetTotalCount(ctx context.Context, filter *dto.RecordFilter) (int, error) {
	where, args := buildWhere(filter)
	query := `SELECT COUNT(DISTINCT f.id) FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` + where

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// Exists checks if a frame with the given filename exists.
func (r *FrameRepository) Exists(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM frames WHERE filename = $1)`, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check frame existence: %w", err)
	}
	return exists, nil
}

// GetTopics returns a list of unique source topics.
func (r *FrameRepository) GetTopics(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT DISTINCT topic FROM frames ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetStats returns counts and sizes of the stored frames.
func (r *FrameRepository) GetStats(ctx context.Context) (*dto.StoreStats, error) {
	stats := &dto.StoreStats{}
	err := r.db.Pool().QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(filesize), 0) FROM frames`).
		Scan(&stats.TotalFrames, &stats.TotalSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to count frames: %w", err)
	}

	if stats.PerTopic, err = r.countBy(ctx, `SELECT topic, COUNT(*) FROM frames GROUP BY topic`); err != nil {
		return nil, err
	}
	if stats.PerResolution, err = r.countBy(ctx, `SELECT resolution, COUNT(*) FROM frames GROUP BY resolution`); err != nil {
		return nil, err
	}
	stats.ObjectCounts, err = r.countBy(ctx, `
		SELECT object_name, COUNT(*) AS cnt
		FROM detections
		GROUP BY object_name
		ORDER BY cnt DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteByFilename removes a frame; its detections go with it through the cascade.
func (r *FrameRepository) DeleteByFilename(ctx context.Context, filename string) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM frames WHERE filename = $1`, filename); err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

func (r *FrameRepository) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// buildWhere numbers placeholders from $1 in the order arguments are appended.
func buildWhere(filter *dto.RecordFilter) (string, []any) {
	if filter == nil {
		return "", nil
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Topic != "" {
		add("f.topic = $%d", filter.Topic)
	}
	if filter.Resolution != "" {
		add("f.resolution = $%d", filter.Resolution)
	}
	if filter.Object != "" {
		add("d.object_name = $%d", filter.Object)
	}
	if !filter.After.IsZero() {
		add("f.timestamp >= $%d", filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		add("f.timestamp <= $%d", filter.Before.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanFrame(row pgx.Row) (*model.FrameRecord, error) {
	var (
		rec model.FrameRecord
		seq int64
	)
	err := row.Scan(&rec.ID, &rec.Filename, &rec.Resolution, &rec.Topic, &rec.CorrelationID, &seq,
		&rec.DetectionCount, &rec.Timestamp, &rec.FilePath, &rec.FileSize)
	if err != nil {
		return nil, err
	}
	rec.Sequence = uint64(seq)
	return &rec, nil
}

func scanFrameRow(row pgx.Row) (*model.FrameRecord, error) {
	rec, err := scanFrame(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return rec, nil
}
