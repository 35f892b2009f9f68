package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"objectdetection/internal/dto"
	"objectdetection/internal/model"
)

const frameColumns = `f.id, f.filename, f.resolution, f.topic, f.correlation_id, f.sequence, f.detection_count, f.timestamp, f.filepath, f.filesize`

// FrameRepository implements repository.FrameRepository for SQLite.
type FrameRepository struct {
	db *DB
}

// NewFrameRepository creates a new SQLite frame repository.
func NewFrameRepository(db *DB) *FrameRepository {
	return &FrameRepository{db: db}
}

// Insert adds a new frame record to the database.
func (r *FrameRepository) Insert(ctx context.Context, rec *model.FrameRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO frames (filename, resolution, topic, correlation_id, sequence, detection_count, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Filename, rec.Resolution, rec.Topic, rec.CorrelationID, int64(rec.Sequence), rec.DetectionCount, rec.Timestamp.UTC(), rec.FilePath, rec.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert frame: %w", err)
	}

	return result.LastInsertId()
}

// GetByID retrieves a frame by its ID.
func (r *FrameRepository) GetByID(ctx context.Context, id int64) (*model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+frameColumns+` FROM frames f WHERE f.id = ?`, id)
	return scanFrameRow(row)
}

// GetByFilename retrieves a frame by its filename.
func (r *FrameRepository) GetByFilename(ctx context.Context, filename string) (*model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+frameColumns+` FROM frames f WHERE f.filename = ?`, filename)
	return scanFrameRow(row)
}

// GetAll retrieves frames based on filter criteria, newest first.
func (r *FrameRepository) GetAll(ctx context.Context, filter *dto.RecordFilter) ([]model.FrameRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT DISTINCT ` + frameColumns + ` FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` + where +
		` ORDER BY f.timestamp DESC, f.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []model.FrameRecord
	for rows.Next() {
		rec, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, *rec)
	}
	return frames, rows.Err()
}

// GetTotalCount returns the total count of frames matching the filter.
func (r *FrameRepository) GetTotalCount(ctx context.Context, filter *dto.RecordFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT COUNT(DISTINCT f.id) FROM frames f LEFT JOIN detections d ON f.id = d.frame_id` + where

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return count, nil
}

// Exists checks if a frame with the given filename exists.
func (r *FrameRepository) Exists(ctx context.Context, filename string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE filename = ?`, filename).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check frame existence: %w", err)
	}
	return count > 0, nil
}

// GetTopics returns a list of unique source topics.
func (r *FrameRepository) GetTopics(ctx context.Context) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().QueryContext(ctx, `SELECT DISTINCT topic FROM frames ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("failed to query topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// DeleteByFilename removes a frame and its detections.
func (r *FrameRepository) DeleteByFilename(ctx context.Context, filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	var frameID int64
	err := r.db.Conn().QueryRowContext(ctx, `SELECT id FROM frames WHERE filename = ?`, filename).Scan(&frameID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get frame id: %w", err)
	}

	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM detections WHERE frame_id = ?`, frameID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	if _, err := r.db.Conn().ExecContext(ctx, `DELETE FROM frames WHERE id = ?`, frameID); err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

func buildWhere(filter *dto.RecordFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		conds []string
		args  []interface{}
	)
	if filter.Topic != "" {
		conds = append(conds, "f.topic = ?")
		args = append(args, filter.Topic)
	}
	if filter.Resolution != "" {
		conds = append(conds, "f.resolution = ?")
		args = append(args, filter.Resolution)
	}
	if filter.Object != "" {
		conds = append(conds, "d.object_name = ?")
		args = append(args, filter.Object)
	}
	if !filter.After.IsZero() {
		conds = append(conds, "f.timestamp >= ?")
		args = append(args, filter.After.UTC())
	}
	if !filter.Before.IsZero() {
		conds = append(conds, "f.timestamp <= ?")
		args = append(args, filter.Before.UTC())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(s scanner) (*model.FrameRecord, error) {
	var (
		rec model.FrameRecord
		seq int64
	)
	err := s.Scan(&rec.ID, &rec.Filename, &rec.Resolution, &rec.Topic, &rec.CorrelationID, &seq,
		&rec.DetectionCount, &rec.Timestamp, &rec.FilePath, &rec.FileSize)
	if err != nil {
		return nil, err
	}
	rec.Sequence = uint64(seq)
	return &rec, nil
}

func scanFrameRow(row *sql.Row) (*model.FrameRecord, error) {
	rec, err := scanFrame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return rec, nil
}

// GetStats returns counts and sizes of the stored frames.
func (r *FrameRepository) GetStats(ctx context.Context) (*dto.StoreStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &dto.StoreStats{}
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(filesize), 0) FROM frames`).
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

func (r *FrameRepository) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := r.db.Conn().QueryContext(ctx, query)
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
