package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/dto"
	"objectdetection/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", "frames.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func frameRecord(name, res, topic string, ts time.Time, count int) *model.FrameRecord {
	return &model.FrameRecord{
		Filename:       name,
		Resolution:     res,
		Topic:          topic,
		CorrelationID:  "corr-" + name,
		Sequence:       7,
		DetectionCount: count,
		Timestamp:      ts,
		FilePath:       "/images/" + name,
		FileSize:       2048,
	}
}

func TestFrameRepository_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewFrameRepository(newTestDB(t))
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := repo.Insert(ctx, frameRecord("low_20250301_120000_000001.jpg", "low", "cam/front", ts, 2))
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "low_20250301_120000_000001.jpg", got.Filename)
	assert.Equal(t, "cam/front", got.Topic)
	assert.Equal(t, uint64(7), got.Sequence)
	assert.Equal(t, 2, got.DetectionCount)
	assert.True(t, ts.Equal(got.Timestamp))

	byName, err := repo.GetByFilename(ctx, got.Filename)
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	missing, err := repo.GetByID(ctx, id+100)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFrameRepository_DuplicateFilename(t *testing.T) {
	ctx := context.Background()
	repo := NewFrameRepository(newTestDB(t))
	rec := frameRecord("dup.jpg", "high", "t", time.Now(), 0)

	_, err := repo.Insert(ctx, rec)
	require.NoError(t, err)
	_, err = repo.Insert(ctx, rec)
	assert.Error(t, err)

	exists, err := repo.Exists(ctx, "dup.jpg")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestFrameRepository_FilterAndPaging(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	frames := NewFrameRepository(db)
	detections := NewDetectionRepository(db)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, res := range []string{"low", "medium", "high", "low", "medium"} {
		topic := "cam/a"
		if i >= 3 {
			topic = "cam/b"
		}
		id, err := frames.Insert(ctx, frameRecord(res+"_"+string(rune('a'+i))+".jpg", res, topic, base.Add(time.Duration(i)*time.Hour), 1))
		require.NoError(t, err)

		object := "car"
		if i%2 == 0 {
			object = "person"
		}
		require.NoError(t, detections.InsertBatch(ctx, []model.DetectionRecord{{FrameID: id, ObjectName: object, Confidence: 0.9}}))
	}

	total, err := frames.GetTotalCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	byTopic, err := frames.GetAll(ctx, &dto.RecordFilter{Topic: "cam/b"})
	require.NoError(t, err)
	assert.Len(t, byTopic, 2)
	assert.Equal(t, "medium", byTopic[0].Resolution, "newest first")

	byRes, err := frames.GetTotalCount(ctx, &dto.RecordFilter{Resolution: "low"})
	require.NoError(t, err)
	assert.Equal(t, 2, byRes)

	byObject, err := frames.GetTotalCount(ctx, &dto.RecordFilter{Object: "person"})
	require.NoError(t, err)
	assert.Equal(t, 3, byObject)

	window, err := frames.GetAll(ctx, &dto.RecordFilter{After: base.Add(time.Hour), Before: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, window, 3)

	page, err := frames.GetAll(ctx, &dto.RecordFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "high", page[0].Resolution)

	topics, err := frames.GetTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cam/a", "cam/b"}, topics)

	objects, err := detections.GetAllObjectNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"car", "person"}, objects)
}

func TestDetectionRepository_InsertBatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	frames := NewFrameRepository(db)
	detections := NewDetectionRepository(db)

	id, err := frames.Insert(ctx, frameRecord("f.jpg", "high", "t", time.Now(), 2))
	require.NoError(t, err)

	require.NoError(t, detections.InsertBatch(ctx, nil))
	require.NoError(t, detections.InsertBatch(ctx, []model.DetectionRecord{
		{FrameID: id, ObjectName: "person", ClassID: 1, Confidence: 0.8, X1: 1, Y1: 2, X2: 30, Y2: 40},
		{FrameID: id, ObjectName: "dog", ClassID: 18, Confidence: 0.6},
	}))

	got, err := detections.GetByFrameID(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "person", got[0].ObjectName)
	assert.Equal(t, 1, got[0].ClassID)
	assert.InDelta(t, 30.0, got[0].X2, 1e-9)
	assert.Equal(t, "dog", got[1].ObjectName)
}

func TestFrameRepository_DeleteByFilename(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	frames := NewFrameRepository(db)
	detections := NewDetectionRepository(db)

	id, err := frames.Insert(ctx, frameRecord("gone.jpg", "low", "t", time.Now(), 1))
	require.NoError(t, err)
	require.NoError(t, detections.InsertBatch(ctx, []model.DetectionRecord{{FrameID: id, ObjectName: "cat"}}))

	require.NoError(t, frames.DeleteByFilename(ctx, "gone.jpg"))
	require.NoError(t, frames.DeleteByFilename(ctx, "never-existed.jpg"))

	exists, err := frames.Exists(ctx, "gone.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	left, err := detections.GetByFrameID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFrameRepository_GetStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	frames := NewFrameRepository(db)
	detections := NewDetectionRepository(db)

	for i, res := range []string{"low", "high", "high"} {
		id, err := frames.Insert(ctx, frameRecord(res+string(rune('0'+i))+".jpg", res, "cam", time.Now(), 1))
		require.NoError(t, err)
		require.NoError(t, detections.InsertBatch(ctx, []model.DetectionRecord{{FrameID: id, ObjectName: "person"}}))
	}

	stats, err := frames.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFrames)
	assert.Equal(t, int64(3*2048), stats.TotalSizeBytes)
	assert.Equal(t, map[string]int{"cam": 3}, stats.PerTopic)
	assert.Equal(t, map[string]int{"low": 1, "high": 2}, stats.PerResolution)
	assert.Equal(t, map[string]int{"person": 3}, stats.ObjectCounts)
}
