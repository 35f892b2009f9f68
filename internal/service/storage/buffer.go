// Package storage persists annotated frames to disk and the record store in
// periodic batches.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"objectdetection/internal/config"
	"objectdetection/internal/dto"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/repository"
)

// BufferService buffers annotated frames in memory and periodically flushes
// them to disk and to the record store.
type BufferService struct {
	imagesDir     string
	limit         int
	interval      time.Duration
	frames        []dto.BufferedFrame
	bufferCount   map[model.Resolution]int
	mu            sync.Mutex
	logger        *logger.Logger
	frameRepo     repository.FrameRepository
	detectionRepo repository.DetectionRepository
}

// NewBufferService creates a BufferService. The repositories may be nil, in
// which case frames are only written to disk.
func NewBufferService(config *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository) *BufferService {
	limit := config.ImageBufferLimit
	if limit < 1 {
		limit = 1
	}
	interval := config.ImageBufferFlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &BufferService{
		imagesDir:     config.ImageDirectory,
		limit:         limit,
		interval:      interval,
		frames:        make([]dto.BufferedFrame, 0, limit),
		bufferCount:   make(map[model.Resolution]int),
		logger:        logger,
		frameRepo:     frameRepo,
		detectionRepo: detectionRepo,
	}
}

// Run flushes on every tick until ctx ends, then flushes once more.
func (s *BufferService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.FlushImages(ctx)
		case <-ctx.Done():
			s.FlushImages(context.Background())
			return
		}
	}
}

// AddResult buffers an annotated frame. Each resolution may hold at most the
// configured limit between flushes; the rest are dropped. It reports whether
// the frame was buffered.
func (s *BufferService) AddResult(result *model.DetectionResult, seq uint64) bool {
	if result == nil || len(result.AnnotatedImage) == 0 || result.IndexedFilename == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[result.Resolution] >= s.limit {
		return false
	}
	s.frames = append(s.frames, dto.BufferedFrame{Result: result, Sequence: seq})
	s.bufferCount[result.Resolution]++
	return true
}

// Pending returns the number of frames waiting for the next flush.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// FlushImages writes buffered frames to disk and records them, then resets
// the buffer and the per-resolution counters. It returns how many frames
// were saved.
func (s *BufferService) FlushImages(ctx context.Context) int {
	s.mu.Lock()
	frames := s.frames
	s.frames = make([]dto.BufferedFrame, 0, s.limit)
	s.bufferCount = make(map[model.Resolution]int)
	s.mu.Unlock()

	if len(frames) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, frame := range frames {
		if s.save(ctx, frame) {
			savedCount++
		}
	}

	s.logger.Info("Flushed %d frame(s) to disk", savedCount)
	return savedCount
}

func (s *BufferService) save(ctx context.Context, frame dto.BufferedFrame) bool {
	result := frame.Result
	fullpath := filepath.Join(s.imagesDir, filepath.Base(result.IndexedFilename))

	if err := os.WriteFile(fullpath, result.AnnotatedImage, 0644); err != nil {
		s.logger.Error("Error saving frame %s: %v", result.IndexedFilename, err)
		return false
	}

	if s.frameRepo == nil {
		return true
	}

	rec := &model.FrameRecord{
		Filename:       result.IndexedFilename,
		Resolution:     result.Resolution.String(),
		Topic:          result.Topic,
		CorrelationID:  result.CorrelationID,
		Sequence:       frame.Sequence,
		DetectionCount: result.DetectionCount(),
		Timestamp:      result.ProducedAt,
		FilePath:       fullpath,
		FileSize:       int64(len(result.AnnotatedImage)),
	}
	frameID, err := s.frameRepo.Insert(ctx, rec)
	if err != nil {
		s.logger.Error("Error saving frame to database %s: %v", result.IndexedFilename, err)
		return false
	}

	if s.detectionRepo != nil && len(result.Detections) > 0 {
		records := make([]model.DetectionRecord, 0, len(result.Detections))
		for _, det := range result.Detections {
			records = append(records, model.DetectionRecord{
				FrameID:    frameID,
				ObjectName: det.Class,
				ClassID:    det.ClassID,
				Confidence: det.Confidence,
				X1:         det.BBox.X1,
				Y1:         det.BBox.Y1,
				X2:         det.BBox.X2,
				Y2:         det.BBox.Y2,
			})
		}
		if err := s.detectionRepo.InsertBatch(ctx, records); err != nil {
			s.logger.Error("Error saving detections to database: %v", err)
		}
	}
	return true
}
