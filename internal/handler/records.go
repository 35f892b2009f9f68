package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"objectdetection/internal/config"
	"objectdetection/internal/dto"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/repository"
)

const (
	defaultPageSize = 24
	maxPageSize     = 200
)

// GetRecordsHandler returns a filtered, paginated list of persisted frames with their detections.
func GetRecordsHandler(logger *logger.Logger, frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if frameRepo == nil {
			writeError(w, http.StatusServiceUnavailable, model.CodeInternal, "record store disabled", logger)
			return
		}

		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), defaultPageSize)
		if limit > maxPageSize {
			limit = maxPageSize
		}

		after, okAfter := parseTime(q.Get("after"))
		before, okBefore := parseTime(q.Get("before"))
		if !okAfter || !okBefore {
			writeError(w, http.StatusBadRequest, model.CodeValidation, "after and before must be ISO-8601 timestamps", logger)
			return
		}

		filter := &dto.RecordFilter{
			Topic:  q.Get("topic"),
			Object: q.Get("object"),
			After:  after,
			Before: before,
			Limit:  limit,
			Offset: (page - 1) * limit,
		}
		if v := q.Get("resolution"); v != "" {
			res, err := model.ParseResolution(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error(), logger)
				return
			}
			filter.Resolution = res.String()
		}

		ctx := r.Context()
		frames, err := frameRepo.GetAll(ctx, filter)
		if err != nil {
			logger.Error("Error querying frames from database: %v", err)
			writeError(w, http.StatusInternalServerError, model.CodeInternal, "Internal Server Error", logger)
			return
		}

		totalCount, err := frameRepo.GetTotalCount(ctx, filter)
		if err != nil {
			logger.Error("Error counting frames: %v", err)
			totalCount = len(frames)
		}

		records := make([]dto.RecordView, 0, len(frames))
		for _, f := range frames {
			view := dto.RecordView{FrameRecord: f, Detections: []model.DetectionRecord{}}
			if detectionRepo != nil && f.DetectionCount > 0 {
				dets, err := detectionRepo.GetByFrameID(ctx, f.ID)
				if err != nil {
					logger.Error("Error getting detections for frame %d: %v", f.ID, err)
				} else if dets != nil {
					view.Detections = dets
				}
			}
			records = append(records, view)
		}

		data := dto.RecordPage{
			Records:    records,
			Page:       page,
			Limit:      limit,
			Total:      totalCount,
			TotalPages: (totalCount + limit - 1) / limit,
		}
		if topics, err := frameRepo.GetTopics(ctx); err == nil {
			data.Topics = topics
		}
		if detectionRepo != nil {
			if objects, err := detectionRepo.GetAllObjectNames(ctx); err == nil {
				data.Objects = objects
			}
		}

		writeJSON(w, http.StatusOK, data, logger)
	}
}

// RecordStatsHandler returns totals of the record store.
func RecordStatsHandler(logger *logger.Logger, frameRepo repository.FrameRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if frameRepo == nil {
			writeError(w, http.StatusServiceUnavailable, model.CodeInternal, "record store disabled", logger)
			return
		}
		stats, err := frameRepo.GetStats(r.Context())
		if err != nil {
			logger.Error("Error reading store stats: %v", err)
			writeError(w, http.StatusInternalServerError, model.CodeInternal, "Internal Server Error", logger)
			return
		}
		writeJSON(w, http.StatusOK, stats, logger)
	}
}

// ViewRecordImageHandler serves a stored annotated frame named by the "filename" query parameter.
func ViewRecordImageHandler(cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := storedFilename(w, r, logger)
		if !ok {
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.ImageDirectory, filename))
	}
}

// DeleteRecordHandler removes a stored frame from disk and the record store.
func DeleteRecordHandler(cfg *config.Config, logger *logger.Logger, frameRepo repository.FrameRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename, ok := storedFilename(w, r, logger)
		if !ok {
			return
		}

		filePath := filepath.Join(cfg.ImageDirectory, filename)
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete file %s: %v", filePath, err)
		}

		if frameRepo != nil {
			if err := frameRepo.DeleteByFilename(r.Context(), filename); err != nil {
				logger.Error("Failed to delete from database: %v", err)
				writeError(w, http.StatusInternalServerError, model.CodeInternal, "Internal Server Error", logger)
				return
			}
		}

		logger.Info("Deleted frame: %s", filename)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "filename": filename}, logger)
	}
}

// storedFilename reads the "filename" query parameter and refuses anything that is not a bare file name.
func storedFilename(w http.ResponseWriter, r *http.Request, logger *logger.Logger) (string, bool) {
	filename := r.URL.Query().Get("filename")
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, model.CodeValidation, "filename required", logger)
		return "", false
	}
	return filename, true
}
