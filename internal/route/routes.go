package route

import (
	"context"
	"net/http"

	"objectdetection/internal/config"
	"objectdetection/internal/handler"
	"objectdetection/internal/logger"
	"objectdetection/internal/middleware"
	"objectdetection/internal/repository"
	"objectdetection/internal/service"
	"objectdetection/internal/service/decoder"
)

// Pipeline groups the request-facing parts of the detection pipeline.
type Pipeline struct {
	Decoder    *decoder.Decoder
	Dispatcher handler.BatchDispatcher
	Detector   handler.SingleDetector
	Stats      handler.PipelineStats
	// Streams ends MJPEG streams when cancelled. Nil means they only end with the client.
	Streams context.Context
}

// SetupRoutes registers the detect, stream, record and log endpoints and
// wraps the mux with CORS and access logging. frameRepo and detectionRepo
// may be nil when persistence is disabled.
func SetupRoutes(manager *service.Manager, pipeline Pipeline, cfg *config.Config, logger *logger.Logger,
	frameRepo repository.FrameRepository, detectionRepo repository.DetectionRepository) http.Handler {
	mux := http.NewServeMux()

	streams := pipeline.Streams
	if streams == nil {
		streams = context.Background()
	}

	// Multi-resolution detection
	batch := handler.DetectBatchHandler(pipeline.Decoder, pipeline.Dispatcher, logger)
	mux.HandleFunc("POST /detect/cluster-batch", batch)
	mux.HandleFunc("POST /detect/multi", batch)

	// Single image detection
	mux.HandleFunc("POST /detect", handler.DetectHandler(pipeline.Detector, cfg, logger))
	mux.HandleFunc("POST /detect/batch", handler.DetectBatchFilesHandler(pipeline.Detector, cfg, logger))
	mux.HandleFunc("POST /detect/base64", handler.DetectBase64Handler(pipeline.Detector, cfg, logger))
	mux.HandleFunc("POST /detect/base64/batch", handler.DetectBase64BatchHandler(pipeline.Detector, cfg, logger))

	// Frame streaming
	mux.HandleFunc("GET /stream/{resolution}/latest", handler.LatestFrameHandler(manager.Cache(), logger))
	mux.HandleFunc("GET /stream/{resolution}/mjpeg", handler.MJPEGHandler(manager.Cache(), cfg, streams, logger))
	mux.HandleFunc("GET /api/view", handler.ViewWebsocketHandler(manager, logger))

	// Persisted records
	mux.HandleFunc("GET /api/records", handler.GetRecordsHandler(logger, frameRepo, detectionRepo))
	mux.HandleFunc("DELETE /api/records", handler.DeleteRecordHandler(cfg, logger, frameRepo))
	mux.HandleFunc("GET /api/records/stats", handler.RecordStatsHandler(logger, frameRepo))
	mux.HandleFunc("GET /api/records/view", handler.ViewRecordImageHandler(cfg, logger))

	// Service info
	mux.HandleFunc("GET /health", handler.HealthHandler(pipeline.Detector, logger))
	mux.HandleFunc("GET /info", handler.InfoHandler(pipeline.Detector, pipeline.Stats, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(cfg, logger))
	mux.HandleFunc("POST /logs/{level}/clear", handler.ClearLogsHandler(logger))

	// Apply middleware
	return middleware.CORS(cfg.CORSOrigin, middleware.AccessLog(logger, mux))
}
