package handler

import (
	"net/http"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/ai"
	"objectdetection/internal/service/dispatcher"
	"objectdetection/internal/service/forwarder"
)

// ModelDescriber reports the loaded detection model.
type ModelDescriber interface {
	Info() ai.ModelInfo
}

// PipelineStats exposes counters of the running pipeline. Either func may be nil.
type PipelineStats struct {
	Dispatcher func() dispatcher.Stats
	Forwarder  func() forwarder.Stats
}

type infoResponse struct {
	Model         string            `json:"model"`
	NumClasses    int               `json:"num_classes"`
	Classes       map[int]string    `json:"classes"`
	Configuration infoConfiguration `json:"configuration"`
	Resolutions   []string          `json:"resolutions"`
	Dispatcher    *dispatcher.Stats `json:"dispatcher,omitempty"`
	Forwarder     *forwarder.Stats  `json:"forwarder,omitempty"`
}

type infoConfiguration struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IOUThreshold        float64 `json:"iou_threshold"`
	MaxDetections       int     `json:"max_detections"`
}

// HealthHandler answers liveness probes.
func HealthHandler(models ModelDescriber, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "healthy",
			"model":     models.Info().Name,
			"timestamp": nowStamp(),
		}, logger)
	}
}

// InfoHandler describes the model, its thresholds and the pipeline counters.
func InfoHandler(models ModelDescriber, stats PipelineStats, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := models.Info()
		resp := infoResponse{
			Model:      info.Name,
			NumClasses: len(info.Classes),
			Classes:    info.Classes,
			Configuration: infoConfiguration{
				ConfidenceThreshold: info.ConfidenceThreshold,
				IOUThreshold:        info.IOUThreshold,
				MaxDetections:       info.MaxDetections,
			},
		}
		for _, res := range model.Resolutions {
			resp.Resolutions = append(resp.Resolutions, res.String())
		}
		if stats.Dispatcher != nil {
			s := stats.Dispatcher()
			resp.Dispatcher = &s
		}
		if stats.Forwarder != nil {
			s := stats.Forwarder()
			resp.Forwarder = &s
		}
		writeJSON(w, http.StatusOK, resp, logger)
	}
}
