package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/aggregator"
	"objectdetection/internal/service/decoder"
)

// BatchDispatcher runs one multi-resolution request.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, req *model.FrameRequest) *model.Outcome
}

// DetectBatchHandler serves the multi-resolution detect call: decode the
// upload, fan it out across resolutions and aggregate the per-resolution
// outcomes into one response.
func DetectBatchHandler(dec *decoder.Decoder, dispatcher BatchDispatcher, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		received := time.Now()
		headerID := r.Header.Get(CorrelationHeader)

		req, err := dec.Decode(r.Body, r.Header.Get("Content-Type"), headerID)
		if err != nil {
			id := headerID
			if id == "" {
				id = decoder.NewCorrelationID()
			}
			logger.Warning("Rejected detect request %s: %v", id, err)
			resp, status := aggregator.Rejected(id, "", err, received)
			w.Header().Set(CorrelationHeader, id)
			writeJSON(w, status, resp, logger)
			return
		}
		if includeDetections(r.URL.Query().Get("include_detections")) {
			req.IncludeDetections = true
		}

		outcome := dispatcher.Dispatch(r.Context(), req)
		resp, status := aggregator.Aggregate(outcome)

		logger.Info("Detect request %s from %s: %d/%d resolution(s) succeeded in %s",
			req.CorrelationID, req.Topic, outcome.Succeeded(), len(model.Resolutions), outcome.Elapsed.Round(time.Millisecond))

		w.Header().Set(CorrelationHeader, req.CorrelationID)
		writeJSON(w, status, resp, logger)
	}
}

func includeDetections(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true"
}
