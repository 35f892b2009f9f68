package route

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service"
	"objectdetection/internal/service/ai"
	"objectdetection/internal/service/decoder"
	"objectdetection/internal/service/framecache"
)

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, req *model.FrameRequest) *model.Outcome {
	return &model.Outcome{CorrelationID: req.CorrelationID, Topic: req.Topic}
}

type stubDetector struct{}

func (stubDetector) Infer(context.Context, []byte) ([]model.Detection, []byte, error) {
	return nil, nil, nil
}

func (stubDetector) Info() ai.ModelInfo {
	return ai.ModelInfo{Name: "stub"}
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{CORSOrigin: "*", MaxUploadBytes: 1 << 20, StreamFPS: 2, LogDirectory: t.TempDir()}
	log := logger.NewNop()
	manager := service.NewManager(framecache.New(), nil, nil, nil, log)
	pipeline := Pipeline{
		Decoder:    decoder.New(cfg.MaxUploadBytes, log),
		Dispatcher: stubDispatcher{},
		Detector:   stubDetector{},
	}
	return SetupRoutes(manager, pipeline, cfg, log, nil, nil)
}

func TestSetupRoutes(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/info", http.StatusOK},
		{http.MethodGet, "/stream/low/latest", http.StatusNotFound},
		{http.MethodGet, "/stream/ultra/latest", http.StatusBadRequest},
		{http.MethodGet, "/api/records", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/view", http.StatusServiceUnavailable},
		{http.MethodGet, "/detect/multi", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSetupRoutes_DetectAliases(t *testing.T) {
	router := newRouter(t)

	for _, path := range []string{"/detect/cluster-batch", "/detect/multi"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("not a form"))
		req.Header.Set("Content-Type", "text/plain")
		req.Header.Set("X-Correlation-ID", "corr-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	}
}
