package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"objectdetection/internal/config"
	"objectdetection/internal/handler"
	"objectdetection/internal/logger"
	"objectdetection/internal/repository"
	"objectdetection/internal/repository/store"
	"objectdetection/internal/route"
	"objectdetection/internal/service"
	"objectdetection/internal/service/ai"
	"objectdetection/internal/service/ai/opencv"
	"objectdetection/internal/service/decoder"
	"objectdetection/internal/service/dispatcher"
	"objectdetection/internal/service/forwarder"
	"objectdetection/internal/service/framecache"
	"objectdetection/internal/service/indexer"
	"objectdetection/internal/service/storage"
	"objectdetection/internal/service/websocket"
)

const shutdownTimeout = 15 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	detector      *ai.Detector
	dispatcher    *dispatcher.Dispatcher
	forwarder     *forwarder.Forwarder
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *service.Manager
	store         *store.Store
	router        http.Handler
	cancelStreams context.CancelFunc
}

// NewApp loads the configuration and wires the pipeline. envFile may be empty.
func NewApp(ctx context.Context, envFile string) (*App, error) {
	cfg := config.Load(envFile)
	log := logger.NewLogger(cfg)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreKind, err)
	}

	sink, err := forwarder.NewSink(ctx, cfg, log)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create %s sink: %w", cfg.SinkKind, err)
	}

	a := &App{
		config:     cfg,
		logger:     log,
		store:      st,
		detector:   ai.NewDetector(opencv.NewEngine(cfg, log), log),
		forwarder:  forwarder.NewForwarder(sink, cfg, log),
		hubService: websocket.NewHubService(cfg, log),
	}

	var (
		recorder      service.Recorder
		frameRepo     repository.FrameRepository
		detectionRepo repository.DetectionRepository
	)
	if st != nil {
		frameRepo, detectionRepo = st.Frames, st.Detections
		a.bufferService = storage.NewBufferService(cfg, log, frameRepo, detectionRepo)
		recorder = a.bufferService
	}

	a.manager = service.NewManager(framecache.New(), a.forwarder, recorder, a.hubService, log)
	a.dispatcher = dispatcher.NewDispatcher(a.detector, indexer.New(cfg.ReplicaID), a.manager, cfg, log)

	streams, cancelStreams := context.WithCancel(context.Background())
	a.cancelStreams = cancelStreams

	pipeline := route.Pipeline{
		Decoder:    decoder.New(cfg.MaxUploadBytes, log),
		Dispatcher: a.dispatcher,
		Detector:   a.detector,
		Stats: handler.PipelineStats{
			Dispatcher: a.dispatcher.Stats,
			Forwarder:  a.forwarder.Stats,
		},
		Streams: streams,
	}
	a.router = route.SetupRoutes(a.manager, pipeline, cfg, log, frameRepo, detectionRepo)
	return a, nil
}

// Run serves HTTP until ctx ends, then shuts the pipeline down in order:
// listener (in-flight detections drain, streams end), dispatcher, viewers
// and buffer, forwarder, store, engine.
func (a *App) Run(ctx context.Context) error {
	defer a.cancelStreams()

	// Background services outlive ctx until the listener has drained.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		a.hubService.Run(bgCtx)
	}()
	if a.bufferService != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			a.bufferService.Run(bgCtx)
		}()
	}

	server := route.NewServer(a.config.Port, a.router, ctx, a.cancelStreams)

	a.logger.Info("Object detection server listening on :%d", a.config.Port)
	a.logger.Info("Model: %s (%s)", a.detector.Info().Name, a.config.ModelPath)
	a.logger.Info("Store: %s, sink: %s, images: %s", a.config.StoreKind, a.config.SinkKind, a.config.ImageDirectory)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("failed to serve: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP shutdown: %v", err)
	}
	a.dispatcher.Stop()
	stopBackground()
	a.forwarder.Stop(shutdownCtx)

	background.Wait()
	if a.bufferService != nil {
		if n := a.bufferService.FlushImages(shutdownCtx); n > 0 {
			a.logger.Info("Flushed %d buffered frame(s) on shutdown", n)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store: %v", err)
	}
	if err := a.detector.Close(); err != nil {
		a.logger.Error("Failed to close detector: %v", err)
	}
	a.logger.Sync()
	return runErr
}
