// Package service wires the detection pipeline's outputs together.
package service

import (
	"sync/atomic"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/framecache"
	"objectdetection/internal/service/websocket"
)

// Forwarder is the downstream republisher.
type Forwarder interface {
	Forward(result *model.DetectionResult, seq uint64) bool
}

// Recorder buffers results for persistence.
type Recorder interface {
	AddResult(result *model.DetectionResult, seq uint64) bool
}

// Manager receives every successful, in-time detection result and hands it
// to the frame cache, the downstream forwarder and the persistence buffer.
type Manager struct {
	cache            *framecache.Cache
	forwarder        Forwarder
	recorder         Recorder
	websocketService *websocket.HubService
	logger           *logger.Logger

	published atomic.Uint64
	stale     atomic.Uint64
}

// NewManager builds the publisher. forwarder, recorder and hub may be nil.
func NewManager(cache *framecache.Cache, forwarder Forwarder, recorder Recorder, hub *websocket.HubService, logger *logger.Logger) *Manager {
	m := &Manager{
		cache:            cache,
		forwarder:        forwarder,
		recorder:         recorder,
		websocketService: hub,
		logger:           logger,
	}
	if hub != nil {
		cache.Subscribe(hub.OnFrame)
	}
	return m
}

// Publish is called by the dispatcher inside the request gate. It must not block.
// A result older than the cached one is still forwarded and recorded; only
// the cache keeps newest-wins.
func (m *Manager) Publish(result *model.DetectionResult, seq uint64) {
	if !m.cache.Publish(result, seq) {
		m.stale.Add(1)
		m.logger.Warning("Frame %s (%s #%d) is older than the cached one", result.IndexedFilename, result.Resolution, seq)
	} else {
		m.published.Add(1)
	}

	if m.forwarder != nil {
		m.forwarder.Forward(result, seq)
	}
	if m.recorder != nil {
		m.recorder.AddResult(result, seq)
	}
}

// Cache returns the frame cache.
func (m *Manager) Cache() *framecache.Cache {
	return m.cache
}

// GetWebsocketService returns the viewer hub, or nil.
func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.websocketService
}

// Stats returns how many publishes the cache accepted and rejected.
func (m *Manager) Stats() (published, stale uint64) {
	return m.published.Load(), m.stale.Load()
}
