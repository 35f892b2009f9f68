// Package websocket pushes newly cached frames to connected viewers.
package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/framecache"
)

const (
	writeWait          = 5 * time.Second
	broadcastBuffer    = 32
	defaultReadTimeout = 60 * time.Second
)

// FrameMessage is the JSON document sent to viewers for every accepted frame.
type FrameMessage struct {
	Resolution     string    `json:"resolution"`
	FrameID        string    `json:"frame_id"`
	Sequence       uint64    `json:"sequence"`
	DetectionCount int       `json:"detection_count"`
	Labels         []string  `json:"labels"`
	Topic          string    `json:"topic"`
	Timestamp      time.Time `json:"timestamp"`
	Image          string    `json:"image"`
}

type viewer struct {
	conn   *websocket.Conn
	filter map[model.Resolution]bool
}

// wants reports whether the viewer subscribed to res. An empty filter means every resolution.
func (v *viewer) wants(res model.Resolution) bool {
	return len(v.filter) == 0 || v.filter[res]
}

// message carries either pre-encoded data or a cache entry that Run encodes
// before writing.
type message struct {
	resolution model.Resolution
	data       []byte
	entry      *framecache.Entry
}

// HubService fans frames out to viewers. Run owns the client set; the other
// methods talk to it over channels.
type HubService struct {
	clients    map[*websocket.Conn]*viewer
	broadcast  chan message
	register   chan *viewer
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger

	readTimeout time.Duration
	pingPeriod  time.Duration
}

func NewHubService(config *config.Config, logger *logger.Logger) *HubService {
	readTimeout := config.ViewerTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	pingPeriod := readTimeout * 9 / 10
	if pingPeriod <= 0 {
		pingPeriod = readTimeout
	}
	return &HubService{
		clients:     make(map[*websocket.Conn]*viewer),
		broadcast:   make(chan message, broadcastBuffer),
		register:    make(chan *viewer),
		unregister:  make(chan *websocket.Conn),
		done:        make(chan struct{}),
		logger:      logger,
		readTimeout: readTimeout,
		pingPeriod:  pingPeriod,
	}
}

// ReadTimeout is how long a viewer may stay silent, pongs included, before
// its connection is dropped. The hub pings well inside this window.
func (h *HubService) ReadTimeout() time.Duration {
	return h.readTimeout
}

// Run serves registrations and broadcasts until ctx ends, then closes every client.
// It is the only writer of data and ping frames.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v := <-h.register:
			h.mutex.Lock()
			h.clients[v.conn] = v
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			h.send(msg)

		case <-ticker.C:
			h.ping()

		case <-ctx.Done():
			h.mutex.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *HubService) targets(wants func(*viewer) bool) []*websocket.Conn {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	targets := make([]*websocket.Conn, 0, len(h.clients))
	for conn, v := range h.clients {
		if wants(v) {
			targets = append(targets, conn)
		}
	}
	return targets
}

func (h *HubService) send(msg message) {
	targets := h.targets(func(v *viewer) bool { return v.wants(msg.resolution) })
	if len(targets) == 0 {
		return
	}

	if msg.data == nil && msg.entry != nil {
		data, err := json.Marshal(NewFrameMessage(*msg.entry))
		if err != nil {
			h.logger.Error("Error encoding frame message: %v", err)
			return
		}
		msg.data = data
	}

	for _, conn := range targets {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
			h.logger.Error("Error sending message: %v", err)
			h.remove(conn)
		}
	}
}

func (h *HubService) ping() {
	for _, conn := range h.targets(func(*viewer) bool { return true }) {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			h.logger.Warning("Ping failed, dropping viewer: %v", err)
			h.remove(conn)
		}
	}
}

func (h *HubService) remove(conn *websocket.Conn) {
	h.mutex.Lock()
	_, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mutex.Unlock()
	if ok {
		h.logger.Info("Viewer disconnected. Total: %d", count)
	}
}

// Register adds a viewer interested in the given resolutions (all when empty).
// It returns false once the hub has stopped.
func (h *HubService) Register(conn *websocket.Conn, resolutions []model.Resolution) bool {
	v := &viewer{conn: conn, filter: make(map[model.Resolution]bool, len(resolutions))}
	for _, res := range resolutions {
		v.filter[res] = true
	}
	select {
	case h.register <- v:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes and closes a viewer.
func (h *HubService) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues data for viewers of res. It never blocks; a full queue drops the message.
func (h *HubService) Broadcast(data []byte, res model.Resolution) bool {
	return h.enqueue(message{resolution: res, data: data})
}

func (h *HubService) enqueue(msg message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.logger.Warning("Viewer broadcast queue full, dropping %s frame", msg.resolution)
		return false
	}
}

// OnFrame is a frame cache subscriber. It runs under the cache slot lock, so it
// only queues the entry; Run does the encoding.
func (h *HubService) OnFrame(entry framecache.Entry) {
	h.mutex.RLock()
	idle := len(h.clients) == 0
	h.mutex.RUnlock()
	if idle || entry.Result == nil {
		return
	}
	h.enqueue(message{resolution: entry.Result.Resolution, entry: &entry})
}

// NewFrameMessage builds the viewer document for a cached frame.
func NewFrameMessage(entry framecache.Entry) FrameMessage {
	r := entry.Result
	return FrameMessage{
		Resolution:     r.Resolution.String(),
		FrameID:        entry.FrameID,
		Sequence:       entry.Sequence,
		DetectionCount: r.DetectionCount(),
		Labels:         r.Labels(),
		Topic:          r.Topic,
		Timestamp:      entry.StoredAt.UTC(),
		Image:          base64.StdEncoding.EncodeToString(r.AnnotatedImage),
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
