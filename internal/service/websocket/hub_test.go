package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/framecache"
)

func startHub(t *testing.T) (*HubService, *httptest.Server) {
	t.Helper()
	return startHubWith(t, &config.Config{})
}

func startHubWith(t *testing.T, cfg *config.Config) (*HubService, *httptest.Server) {
	t.Helper()
	hub := NewHubService(cfg, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var filter []model.Resolution
		if res := r.URL.Query().Get("resolution"); res != "" {
			filter = append(filter, model.Resolution(res))
		}
		hub.Register(conn, filter)
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func result(res model.Resolution, name string) *model.DetectionResult {
	return &model.DetectionResult{
		Resolution:      res,
		Detections:      []model.Detection{{Class: "person", ClassID: 1, Confidence: 0.9}},
		AnnotatedImage:  []byte{0xFF, 0xD8, 0xFF, 0xD9},
		IndexedFilename: name,
		Topic:           "cam/front",
	}
}

func TestHub_PushesCachedFramesToViewers(t *testing.T) {
	hub, srv := startHub(t)
	cache := framecache.New()
	cache.Subscribe(hub.OnFrame)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.True(t, cache.Publish(result(model.ResolutionHigh, "f_high.jpg"), 3))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "high", msg.Resolution)
	assert.Equal(t, "f_high.jpg", msg.FrameID)
	assert.Equal(t, uint64(3), msg.Sequence)
	assert.Equal(t, 1, msg.DetectionCount)
	assert.Equal(t, []string{"person"}, msg.Labels)
	assert.Equal(t, "/9j/2Q==", msg.Image)
}

func TestHub_FiltersByResolution(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "?resolution=low")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.OnFrame(framecache.Entry{Result: result(model.ResolutionHigh, "skip_high.jpg"), Sequence: 1, FrameID: "skip_high.jpg"})
	hub.OnFrame(framecache.Entry{Result: result(model.ResolutionLow, "keep_low.jpg"), Sequence: 1, FrameID: "keep_low.jpg"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg FrameMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "keep_low.jpg", msg.FrameID)
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewNop())

	accepted := 0
	for i := 0; i < broadcastBuffer+5; i++ {
		if hub.Broadcast([]byte("x"), model.ResolutionLow) {
			accepted++
		}
	}
	assert.Equal(t, broadcastBuffer, accepted)
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	assert.False(t, hub.Register(nil, nil))
}

func TestHub_ReadTimeout(t *testing.T) {
	assert.Equal(t, defaultReadTimeout, NewHubService(&config.Config{}, logger.NewNop()).ReadTimeout())

	hub := NewHubService(&config.Config{ViewerTimeout: 2 * time.Second}, logger.NewNop())
	assert.Equal(t, 2*time.Second, hub.ReadTimeout())
	assert.Equal(t, 1800*time.Millisecond, hub.pingPeriod)
}

func TestHub_PingsIdleViewers(t *testing.T) {
	hub, srv := startHubWith(t, &config.Config{ViewerTimeout: 100 * time.Millisecond})

	conn := dial(t, srv, "")
	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(appData string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("no ping %d from hub", i+1)
		}
	}
	assert.Equal(t, 1, hub.GetClientCount())
}

func TestHub_OnFrameQueuesWithoutEncoding(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewNop())
	hub.clients[nil] = &viewer{}

	hub.OnFrame(framecache.Entry{Result: result(model.ResolutionMedium, "m.jpg"), Sequence: 2, FrameID: "m.jpg"})

	require.Len(t, hub.broadcast, 1)
	msg := <-hub.broadcast
	assert.Nil(t, msg.data)
	require.NotNil(t, msg.entry)
	assert.Equal(t, "m.jpg", msg.entry.FrameID)
	assert.Equal(t, model.ResolutionMedium, msg.resolution)
}

func TestHub_OnFrameSkipsWithoutViewers(t *testing.T) {
	hub := NewHubService(&config.Config{}, logger.NewNop())

	hub.OnFrame(framecache.Entry{Result: result(model.ResolutionLow, "l.jpg"), Sequence: 1})

	assert.Empty(t, hub.broadcast)
}
