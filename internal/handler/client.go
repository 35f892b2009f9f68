package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service"
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler handles viewer connections over WebSocket and
// registers them in the HubService to receive new frames. The optional
// "resolution" query (comma separated) narrows what the viewer receives.
func ViewWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter []model.Resolution
		if q := r.URL.Query().Get("resolution"); q != "" {
			for _, name := range strings.Split(q, ",") {
				res, err := model.ParseResolution(name)
				if err != nil {
					writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error(), logger)
					return
				}
				filter = append(filter, res)
			}
		}

		hub := manager.GetWebsocketService()
		if hub == nil {
			writeError(w, http.StatusServiceUnavailable, model.CodeInternal, "live view disabled", logger)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		readTimeout := hub.ReadTimeout()
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(readTimeout))
		connection.SetPongHandler(func(string) error {
			connection.SetReadDeadline(time.Now().Add(readTimeout))
			return nil
		})

		if !hub.Register(connection, filter) {
			connection.Close()
			return
		}
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected: %v", err)
				}
				return
			}
			connection.SetReadDeadline(time.Now().Add(readTimeout))
		}
	}
}
