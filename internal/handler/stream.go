package handler

import (
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
	"objectdetection/internal/service/framecache"
)

const (
	mjpegBoundary = "frame"
	maxStreamFPS  = 10
)

// LatestFrameHandler serves the newest annotated JPEG of one resolution.
func LatestFrameHandler(cache *framecache.Cache, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := pathResolution(w, r, logger)
		if !ok {
			return
		}

		entry, ok := cache.Latest(res)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error":      "no frame available yet",
				"resolution": res.String(),
			}, logger)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "image/jpeg")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Frame-ID", entry.FrameID)
		h.Set("X-Frame-Timestamp", entry.StoredAt.UTC().Format(time.RFC3339Nano))
		h.Set("X-Detection-Count", strconv.Itoa(entry.Result.DetectionCount()))
		h.Set("X-Frame-Sequence", strconv.FormatUint(entry.Sequence, 10))
		h.Set("X-Source-Topic", entry.Result.Topic)
		h.Set("Content-Length", strconv.Itoa(len(entry.Result.AnnotatedImage)))
		w.WriteHeader(http.StatusOK)
		w.Write(entry.Result.AnnotatedImage)
	}
}

// MJPEGHandler pushes the newest frame of one resolution as
// multipart/x-mixed-replace at a fixed cadence. Each frame is sent at most
// once; frames stored before the optional start time are skipped. The stream
// ends with the client or when streams is cancelled.
func MJPEGHandler(cache *framecache.Cache, cfg *config.Config, streams context.Context, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := pathResolution(w, r, logger)
		if !ok {
			return
		}

		start, ok := parseTime(r.URL.Query().Get("start"))
		if !ok {
			writeError(w, http.StatusBadRequest, model.CodeValidation, "start must be an ISO-8601 timestamp", logger)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, model.CodeInternal, "streaming unsupported", logger)
			return
		}

		fps := streamFPS(cfg.StreamFPS, r.URL.Query().Get("fps"))
		mw := multipart.NewWriter(w)
		if err := mw.SetBoundary(mjpegBoundary); err != nil {
			writeError(w, http.StatusInternalServerError, model.CodeInternal, err.Error(), logger)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		logger.Info("MJPEG viewer joined %s stream at %d fps", res, fps)
		defer logger.Info("MJPEG viewer left %s stream", res)

		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		var lastSeq uint64
		for {
			if entry, ok := cache.Latest(res); ok && entry.Sequence != lastSeq && !entry.StoredAt.Before(start) {
				if err := writeFrame(mw, entry); err != nil {
					return
				}
				flusher.Flush()
				lastSeq = entry.Sequence
			}

			select {
			case <-r.Context().Done():
				return
			case <-streams.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func writeFrame(mw *multipart.Writer, entry framecache.Entry) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(entry.Result.AnnotatedImage)))
	header.Set("X-Frame-ID", entry.FrameID)
	header.Set("X-Frame-Sequence", strconv.FormatUint(entry.Sequence, 10))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(entry.Result.AnnotatedImage)
	return err
}

// streamFPS returns the configured rate, lowered by the query when asked, capped at maxStreamFPS.
func streamFPS(configured int, query string) int {
	fps := configured
	if fps <= 0 {
		fps = 2
	}
	if q := atoiDefault(query, 0); q > 0 && q < fps {
		fps = q
	}
	if fps > maxStreamFPS {
		fps = maxStreamFPS
	}
	return fps
}

func pathResolution(w http.ResponseWriter, r *http.Request, logger *logger.Logger) (model.Resolution, bool) {
	res, err := model.ParseResolution(r.PathValue("resolution"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.CodeValidation, err.Error(), logger)
		return "", false
	}
	return res, true
}
