package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"objectdetection/internal/dto"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

// CorrelationHeader carries the caller's correlation id in both directions.
const CorrelationHeader = "X-Correlation-ID"

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// writeError writes an ErrorBody for a classified error.
func writeError(w http.ResponseWriter, status int, code model.ErrorCode, message string, logger *logger.Logger) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   dto.ErrorBody{Code: string(code), Message: message},
	}, logger)
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseTime accepts RFC 3339 timestamps and plain dates ("2006-01-02").
func parseTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
