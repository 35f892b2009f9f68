// Package aggregator folds per-resolution outcomes into one response and an
// HTTP status.
package aggregator

import (
	"net/http"
	"time"

	"objectdetection/internal/dto"
	"objectdetection/internal/model"
)

// Aggregate builds the response for a dispatched request. It only reads
// terminal task state and never blocks.
//
// The request succeeds when at least one resolution succeeded. When all
// failed the status is 422 if every failure came from the caller's payload,
// 504 if every failure was a timeout and 500 otherwise.
func Aggregate(outcome *model.Outcome) (*dto.DetectResponse, int) {
	resp := &dto.DetectResponse{
		CorrelationID:    outcome.CorrelationID,
		SourceTopic:      topicOrUnknown(outcome.Topic),
		Results:          make([]dto.ResultEntry, 0, len(model.Resolutions)),
		ProcessingTimeMs: millis(outcome.Elapsed),
		Timestamp:        timestamp(outcome.StartedAt.Add(outcome.Elapsed)),
	}

	byRes := make(map[model.Resolution]model.ResolutionOutcome, len(outcome.Results))
	for _, r := range outcome.Results {
		byRes[r.Resolution] = r
	}

	var (
		succeeded, clientSide, timedOut int
		firstErr                        *model.Error
	)
	for _, res := range model.Resolutions {
		r, ok := byRes[res]
		if !ok {
			r = model.ResolutionOutcome{
				Resolution: res,
				State:      model.TaskFailed,
				Err:        model.NewError(model.CodeInternal, res, "resolution was not dispatched"),
			}
		}
		entry := entryFor(r, outcome.IncludeDetections)
		resp.Results = append(resp.Results, entry)

		if r.State == model.TaskSucceeded {
			succeeded++
			continue
		}
		err := errorOf(r)
		if firstErr == nil {
			firstErr = err
		}
		if model.IsClientError(err.Code) {
			clientSide++
		}
		if err.Code == model.CodeTimeout {
			timedOut++
		}
	}

	if succeeded > 0 {
		resp.Success = true
		return resp, http.StatusOK
	}

	total := len(model.Resolutions)
	status := http.StatusInternalServerError
	code := model.CodeOf(firstErr)
	switch {
	case clientSide == total:
		status = http.StatusUnprocessableEntity
	case timedOut == total:
		status = http.StatusGatewayTimeout
		code = model.CodeTimeout
	}
	resp.Error = &dto.ErrorBody{
		Code:    string(code),
		Message: "all resolutions failed",
	}
	return resp, status
}

// Rejected builds the response for a request refused before dispatch.
func Rejected(correlationID, topic string, err error, received time.Time) (*dto.DetectResponse, int) {
	code := model.CodeOf(err)
	status := http.StatusBadRequest
	if code == model.CodeInternal {
		status = http.StatusInternalServerError
	}

	codeStr := string(code)
	resp := &dto.DetectResponse{
		Success:          false,
		CorrelationID:    correlationID,
		SourceTopic:      topicOrUnknown(topic),
		Results:          make([]dto.ResultEntry, 0, len(model.Resolutions)),
		ProcessingTimeMs: millis(time.Since(received)),
		Timestamp:        timestamp(time.Now()),
		Error:            &dto.ErrorBody{Code: codeStr, Message: messageOf(err)},
	}
	for _, res := range model.Resolutions {
		resp.Results = append(resp.Results, dto.ResultEntry{
			Resolution: res.String(),
			Error:      &codeStr,
		})
	}
	return resp, status
}

func entryFor(r model.ResolutionOutcome, includeDetections bool) dto.ResultEntry {
	entry := dto.ResultEntry{
		Resolution: r.Resolution.String(),
		Sequence:   r.Sequence,
	}
	if r.State == model.TaskSucceeded && r.Result != nil {
		name := r.Result.IndexedFilename
		count := r.Result.DetectionCount()
		ms := millis(r.Result.ProcessingTime)
		entry.IndexedFilename = &name
		entry.DetectionCount = &count
		entry.ProcessingTimeMs = &ms
		if includeDetections {
			entry.Detections = r.Result.Detections
		}
		return entry
	}

	err := errorOf(r)
	code := string(err.Code)
	entry.Error = &code
	entry.ErrorMessage = err.Message
	return entry
}

// errorOf returns the error of a non-successful outcome, filling one in
// when the task ended without recording one.
func errorOf(r model.ResolutionOutcome) *model.Error {
	if r.Err != nil {
		return r.Err
	}
	if r.State == model.TaskTimedOut {
		return model.NewError(model.CodeTimeout, r.Resolution, "timed out")
	}
	return model.NewError(model.CodeInternal, r.Resolution, "task ended in state %s", r.State)
}

func messageOf(err error) string {
	if me, ok := err.(*model.Error); ok && me.Message != "" {
		return me.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func topicOrUnknown(topic string) string {
	if topic == "" {
		return model.UnknownTopic
	}
	return topic
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
