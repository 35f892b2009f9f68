package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSink posts each frame as multipart/form-data: the annotated JPEG under
// the resolution name plus topic, resolution, frame_id, sequence and the
// detections as JSON.
type HTTPSink struct {
	client *resty.Client
	url    string
}

// NewHTTPSink returns a sink posting to url. Retries are left to the Forwarder.
func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	return &HTTPSink{client: client, url: url}
}

func (s *HTTPSink) Name() string { return SinkHTTP }

func (s *HTTPSink) Send(ctx context.Context, msg *Message) error {
	r := msg.Result
	detections, err := json.Marshal(NewPayload(msg, false).Detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetFileReader(r.Resolution.String(), r.IndexedFilename, bytes.NewReader(r.AnnotatedImage)).
		SetFormData(map[string]string{
			"topic":          r.Topic,
			"resolution":     r.Resolution.String(),
			"frame_id":       r.IndexedFilename,
			"correlation_id": r.CorrelationID,
			"sequence":       strconv.FormatUint(msg.Sequence, 10),
			"detections":     string(detections),
		}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("couldn't reach sink %s: %w", s.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("sink %s answered %s", s.url, resp.Status())
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }
