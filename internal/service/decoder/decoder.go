// Package decoder turns an inbound multi-resolution upload into a FrameRequest.
package decoder

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"

	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

const (
	topicField             = "topic"
	correlationField       = "correlation_id"
	includeDetectionsField = "include_detections"

	// MaxTopicLength bounds the source topic in bytes.
	MaxTopicLength = 256
)

// part is one named section of the upload, however it was found.
type part struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

// resolution returns the resolution a part carries, matching the form name
// first and the file name second.
func (p part) resolution() (model.Resolution, bool) {
	if r, err := model.ParseResolution(p.name); err == nil {
		return r, true
	}
	if p.filename != "" {
		if r, err := model.ParseResolution(p.filename); err == nil {
			return r, true
		}
	}
	return "", false
}

// Decoder parses upload bodies. It holds no per-request state and is safe for
// concurrent use.
type Decoder struct {
	maxBytes int64
	logger   *logger.Logger
	now      func() time.Time
}

// New returns a Decoder that rejects bodies larger than maxBytes.
func New(maxBytes int64, logger *logger.Logger) *Decoder {
	return &Decoder{maxBytes: maxBytes, logger: logger, now: time.Now}
}

// Decode reads body and extracts one buffer per resolution. Problems with a
// single resolution are recorded in FrameRequest.DecodeErrors; only a body that
// cannot be read at all, is too large, or carries no recognisable structure
// fails with a ValidationError. correlationID is used when the form does not
// carry one; if both are empty a new id is generated.
func (d *Decoder) Decode(body io.Reader, contentType, correlationID string) (*model.FrameRequest, error) {
	raw, err := d.readBody(body)
	if err != nil {
		return nil, err
	}

	parts, boundary, structErr := parseStructured(raw, contentType)
	if structErr != nil || countResolutionParts(parts) == 0 {
		scanned := scanRaw(raw, boundary)
		if countResolutionParts(scanned) > countResolutionParts(parts) {
			if structErr != nil {
				d.logger.Warning("Structured multipart parse failed (%v), recovered %d part(s) by raw scan", structErr, len(scanned))
			}
			parts = scanned
		}
	}
	if len(parts) == 0 {
		reason := "no multipart sections or resolution markers found"
		if structErr != nil {
			reason = structErr.Error()
		}
		return nil, model.NewError(model.CodeValidation, "", "unrecognised upload: %s", reason)
	}

	return d.build(parts, correlationID)
}

func (d *Decoder) readBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, model.NewError(model.CodeValidation, "", "empty request body")
	}
	limit := d.maxBytes
	if limit <= 0 {
		limit = 32 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, model.WrapError(model.CodeValidation, "", errors.Wrap(err, "failed to read request body"))
	}
	if int64(len(raw)) > limit {
		return nil, model.NewError(model.CodeValidation, "", "request body exceeds %d bytes", limit)
	}
	if len(raw) == 0 {
		return nil, model.NewError(model.CodeValidation, "", "empty request body")
	}
	return raw, nil
}

func (d *Decoder) build(parts []part, correlationID string) (*model.FrameRequest, error) {
	req := &model.FrameRequest{
		Topic:        model.UnknownTopic,
		Frames:       make(map[model.Resolution][]byte, len(model.Resolutions)),
		DecodeErrors: make(map[model.Resolution]*model.Error),
		ReceivedAt:   d.now(),
	}

	var formCorrelation string
	for _, p := range parts {
		if res, ok := p.resolution(); ok {
			if _, seen := req.Frames[res]; seen {
				continue
			}
			if _, seen := req.DecodeErrors[res]; seen {
				continue
			}
			frame, derr := classify(p.data)
			if derr != nil {
				derr.Resolution = res
				req.DecodeErrors[res] = derr
				continue
			}
			req.Frames[res] = frame
			continue
		}

		value := strings.TrimSpace(string(p.data))
		switch strings.ToLower(p.name) {
		case topicField:
			if value == "" {
				continue
			}
			if err := validateTopic(value); err != nil {
				return nil, err
			}
			req.Topic = value
		case correlationField:
			formCorrelation = value
		case includeDetectionsField:
			req.IncludeDetections = value == "1" || strings.EqualFold(value, "true")
		}
	}

	req.CorrelationID = firstNonEmpty(formCorrelation, correlationID)
	if req.CorrelationID == "" {
		req.CorrelationID = NewCorrelationID()
	}
	return req, nil
}

// NewCorrelationID returns a random request id.
func NewCorrelationID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return strings.ReplaceAll(time.Now().UTC().Format("20060102T150405.000000000"), ".", "")
	}
	return id.String()
}

func validateTopic(topic string) error {
	if len(topic) > MaxTopicLength {
		return model.NewError(model.CodeValidation, "", "topic exceeds %d bytes", MaxTopicLength)
	}
	for _, r := range topic {
		if unicode.IsControl(r) {
			return model.NewError(model.CodeValidation, "", "topic contains control characters")
		}
	}
	return nil
}

func countResolutionParts(parts []part) int {
	n := 0
	for _, p := range parts {
		if _, ok := p.resolution(); ok {
			n++
		}
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// trimLineEnd drops one trailing CRLF or LF.
func trimLineEnd(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}
