package forwarder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"objectdetection/internal/config"
	"objectdetection/internal/logger"
	"objectdetection/internal/model"
)

// Sink kinds accepted by SINK_KIND.
const (
	SinkNone  = "none"
	SinkHTTP  = "http"
	SinkMQTT  = "mqtt"
	SinkRedis = "redis"
)

// Sink delivers one annotated frame downstream.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// Message is one queued delivery.
type Message struct {
	Result   *model.DetectionResult
	Sequence uint64
	Attempts int
}

// Payload is the JSON form of a Message used by the broker sinks.
type Payload struct {
	FrameID        string            `json:"frame_id"`
	Resolution     string            `json:"resolution"`
	Topic          string            `json:"topic"`
	CorrelationID  string            `json:"correlation_id"`
	Sequence       uint64            `json:"sequence"`
	DetectionCount int               `json:"detection_count"`
	Labels         []string          `json:"labels"`
	Detections     []model.Detection `json:"detections"`
	Timestamp      string            `json:"timestamp"`
	Image          string            `json:"image,omitempty"`
}

// NewPayload flattens msg. The annotated image is embedded as base64 when withImage is set.
func NewPayload(msg *Message, withImage bool) Payload {
	r := msg.Result
	p := Payload{
		FrameID:        r.IndexedFilename,
		Resolution:     r.Resolution.String(),
		Topic:          r.Topic,
		CorrelationID:  r.CorrelationID,
		Sequence:       msg.Sequence,
		DetectionCount: r.DetectionCount(),
		Labels:         r.Labels(),
		Detections:     r.Detections,
		Timestamp:      r.ProducedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Detections == nil {
		p.Detections = []model.Detection{}
	}
	if withImage {
		p.Image = base64.StdEncoding.EncodeToString(r.AnnotatedImage)
	}
	return p
}

func (p Payload) marshal() ([]byte, error) {
	return json.Marshal(p)
}

// NewSink builds the sink named by cfg.SinkKind. SinkNone yields a nil sink.
func NewSink(ctx context.Context, cfg *config.Config, logger *logger.Logger) (Sink, error) {
	switch strings.ToLower(cfg.SinkKind) {
	case "", SinkNone:
		return nil, nil
	case SinkHTTP:
		if cfg.SinkURL == "" {
			return nil, fmt.Errorf("SINK_URL is required for the http sink")
		}
		return NewHTTPSink(cfg.SinkURL, cfg.ForwardTimeout), nil
	case SinkMQTT:
		if cfg.MQTTBroker == "" {
			return nil, fmt.Errorf("MQTT_BROKER is required for the mqtt sink")
		}
		clientID := "objectdetection"
		if cfg.ReplicaID != "" {
			clientID += "-" + cfg.ReplicaID
		}
		sink, err := NewMQTTSink(ctx, cfg.MQTTBroker, clientID, cfg.SinkTopicPrefix, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case SinkRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis sink")
		}
		sink, err := NewRedisSink(ctx, cfg.RedisAddr, cfg.SinkTopicPrefix)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.SinkKind)
	}
}
