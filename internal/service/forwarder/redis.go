package forwarder

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps each stream; older entries are trimmed approximately.
const streamMaxLen = 1000

// RedisSink appends each frame to the stream <prefix>:<topic>.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to addr and checks the connection.
func NewRedisSink(ctx context.Context, addr, prefix string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", addr, err)
	}
	return NewRedisSinkFromClient(client, prefix), nil
}

// NewRedisSinkFromClient wraps an existing client.
func NewRedisSinkFromClient(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return SinkRedis }

// Stream returns the stream key for a source topic.
func (s *RedisSink) Stream(topic string) string {
	return s.prefix + ":" + topic
}

func (s *RedisSink) Send(ctx context.Context, msg *Message) error {
	p := NewPayload(msg, false)
	payload, err := p.marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Stream(p.Topic),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"frame_id":        p.FrameID,
			"resolution":      p.Resolution,
			"correlation_id":  p.CorrelationID,
			"sequence":        strconv.FormatUint(p.Sequence, 10),
			"detection_count": strconv.Itoa(p.DetectionCount),
			"payload":         string(payload),
			"image":           msg.Result.AnnotatedImage,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to %s failed: %w", s.Stream(p.Topic), err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
