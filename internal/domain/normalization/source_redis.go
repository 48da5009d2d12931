package normalization

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStreamSource reads error records from a Redis stream. Each entry
// carries the JSON-encoded record in its "data" field; the entry id becomes
// the record id. Ack deletes the entries.
type RedisStreamSource struct {
	client *redis.Client
	stream string
}

func NewRedisStreamSource(client *redis.Client, stream string) *RedisStreamSource {
	return &RedisStreamSource{client: client, stream: stream}
}

func (s *RedisStreamSource) Records(ctx context.Context) ([]ErrorRecord, error) {
	msgs, err := s.client.XRange(ctx, s.stream, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", s.stream, err)
	}

	records := make([]ErrorRecord, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: stream entry %s has no data field", ErrDataExtraction, msg.ID)
		}
		var r ErrorRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("%w: stream entry %s: %v", ErrDataExtraction, msg.ID, err)
		}
		r.ID = msg.ID
		records = append(records, r)
	}
	return records, nil
}

func (s *RedisStreamSource) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XDel(ctx, s.stream, ids...).Err(); err != nil {
		return fmt.Errorf("delete stream entries from %s: %w", s.stream, err)
	}
	return nil
}
