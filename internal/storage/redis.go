package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each question as a JSON string and orders ids in a sorted
// set scored by insertion sequence.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the redis:// URL. prefix namespaces all keys.
func NewRedis(rawURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("storage: parse redis url: %w", err)
	}
	return NewRedisWithClient(redis.NewClient(opts), prefix), nil
}

func NewRedisWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "operator"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyQuestion(id string) string { return s.prefix + ":q:" + id }
func (s *RedisStore) keyIndex() string             { return s.prefix + ":questions" }
func (s *RedisStore) keySeq() string               { return s.prefix + ":questions:seq" }

func (s *RedisStore) SaveQuestion(ctx context.Context, rec *QuestionRecord) error {
	if rec == nil || rec.RequestID == "" {
		return errors.New("storage: request id required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	created, err := s.client.SetNX(ctx, s.keyQuestion(rec.RequestID), b, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	seq, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.keyIndex(), redis.Z{Score: float64(seq), Member: rec.RequestID}).Err()
}

func (s *RedisStore) GetQuestion(ctx context.Context, requestID string) (*QuestionRecord, error) {
	data, err := s.client.Get(ctx, s.keyQuestion(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: question %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, err
	}
	var rec QuestionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) ListQuestions(ctx context.Context, limit int) ([]*QuestionRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.keyIndex(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyQuestion(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*QuestionRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec QuestionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
