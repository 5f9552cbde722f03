package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"operator/internal/config"
)

// ErrNotFound is returned when no question is stored under the requested id.
var ErrNotFound = errors.New("storage: not found")

// QuestionRecord is an admitted question handed off to the inference pipeline.
type QuestionRecord struct {
	RequestID  string `json:"request_id"`
	PromptHash string `json:"prompt_hash,omitempty"`
	Requester  string `json:"requester,omitempty"`
	NodeID     string `json:"node_id"`
	Position   string `json:"position"`
	RangeLower string `json:"range_lower"`
	RangeUpper string `json:"range_upper"`
	ReceivedAt int64  `json:"received_at"` // unix millis
}

// Store persists admitted questions. Implementations are safe for concurrent use.
type Store interface {
	// SaveQuestion stores rec; saving an existing request id is a no-op.
	SaveQuestion(ctx context.Context, rec *QuestionRecord) error
	GetQuestion(ctx context.Context, requestID string) (*QuestionRecord, error)
	// ListQuestions returns up to limit records, newest first. limit<=0 means no limit.
	ListQuestions(ctx context.Context, limit int) ([]*QuestionRecord, error)
	Close() error
}

// Open creates the store selected by cfg.Backend.
func Open(cfg config.DBConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendLevelDB, "":
		return NewLevelDB(cfg.StorageRootPath)
	case config.BackendRedis:
		return NewRedis(cfg.RedisURL, cfg.RedisPrefix)
	case config.BackendMemory:
		return NewInMemory(), nil
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}

// InMemory is a simple in-memory store for tests and development.
type InMemory struct {
	mu        sync.RWMutex
	questions map[string]QuestionRecord
	seq       map[string]uint64
	next      uint64
}

func NewInMemory() *InMemory {
	return &InMemory{
		questions: map[string]QuestionRecord{},
		seq:       map[string]uint64{},
	}
}

func (s *InMemory) SaveQuestion(_ context.Context, rec *QuestionRecord) error {
	if rec == nil || rec.RequestID == "" {
		return errors.New("storage: request id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[rec.RequestID]; ok {
		return nil
	}
	s.questions[rec.RequestID] = *rec
	s.next++
	s.seq[rec.RequestID] = s.next
	return nil
}

func (s *InMemory) GetQuestion(_ context.Context, requestID string) (*QuestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.questions[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: question %s", ErrNotFound, requestID)
	}
	return &rec, nil
}

func (s *InMemory) ListQuestions(_ context.Context, limit int) ([]*QuestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*QuestionRecord, 0, len(s.questions))
	for _, rec := range s.questions {
		cp := rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].RequestID] > s.seq[out[j].RequestID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Close() error { return nil }
