package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore keeps questions under q:<id> and an insertion-ordered index
// under qi:<seq>.
type LevelDBStore struct {
	db *leveldb.DB

	mu  sync.Mutex // serializes SaveQuestion so seq and existence checks agree
	seq uint64
}

func NewLevelDB(path string) (*LevelDBStore, error) {
	if path == "" {
		return nil, errors.New("storage: leveldb path required")
	}
	p := filepath.Clean(path)
	db, err := leveldb.OpenFile(p, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelDBStore{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDBStore) Close() error { return s.db.Close() }

var indexPrefix = []byte("qi:")

func keyQuestion(id string) []byte { return []byte(fmt.Sprintf("q:%s", id)) }

func keyIndex(seq uint64) []byte {
	k := make([]byte, len(indexPrefix)+8)
	copy(k, indexPrefix)
	binary.BigEndian.PutUint64(k[len(indexPrefix):], seq)
	return k
}

func (s *LevelDBStore) loadSeq() error {
	it := s.db.NewIterator(util.BytesPrefix(indexPrefix), nil)
	defer it.Release()
	if it.Last() {
		s.seq = binary.BigEndian.Uint64(it.Key()[len(indexPrefix):])
	}
	return it.Error()
}

func (s *LevelDBStore) SaveQuestion(_ context.Context, rec *QuestionRecord) error {
	if rec == nil || rec.RequestID == "" {
		return errors.New("storage: request id required")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(keyQuestion(rec.RequestID), nil)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	batch := new(leveldb.Batch)
	batch.Put(keyQuestion(rec.RequestID), b)
	batch.Put(keyIndex(s.seq+1), []byte(rec.RequestID))
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	s.seq++
	return nil
}

func (s *LevelDBStore) GetQuestion(_ context.Context, requestID string) (*QuestionRecord, error) {
	data, err := s.db.Get(keyQuestion(requestID), nil)
	if err == leveldb.ErrNotFound {
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

func (s *LevelDBStore) ListQuestions(ctx context.Context, limit int) ([]*QuestionRecord, error) {
	it := s.db.NewIterator(util.BytesPrefix(indexPrefix), nil)
	defer it.Release()

	var out []*QuestionRecord
	for ok := it.Last(); ok; ok = it.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, err := s.GetQuestion(ctx, string(it.Value()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, it.Error()
}
