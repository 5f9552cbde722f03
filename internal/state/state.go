package state

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"operator/internal/crypto"
)

// DefaultCacheCapacity applies when the configured capacity is zero.
const DefaultCacheCapacity = 1024

var errNilIdentity = errors.New("state: identity required")

// MessageMeta describes an admitted message.
type MessageMeta struct {
	RequestID  string
	PromptHash []byte
	Requester  common.Address
	Position   string
	AdmittedAt time.Time
}

// Counters are cumulative request statistics.
type Counters struct {
	Received     uint64 `json:"received"`
	Admitted     uint64 `json:"admitted"`
	Rejected     uint64 `json:"rejected"`
	Duplicates   uint64 `json:"duplicates"`
	AuthFailures uint64 `json:"auth_failures"`
}

// Snapshot is a consistent copy of the state taken under the read lock.
type Snapshot struct {
	NodeID     common.Address
	Capacity   int
	MessageIDs []string // oldest first
	Counters   Counters
}

// ServerState is shared by all request handlers. Reads run in parallel;
// mutations hold the write lock and must not perform I/O.
type ServerState struct {
	mu       sync.RWMutex
	identity *crypto.OperatorIdentity
	capacity int
	cache    *simplelru.LRU[string, MessageMeta]
	counters Counters
}

// New creates the state for identity with a message cache bounded by capacity.
func New(identity *crypto.OperatorIdentity, capacity int) (*ServerState, error) {
	if identity == nil {
		return nil, errNilIdentity
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	// Entries are only read with Peek/Contains, so recency never changes and
	// eviction removes the oldest insertion.
	cache, err := simplelru.NewLRU[string, MessageMeta](capacity, nil)
	if err != nil {
		return nil, err
	}
	return &ServerState{identity: identity, capacity: capacity, cache: cache}, nil
}

func (s *ServerState) Identity() *crypto.OperatorIdentity { return s.identity }

func (s *ServerState) Capacity() int { return s.capacity }

func (s *ServerState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

func (s *ServerState) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Contains(id)
}

// Lookup returns the metadata cached for id.
func (s *ServerState) Lookup(id string) (MessageMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Peek(id)
}

// Snapshot copies the current state.
func (s *ServerState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		NodeID:     s.identity.NodeID(),
		Capacity:   s.capacity,
		MessageIDs: s.cache.Keys(),
		Counters:   s.counters,
	}
}

// Mutable is the view handed to Mutate callbacks. It is only valid for the
// duration of the callback.
type Mutable struct {
	s *ServerState
}

// Remember inserts id, evicting the oldest entry when full. It returns false
// when id was already present, in which case nothing changes.
func (m *Mutable) Remember(id string, meta MessageMeta) bool {
	if m.s.cache.Contains(id) {
		return false
	}
	m.s.cache.Add(id, meta)
	return true
}

func (m *Mutable) Counters() *Counters { return &m.s.counters }

func (m *Mutable) Len() int { return m.s.cache.Len() }

// Mutate runs f under the write lock.
func (s *ServerState) Mutate(f func(*Mutable)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&Mutable{s: s})
}

// Remember is Mutate with a single insertion.
func (s *ServerState) Remember(id string, meta MessageMeta) bool {
	var inserted bool
	s.Mutate(func(m *Mutable) { inserted = m.Remember(id, meta) })
	return inserted
}
