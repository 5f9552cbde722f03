package state

import (
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	geth "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"operator/internal/crypto"
)

func newState(t *testing.T, capacity int) *ServerState {
	t.Helper()
	key, err := geth.GenerateKey()
	require.NoError(t, err)
	id, err := crypto.ResolveIdentity(geth.PubkeyToAddress(key.PublicKey).Hex(), hex.EncodeToString(geth.FromECDSA(key)))
	require.NoError(t, err)
	s, err := New(id, capacity)
	require.NoError(t, err)
	return s
}

func TestNewRequiresIdentity(t *testing.T) {
	_, err := New(nil, 10)
	assert.Error(t, err)
}

func TestNewDefaultsCapacity(t *testing.T) {
	s := newState(t, 0)
	assert.Equal(t, DefaultCacheCapacity, s.Capacity())
}

func TestRememberEvictsOldestFirst(t *testing.T) {
	const capacity = 4
	s := newState(t, capacity)

	for i := 0; i <= capacity; i++ {
		id := fmt.Sprintf("msg-%d", i)
		assert.True(t, s.Remember(id, MessageMeta{RequestID: id}))
	}

	assert.Equal(t, capacity, s.Len())
	assert.False(t, s.Contains("msg-0"), "oldest entry should be evicted")
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3", "msg-4"}, s.Snapshot().MessageIDs)
}

func TestRememberDuplicateIsIdempotent(t *testing.T) {
	s := newState(t, 3)
	first := MessageMeta{RequestID: "a", AdmittedAt: time.Unix(1, 0)}

	require.True(t, s.Remember("a", first))
	require.True(t, s.Remember("b", MessageMeta{RequestID: "b"}))

	assert.False(t, s.Remember("a", MessageMeta{RequestID: "a", AdmittedAt: time.Unix(2, 0)}))
	assert.Equal(t, 2, s.Len())

	meta, ok := s.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, first.AdmittedAt, meta.AdmittedAt)

	// a duplicate must not refresh age: "a" is still evicted first
	require.True(t, s.Remember("c", MessageMeta{}))
	require.True(t, s.Remember("d", MessageMeta{}))
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newState(t, 2)
	s.Remember("a", MessageMeta{})
	snap := s.Snapshot()
	snap.MessageIDs[0] = "mutated"
	snap.Counters.Admitted = 99

	again := s.Snapshot()
	assert.Equal(t, []string{"a"}, again.MessageIDs)
	assert.Zero(t, again.Counters.Admitted)
	assert.Equal(t, s.Identity().NodeID(), again.NodeID)
}

func TestConcurrentReadsNeverSeeTornWrites(t *testing.T) {
	const (
		capacity = 16
		writers  = 8
		perW     = 200
		readers  = 8
	)
	s := newState(t, capacity)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, readers)

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				// cache and counter are updated in one critical section
				want := int(snap.Counters.Admitted)
				if want > capacity {
					want = capacity
				}
				if len(snap.MessageIDs) != want {
					errs <- fmt.Sprintf("torn read: %d ids, %d admitted", len(snap.MessageIDs), snap.Counters.Admitted)
					return
				}
			}
		}()
	}

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func(w int) {
			defer writersWG.Done()
			for i := 0; i < perW; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				s.Mutate(func(m *Mutable) {
					if m.Remember(id, MessageMeta{RequestID: id}) {
						m.Counters().Admitted++
					}
				})
			}
		}(w)
	}
	writersWG.Wait()
	close(stop)
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
	snap := s.Snapshot()
	assert.Equal(t, uint64(writers*perW), snap.Counters.Admitted)
	assert.Len(t, snap.MessageIDs, capacity)
}
