package operator

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"operator/internal/blockchain"
	"operator/internal/config"
	"operator/internal/crypto"
	"operator/internal/dispatcher"
	"operator/internal/messaging"
	"operator/internal/storage"
)

type stubOracle struct {
	mu    sync.Mutex
	lower int64
	upper int64
	err   error
	calls atomic.Int32
}

func (o *stubOracle) GetRange(_ context.Context, addr common.Address) (*blockchain.RangeAssignment, error) {
	o.calls.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return &blockchain.RangeAssignment{
		NodeAddress: addr,
		Lower:       big.NewInt(o.lower),
		Upper:       big.NewInt(o.upper),
	}, nil
}

func fullRange() *stubOracle { return &stubOracle{lower: 0, upper: 10000} }

type stubDispatcher struct {
	registerStatus int
	registerErr    error
	registers      atomic.Int32
	heartbeats     atomic.Int32
}

func (d *stubDispatcher) Register(context.Context, dispatcher.HeartbeatConfig) (int, error) {
	d.registers.Add(1)
	return d.registerStatus, d.registerErr
}

func (d *stubDispatcher) Heartbeat(context.Context, dispatcher.HeartbeatConfig) (int, error) {
	d.heartbeats.Add(1)
	return http.StatusOK, nil
}

// trackingStore wraps InMemory to observe Close and inject save failures.
type trackingStore struct {
	*storage.InMemory
	closed   atomic.Bool
	failSave atomic.Bool
}

func newTrackingStore() *trackingStore { return &trackingStore{InMemory: storage.NewInMemory()} }

func (s *trackingStore) SaveQuestion(ctx context.Context, rec *storage.QuestionRecord) error {
	if s.failSave.Load() {
		return errors.New("disk full")
	}
	return s.InMemory.SaveQuestion(ctx, rec)
}

func (s *trackingStore) Close() error {
	s.closed.Store(true)
	return nil
}

func testConfig(t *testing.T, authMode string) *config.OperatorConfig {
	t.Helper()
	key, err := geth.GenerateKey()
	require.NoError(t, err)

	cfg := &config.OperatorConfig{}
	cfg.Node.NodeID = geth.PubkeyToAddress(key.PublicKey).Hex()
	cfg.Node.SignerKey = hex.EncodeToString(geth.FromECDSA(key))
	cfg.Node.AuthMode = authMode
	cfg.Node.HeartbeatInterval = 1
	cfg.Node.CacheMsgMaximum = 4
	cfg.Node.AIModels = []string{"llama3"}
	cfg.Net.RestURL = "127.0.0.1:0"
	cfg.Net.DispatcherURL = "http://dispatcher.invalid"
	cfg.Chain.VRFSortPrecision = 4
	cfg.Chain.CallTimeout = time.Second
	cfg.DB.Backend = config.BackendMemory
	cfg.API.ReadMaximum = 3
	return cfg
}

type harness struct {
	node   *Node
	oracle *stubOracle
	store  *trackingStore
	disp   *stubDispatcher
	bus    *messaging.MemoryBus
	server *httptest.Server
}

func newHarness(t *testing.T, authMode string, oracle *stubOracle) *harness {
	t.Helper()
	h := &harness{
		oracle: oracle,
		store:  newTrackingStore(),
		disp:   &stubDispatcher{registerStatus: http.StatusOK},
		bus:    messaging.NewMemoryBus(),
	}
	f := NewFactory(testConfig(t, authMode),
		WithRangeOracle(h.oracle),
		WithStore(h.store),
		WithDispatcherClient(h.disp),
		WithEventBus(h.bus),
	)
	node, err := f.Initialize(context.Background())
	require.NoError(t, err)
	t.Cleanup(node.Shutdown)
	h.node = node
	h.server = httptest.NewServer(node.Handler())
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) post(t *testing.T, body interface{}) (int, Envelope) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return h.do(t, http.MethodPost, "/api/v1/question", payload)
}

func (h *harness) do(t *testing.T, method, path string, body []byte) (int, Envelope) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func promptHash(s string) []byte { return geth.Keccak256([]byte(s)) }

func TestRegistrationFailureIsFatal(t *testing.T) {
	for name, disp := range map[string]*stubDispatcher{
		"non-success status": {registerStatus: http.StatusServiceUnavailable},
		"transport error":    {registerErr: errors.New("connection refused")},
	} {
		t.Run(name, func(t *testing.T) {
			store := newTrackingStore()
			f := NewFactory(testConfig(t, "optional"),
				WithRangeOracle(fullRange()),
				WithStore(store),
				WithDispatcherClient(disp),
			)
			node, err := f.Initialize(context.Background())
			require.ErrorIs(t, err, dispatcher.ErrRegistrationFailed)
			assert.Nil(t, node)
			assert.True(t, store.closed.Load())

			time.Sleep(1200 * time.Millisecond)
			assert.Zero(t, disp.heartbeats.Load(), "no heartbeat task after failed registration")
		})
	}
}

func TestInitializeRejectsBadIdentity(t *testing.T) {
	cfg := testConfig(t, "optional")
	cfg.Node.NodeID = "0x1234"
	disp := &stubDispatcher{registerStatus: http.StatusOK}
	_, err := NewFactory(cfg, WithRangeOracle(fullRange()), WithDispatcherClient(disp)).Initialize(context.Background())
	require.Error(t, err)
	assert.Zero(t, disp.registers.Load())
}

func TestUnsignedQuestionSkipsVerification(t *testing.T) {
	h := newHarness(t, "optional", fullRange())

	status, env := h.post(t, QuestionRequest{RequestID: "req-1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, CodeSuccess, env.ErrorCode)
	assert.Equal(t, "req-1", env.RequestID)

	data := env.Data.(map[string]interface{})
	assert.Equal(t, false, data["verified"])

	snap := h.node.Operator().State().Snapshot()
	assert.Zero(t, snap.Counters.AuthFailures)
	assert.Equal(t, uint64(1), snap.Counters.Admitted)
	assert.Equal(t, []string{"req-1"}, snap.MessageIDs)
}

func TestOracleFailureReturnsRangeOracleCode(t *testing.T) {
	h := newHarness(t, "optional", &stubOracle{err: errors.New("execution reverted")})

	status, env := h.post(t, QuestionRequest{RequestID: "req-1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, CodeRangeOracleUnavailable, env.ErrorCode)
	assert.Nil(t, env.Data)
	assert.NotEmpty(t, env.ErrorMessage)

	snap := h.node.Operator().State().Snapshot()
	assert.Empty(t, snap.MessageIDs)
	assert.Equal(t, uint64(1), snap.Counters.Rejected)
}

func TestQuestionOutsideRange(t *testing.T) {
	h := newHarness(t, "optional", &stubOracle{lower: 0, upper: 0})

	_, env := h.post(t, QuestionRequest{RequestID: "req-1"})
	assert.Equal(t, CodeNotInRange, env.ErrorCode)
	assert.Nil(t, env.Data)
	assert.False(t, h.node.Operator().State().Contains("req-1"))
}

func TestSignedQuestion(t *testing.T) {
	h := newHarness(t, "required", fullRange())

	var (
		eventsMu sync.Mutex
		events   []messaging.QuestionAdmitted
	)
	received := func() []messaging.QuestionAdmitted {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		return append([]messaging.QuestionAdmitted(nil), events...)
	}
	_, err := h.bus.Subscribe(messaging.SubjectQuestionAdmitted, func(b []byte) {
		var ev messaging.QuestionAdmitted
		if json.Unmarshal(b, &ev) == nil {
			eventsMu.Lock()
			events = append(events, ev)
			eventsMu.Unlock()
		}
	})
	require.NoError(t, err)

	signer, err := crypto.GenerateRequestSigner()
	require.NoError(t, err)
	requester := signer.Address()
	hash, sig, err := signer.SignPrompt([]byte("what is go?"))
	require.NoError(t, err)

	q := QuestionRequest{
		RequestID:        "signed",
		PromptHash:       "0x" + hex.EncodeToString(hash),
		Signature:        hex.EncodeToString(sig),
		RequesterAddress: requester.Hex(),
	}
	_, env := h.post(t, q)
	require.Equal(t, CodeSuccess, env.ErrorCode, env.ErrorMessage)
	assert.Equal(t, true, env.Data.(map[string]interface{})["verified"])

	rec, err := h.store.GetQuestion(context.Background(), "signed")
	require.NoError(t, err)
	assert.Equal(t, requester.Hex(), rec.Requester)

	got := received()
	require.Len(t, got, 1)
	assert.Equal(t, "signed", got[0].RequestID)
	assert.Equal(t, requester.Hex(), got[0].Requester)

	// Duplicates are not announced again.
	_, env = h.post(t, q)
	assert.Equal(t, true, env.Data.(map[string]interface{})["duplicate"])
	assert.Len(t, received(), 1)
}

func TestAuthRequiredRejectsUnsigned(t *testing.T) {
	h := newHarness(t, "required", fullRange())

	_, env := h.post(t, QuestionRequest{RequestID: "req-1"})
	assert.Equal(t, CodeAuthenticationFailed, env.ErrorCode)
	assert.Zero(t, h.oracle.calls.Load(), "rejected before the range oracle is queried")
	assert.Equal(t, uint64(1), h.node.Operator().State().Snapshot().Counters.AuthFailures)
}

func TestAuthOptionalProceedsOnMismatch(t *testing.T) {
	h := newHarness(t, "optional", fullRange())

	key, err := geth.GenerateKey()
	require.NoError(t, err)
	hash := promptHash("hello")
	sig, err := geth.Sign(hash, key)
	require.NoError(t, err)

	_, env := h.post(t, QuestionRequest{
		RequestID:        "mismatch",
		PromptHash:       hex.EncodeToString(hash),
		Signature:        hex.EncodeToString(sig),
		RequesterAddress: "0x000000000000000000000000000000000000dEaD",
	})
	assert.Equal(t, CodeSuccess, env.ErrorCode)
	assert.Equal(t, false, env.Data.(map[string]interface{})["verified"])
	assert.Equal(t, uint64(1), h.node.Operator().State().Snapshot().Counters.AuthFailures)
}

func TestAuthDisabledIgnoresGarbageSignature(t *testing.T) {
	h := newHarness(t, "disabled", fullRange())

	_, env := h.post(t, QuestionRequest{
		RequestID:  "req-1",
		PromptHash: hex.EncodeToString(promptHash("x")),
		Signature:  "00",
	})
	assert.Equal(t, CodeSuccess, env.ErrorCode)
	assert.Zero(t, h.node.Operator().State().Snapshot().Counters.AuthFailures)
}

func TestDuplicateQuestion(t *testing.T) {
	h := newHarness(t, "optional", fullRange())

	_, first := h.post(t, QuestionRequest{RequestID: "dup"})
	_, second := h.post(t, QuestionRequest{RequestID: "dup"})
	assert.Equal(t, CodeSuccess, first.ErrorCode)
	assert.Equal(t, CodeSuccess, second.ErrorCode)
	assert.Equal(t, false, first.Data.(map[string]interface{})["duplicate"])
	assert.Equal(t, true, second.Data.(map[string]interface{})["duplicate"])

	snap := h.node.Operator().State().Snapshot()
	assert.Equal(t, uint64(1), snap.Counters.Duplicates)
	assert.Len(t, snap.MessageIDs, 1)

	list, err := h.store.ListQuestions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMessageCacheIsBounded(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	for i := 0; i < 6; i++ {
		_, env := h.post(t, QuestionRequest{RequestID: fmt.Sprintf("req-%d", i)})
		require.Equal(t, CodeSuccess, env.ErrorCode)
	}
	snap := h.node.Operator().State().Snapshot()
	assert.Equal(t, []string{"req-2", "req-3", "req-4", "req-5"}, snap.MessageIDs)
}

func TestStorageFailure(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	h.store.failSave.Store(true)

	_, env := h.post(t, QuestionRequest{RequestID: "req-1"})
	assert.Equal(t, CodeStorageFailure, env.ErrorCode)
	assert.False(t, h.node.Operator().State().Contains("req-1"))
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t, "optional", fullRange())

	_, env := h.do(t, http.MethodPost, "/api/v1/question", []byte("{not json"))
	assert.Equal(t, CodeInvalidRequest, env.ErrorCode)

	_, env = h.post(t, QuestionRequest{})
	assert.Equal(t, CodeInvalidRequest, env.ErrorCode)

	_, env = h.post(t, QuestionRequest{RequestID: "r", PromptHash: "zz"})
	assert.Equal(t, CodeInvalidRequest, env.ErrorCode)

	_, env = h.post(t, QuestionRequest{RequestID: "r", RequesterAddress: "nope"})
	assert.Equal(t, CodeInvalidRequest, env.ErrorCode)
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	status, env := h.do(t, http.MethodGet, "/api/v2/anything", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, env.ErrorCode)
}

func TestGetAndListQuestions(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	for i := 0; i < 4; i++ {
		_, env := h.post(t, QuestionRequest{RequestID: fmt.Sprintf("q-%d", i)})
		require.Equal(t, CodeSuccess, env.ErrorCode)
	}

	status, env := h.do(t, http.MethodGet, "/api/v1/question/q-1", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "q-1", env.Data.(map[string]interface{})["request_id"])

	status, env = h.do(t, http.MethodGet, "/api/v1/question/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, env.ErrorCode)

	_, env = h.do(t, http.MethodGet, "/api/v1/questions", nil)
	require.Equal(t, CodeSuccess, env.ErrorCode)
	questions := env.Data.(map[string]interface{})["questions"].([]interface{})
	require.Len(t, questions, 3)
	assert.Equal(t, "q-3", questions[0].(map[string]interface{})["request_id"])

	_, env = h.do(t, http.MethodGet, "/api/v1/questions?limit=1", nil)
	require.Equal(t, CodeSuccess, env.ErrorCode)
	assert.Len(t, env.Data.(map[string]interface{})["questions"], 1)

	_, env = h.do(t, http.MethodGet, "/api/v1/questions?limit=4", nil)
	assert.Equal(t, CodeInvalidRequest, env.ErrorCode)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	h.post(t, QuestionRequest{RequestID: "req-1"})

	_, env := h.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, CodeSuccess, env.ErrorCode)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, h.node.Operator().State().Identity().NodeID().Hex(), data["node_id"])
	assert.Equal(t, "optional", data["auth_mode"])
	assert.Equal(t, float64(1), data["cache_size"])
	assert.Equal(t, float64(4), data["cache_capacity"])
	assert.NotContains(t, fmt.Sprint(data), h.node.Operator().Config().Node.SignerKey)
}

func TestHeartbeatRunsAfterRegistration(t *testing.T) {
	h := newHarness(t, "optional", fullRange())
	assert.Equal(t, int32(1), h.disp.registers.Load())
	require.Eventually(t, func() bool { return !h.node.Heartbeater().LastBeat().IsZero() }, 3*time.Second, 20*time.Millisecond)
	assert.Positive(t, h.disp.heartbeats.Load())
}

func TestRunServesUntilCancelled(t *testing.T) {
	h := newHarness(t, "optional", fullRange())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.node.Run(ctx) }()

	select {
	case <-h.node.Ready():
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("node not ready")
	}

	resp, err := http.Get("http://" + h.node.RestAddr().String() + "/api/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.True(t, h.store.closed.Load())

	beats := h.disp.heartbeats.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, beats, h.disp.heartbeats.Load(), "heartbeat stopped on shutdown")
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:8080", listenAddr("0.0.0.0:8080"))
	assert.Equal(t, "127.0.0.1:9090", listenAddr("http://127.0.0.1:9090"))
	assert.Equal(t, ":7000", listenAddr(" :7000 "))
}
