package operator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"operator/internal/crypto"
	"operator/internal/messaging"
	"operator/internal/metrics"
	"operator/internal/state"
	"operator/internal/storage"
)

const maxQuestionBody = 1 << 20

// QuestionRequest is the body of POST /api/v1/question. Hex fields accept an
// optional 0x prefix; empty prompt_hash and signature skip verification
// unless auth is required.
type QuestionRequest struct {
	RequestID        string `json:"request_id"`
	PromptHash       string `json:"prompt_hash"`
	Signature        string `json:"signature"`
	RequesterAddress string `json:"requester_address,omitempty"`
}

// QuestionResult is the envelope data of an admitted question.
type QuestionResult struct {
	RequestID  string `json:"request_id"`
	NodeID     string `json:"node_id"`
	Position   string `json:"position"`
	RangeLower string `json:"range_lower"`
	RangeUpper string `json:"range_upper"`
	Verified   bool   `json:"verified"`
	Duplicate  bool   `json:"duplicate"`
}

type statusResult struct {
	NodeID        string         `json:"node_id"`
	AuthMode      string         `json:"auth_mode"`
	CacheSize     int            `json:"cache_size"`
	CacheCapacity int            `json:"cache_capacity"`
	Counters      state.Counters `json:"counters"`
	LastHeartbeat int64          `json:"last_heartbeat"`
}

type questionList struct {
	Questions []*storage.QuestionRecord `json:"questions"`
}

// Handler returns the inbound API.
func (o *Operator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/question", o.handleQuestion)
	mux.HandleFunc("GET /api/v1/question/{id}", o.handleGetQuestion)
	mux.HandleFunc("GET /api/v1/questions", o.handleListQuestions)
	mux.HandleFunc("GET /api/v1/status", o.handleStatus)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, "", nil, fmt.Errorf("%w: %s %s", errNotFound, r.Method, r.URL.Path))
	})
	return mux
}

func (o *Operator) handleQuestion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	o.state.Mutate(func(m *state.Mutable) { m.Counters().Received++ })
	o.metrics.IncCounter(metrics.QuestionsReceived, 1)

	var req QuestionRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQuestionBody))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		o.reject(w, "", fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}

	result, err := o.SubmitQuestion(r.Context(), req)
	if err != nil {
		o.reject(w, req.RequestID, err)
		return
	}
	o.metrics.Observe(metrics.AdmissionLatencyMs, float64(time.Since(start).Milliseconds()))
	writeEnvelope(w, req.RequestID, result, nil)
}

// SubmitQuestion runs verification, range admission and the storage handoff
// for one question.
func (o *Operator) SubmitQuestion(ctx context.Context, req QuestionRequest) (*QuestionResult, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return nil, fmt.Errorf("%w: request_id is required", errInvalidRequest)
	}
	promptHash, err := decodeHex(req.PromptHash)
	if err != nil {
		return nil, fmt.Errorf("%w: prompt_hash: %v", errInvalidRequest, err)
	}
	signature, err := decodeHex(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", errInvalidRequest, err)
	}
	var requester *common.Address
	if req.RequesterAddress != "" {
		addr, err := crypto.ParseAddress(req.RequesterAddress)
		if err != nil {
			return nil, fmt.Errorf("%w: requester_address: %v", errInvalidRequest, err)
		}
		requester = &addr
	}

	verification := o.verifier.Verify(signature, promptHash, requester)
	if verification.Err != nil {
		o.state.Mutate(func(m *state.Mutable) { m.Counters().AuthFailures++ })
		o.metrics.IncCounter(metrics.AuthFailures, 1)
		o.logger.Warnf("Signature verification failed request_id=%s mode=%s error=%v",
			req.RequestID, o.verifier.Mode(), verification.Err)
		if o.verifier.Rejects(verification) {
			return nil, fmt.Errorf("%w: %v", errAuthentication, verification.Err)
		}
	}

	nodeID := o.state.Identity().NodeID()
	decision, err := o.checker.Decide(ctx, nodeID, req.RequestID, promptHash)
	if err != nil {
		return nil, err
	}

	result := &QuestionResult{
		RequestID:  req.RequestID,
		NodeID:     nodeID.Hex(),
		Position:   decision.Position.String(),
		RangeLower: decision.Assignment.Lower.String(),
		RangeUpper: decision.Assignment.Upper.String(),
		Verified:   verification.Attempted && verification.Err == nil,
	}

	// A cached id has already been handed to storage.
	if !o.state.Contains(req.RequestID) {
		rec := &storage.QuestionRecord{
			RequestID:  req.RequestID,
			PromptHash: req.PromptHash,
			NodeID:     result.NodeID,
			Position:   result.Position,
			RangeLower: result.RangeLower,
			RangeUpper: result.RangeUpper,
			ReceivedAt: time.Now().UnixMilli(),
		}
		if verification.Attempted && verification.Err == nil {
			rec.Requester = verification.Recovered.Hex()
		}
		if err := o.store.SaveQuestion(ctx, rec); err != nil {
			o.metrics.IncCounter(metrics.StorageFailures, 1)
			o.logger.Errorf("Failed to store question request_id=%s error=%v", req.RequestID, err)
			return nil, fmt.Errorf("%w: %v", errStorage, err)
		}
	}

	meta := state.MessageMeta{
		RequestID:  req.RequestID,
		PromptHash: promptHash,
		Requester:  verification.Recovered,
		Position:   result.Position,
		AdmittedAt: time.Now(),
	}
	var cacheSize int
	o.state.Mutate(func(m *state.Mutable) {
		c := m.Counters()
		c.Admitted++
		if !m.Remember(req.RequestID, meta) {
			c.Duplicates++
			result.Duplicate = true
		}
		cacheSize = m.Len()
	})

	o.metrics.IncCounter(metrics.QuestionsAdmitted, 1)
	if result.Duplicate {
		o.metrics.IncCounter(metrics.QuestionsDuplicate, 1)
	} else {
		o.publishAdmitted(req, result, meta)
	}
	o.metrics.SetGauge(metrics.MessageCacheSize, float64(cacheSize))
	o.logger.Infof("Question admitted request_id=%s position=%s duplicate=%t",
		req.RequestID, result.Position, result.Duplicate)
	return result, nil
}

func (o *Operator) publishAdmitted(req QuestionRequest, result *QuestionResult, meta state.MessageMeta) {
	if o.bus == nil {
		return
	}
	ev := messaging.QuestionAdmitted{
		RequestID:  req.RequestID,
		NodeID:     result.NodeID,
		PromptHash: req.PromptHash,
		Position:   result.Position,
		AdmittedAt: meta.AdmittedAt.UnixMilli(),
	}
	if result.Verified {
		ev.Requester = meta.Requester.Hex()
	}
	if err := messaging.PublishJSON(o.bus, messaging.SubjectQuestionAdmitted, ev); err != nil {
		o.logger.Warnf("Failed to publish admitted question request_id=%s error=%v", req.RequestID, err)
	}
}

func (o *Operator) reject(w http.ResponseWriter, requestID string, err error) {
	o.state.Mutate(func(m *state.Mutable) { m.Counters().Rejected++ })
	o.metrics.IncCounter(metrics.QuestionsRejected, 1)
	o.logger.Infof("Question rejected request_id=%s code=%d error=%v", requestID, codeFor(err), err)
	writeEnvelope(w, requestID, nil, err)
}

func (o *Operator) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := o.store.GetQuestion(r.Context(), id)
	if err != nil {
		writeEnvelope(w, id, nil, err)
		return
	}
	writeEnvelope(w, id, rec, nil)
}

func (o *Operator) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	limit := o.config.API.ReadMaximum
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > o.config.API.ReadMaximum {
			writeEnvelope(w, "", nil, fmt.Errorf("%w: limit must be between 1 and %d",
				errInvalidRequest, o.config.API.ReadMaximum))
			return
		}
		limit = n
	}
	recs, err := o.store.ListQuestions(r.Context(), limit)
	if err != nil {
		writeEnvelope(w, "", nil, fmt.Errorf("%w: %v", errStorage, err))
		return
	}
	if recs == nil {
		recs = []*storage.QuestionRecord{}
	}
	writeEnvelope(w, "", questionList{Questions: recs}, nil)
}

func (o *Operator) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := o.state.Snapshot()
	res := statusResult{
		NodeID:        snap.NodeID.Hex(),
		AuthMode:      string(o.verifier.Mode()),
		CacheSize:     len(snap.MessageIDs),
		CacheCapacity: snap.Capacity,
		Counters:      snap.Counters,
	}
	if t := o.lastBeat(); !t.IsZero() {
		res.LastHeartbeat = t.Unix()
	}
	writeEnvelope(w, "", res, nil)
}

func decodeHex(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
	}
	return hex.DecodeString(raw)
}
