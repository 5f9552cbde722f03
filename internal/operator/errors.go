package operator

import (
	"encoding/json"
	"errors"
	"net/http"

	"operator/internal/blockchain"
	"operator/internal/storage"
)

// ErrorCode is the numeric code carried in every response envelope.
type ErrorCode int

const (
	CodeSuccess        ErrorCode = 0
	CodeInternal       ErrorCode = 1000
	CodeInvalidRequest ErrorCode = 1001
	CodeNotFound       ErrorCode = 1002

	CodeRangeOracleUnavailable ErrorCode = 2001
	CodeNotInRange             ErrorCode = 2002
	CodeAuthenticationFailed   ErrorCode = 2003

	CodeStorageFailure ErrorCode = 3001
)

var (
	errInvalidRequest = errors.New("invalid request")
	errAuthentication = errors.New("authentication failed")
	errStorage        = errors.New("storage handoff failed")
	errNotFound       = errors.New("not found")
)

// Envelope is the uniform response body.
type Envelope struct {
	RequestID    string      `json:"request_id"`
	ErrorCode    ErrorCode   `json:"error_code"`
	ErrorMessage string      `json:"error_message"`
	Data         interface{} `json:"data"`
}

// codeFor maps an error to its envelope code. Unknown errors are internal.
func codeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, errInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, errNotFound), errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, blockchain.ErrRangeOracleUnavailable):
		return CodeRangeOracleUnavailable
	case errors.Is(err, blockchain.ErrNotInRange):
		return CodeNotInRange
	case errors.Is(err, errAuthentication):
		return CodeAuthenticationFailed
	case errors.Is(err, errStorage):
		return CodeStorageFailure
	}
	return CodeInternal
}

// Per-request failures travel in the envelope; only missing resources and
// unexpected faults change the HTTP status.
func httpStatus(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInternal:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeEnvelope(w http.ResponseWriter, requestID string, data interface{}, err error) {
	code := codeFor(err)
	env := Envelope{RequestID: requestID, ErrorCode: code, Data: data}
	if err != nil {
		env.ErrorMessage = err.Error()
		env.Data = nil
	}
	writeJSON(w, httpStatus(code), env)
}
