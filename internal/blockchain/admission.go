package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"operator/internal/logging"
)

var (
	// ErrRangeOracleUnavailable wraps any failure to read the node's range.
	ErrRangeOracleUnavailable = errors.New("blockchain: range oracle unavailable")
	// ErrNotInRange means the request position lies outside the node's range.
	ErrNotInRange = errors.New("blockchain: request outside assigned range")
)

// Decision is the result of comparing a request against the node's range.
type Decision struct {
	Assignment *RangeAssignment
	Position   *big.Int
	Admitted   bool
}

// AdmissionChecker reads the node's range and decides per-request eligibility.
// It holds no request state and is safe for concurrent use.
type AdmissionChecker struct {
	oracle  RangeOracle
	cfg     AdmissionConfig
	modulus *big.Int
	cache   *expirable.LRU[common.Address, RangeAssignment]
	logger  logging.Logger
}

// NewAdmissionChecker wraps oracle with the admission policy in cfg.
func NewAdmissionChecker(oracle RangeOracle, cfg AdmissionConfig, logger logging.Logger) (*AdmissionChecker, error) {
	if oracle == nil {
		return nil, errors.New("blockchain: range oracle required")
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	cfg.normalize()

	c := &AdmissionChecker{
		oracle:  oracle,
		cfg:     cfg,
		modulus: new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.SortPrecision)), nil),
		logger:  logger,
	}
	if cfg.CacheTTL > 0 {
		c.cache = expirable.NewLRU[common.Address, RangeAssignment](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c, nil
}

// CheckAdmission fetches the range assigned to addr. Failures are reported as
// ErrRangeOracleUnavailable and are not retried.
func (c *AdmissionChecker) CheckAdmission(ctx context.Context, addr common.Address) (*RangeAssignment, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(addr); ok {
			observeCacheEvent("hit")
			return &cached, nil
		}
		observeCacheEvent("miss")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	assignment, err := c.oracle.GetRange(callCtx, addr)
	observeRangeLatency(time.Since(start))
	if err != nil {
		observeRangeQuery("error")
		c.logger.Warnf("range oracle query failed for %s: %v", addr.Hex(), err)
		return nil, fmt.Errorf("%w: %v", ErrRangeOracleUnavailable, err)
	}
	if assignment == nil || assignment.Lower == nil || assignment.Upper == nil {
		observeRangeQuery("error")
		return nil, fmt.Errorf("%w: empty assignment", ErrRangeOracleUnavailable)
	}
	observeRangeQuery("success")

	if c.cache != nil {
		c.cache.Add(addr, *assignment)
	}
	return assignment, nil
}

// Position maps a request onto the range scale: keccak256(seed) mod 10^precision.
// The seed is the prompt hash, or the request id when no hash was supplied.
func (c *AdmissionChecker) Position(requestID string, promptHash []byte) *big.Int {
	seed := promptHash
	if len(seed) == 0 {
		seed = []byte(requestID)
	}
	h := new(big.Int).SetBytes(crypto.Keccak256(seed))
	return h.Mod(h, c.modulus)
}

// Decide fetches addr's range and admits the request iff its position lies in it.
func (c *AdmissionChecker) Decide(ctx context.Context, addr common.Address, requestID string, promptHash []byte) (*Decision, error) {
	assignment, err := c.CheckAdmission(ctx, addr)
	if err != nil {
		return nil, err
	}

	d := &Decision{
		Assignment: assignment,
		Position:   c.Position(requestID, promptHash),
	}
	d.Admitted = assignment.Contains(d.Position)
	if !d.Admitted {
		observeDecision("rejected")
		return d, fmt.Errorf("%w: position %s not in [%s, %s)", ErrNotInRange, d.Position, assignment.Lower, assignment.Upper)
	}
	observeDecision("admitted")
	return d, nil
}

// Close closes the oracle when it owns a connection.
func (c *AdmissionChecker) Close() {
	if closer, ok := c.oracle.(interface{ Close() }); ok {
		closer.Close()
	}
}
