package operator

import (
	"errors"
	"time"

	"operator/internal/blockchain"
	"operator/internal/config"
	"operator/internal/crypto"
	"operator/internal/logging"
	"operator/internal/messaging"
	"operator/internal/metrics"
	"operator/internal/state"
	"operator/internal/storage"
)

// Operator holds everything a request handler needs. It is shared by pointer
// across handler goroutines; only state is mutable.
type Operator struct {
	config   *config.OperatorConfig
	store    storage.Store
	state    *state.ServerState
	checker  *blockchain.AdmissionChecker
	verifier *crypto.Verifier
	logger   logging.Logger
	metrics  metrics.Provider
	bus      messaging.Bus

	lastBeat func() time.Time
}

// New assembles an Operator. logger and m may be nil.
func New(cfg *config.OperatorConfig, store storage.Store, st *state.ServerState,
	checker *blockchain.AdmissionChecker, verifier *crypto.Verifier,
	logger logging.Logger, m metrics.Provider) (*Operator, error) {
	if cfg == nil || store == nil || st == nil || checker == nil || verifier == nil {
		return nil, errors.New("operator: config, store, state, checker and verifier are required")
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Operator{
		config:   cfg,
		store:    store,
		state:    st,
		checker:  checker,
		verifier: verifier,
		logger:   logger,
		metrics:  m,
		lastBeat: func() time.Time { return time.Time{} },
	}, nil
}

func (o *Operator) Config() *config.OperatorConfig { return o.config }

func (o *Operator) State() *state.ServerState { return o.state }

func (o *Operator) Store() storage.Store { return o.store }

// SetLastBeatSource wires the heartbeat's last-success clock into /status.
func (o *Operator) SetLastBeatSource(f func() time.Time) {
	if f != nil {
		o.lastBeat = f
	}
}

// SetEventBus enables admitted-question events. Publish failures are logged
// and never affect the response.
func (o *Operator) SetEventBus(b messaging.Bus) { o.bus = b }
