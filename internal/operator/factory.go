package operator

import (
	"context"
	"errors"
	"fmt"

	"operator/internal/blockchain"
	"operator/internal/config"
	"operator/internal/crypto"
	"operator/internal/dispatcher"
	"operator/internal/health"
	"operator/internal/logging"
	"operator/internal/messaging"
	"operator/internal/metrics"
	"operator/internal/state"
	"operator/internal/storage"
)

// Factory builds a running Node from configuration. Collaborators default to
// the production implementations and can be replaced with options.
type Factory struct {
	cfg    *config.OperatorConfig
	logger logging.Logger

	oracle blockchain.RangeOracle
	store  storage.Store
	client dispatcher.Client
	bus    messaging.Bus
	prom   *metrics.Prom
}

type Option func(*Factory)

func WithLogger(l logging.Logger) Option { return func(f *Factory) { f.logger = l } }

func WithRangeOracle(o blockchain.RangeOracle) Option { return func(f *Factory) { f.oracle = o } }

func WithStore(s storage.Store) Option { return func(f *Factory) { f.store = s } }

func WithDispatcherClient(c dispatcher.Client) Option { return func(f *Factory) { f.client = c } }

func WithEventBus(b messaging.Bus) Option { return func(f *Factory) { f.bus = b } }

func WithMetrics(p *metrics.Prom) Option { return func(f *Factory) { f.prom = p } }

func NewFactory(cfg *config.OperatorConfig, opts ...Option) *Factory {
	f := &Factory{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logging.WithComponent("operator")
	}
	if f.prom == nil {
		f.prom = metrics.NewProm()
	}
	return f
}

// Initialize resolves the identity, assembles the Operator, registers with the
// dispatcher and starts the heartbeat. A registration failure is fatal and
// leaves nothing running. The heartbeat lives until ctx is cancelled or the
// Node shuts down.
func (f *Factory) Initialize(ctx context.Context) (*Node, error) {
	if f.cfg == nil {
		return nil, errors.New("operator: config is required")
	}
	cfg := f.cfg

	identity, err := crypto.ResolveIdentity(cfg.Node.NodeID, cfg.Node.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if !identity.KeyMatchesNodeID() {
		f.logger.Warnf("Signer key address %s differs from node id %s",
			identity.SignerAddress().Hex(), identity.NodeID().Hex())
	}
	mode, err := crypto.ParseAuthMode(cfg.Node.AuthMode)
	if err != nil {
		return nil, err
	}

	oracle := f.oracle
	if oracle == nil {
		contract, err := blockchain.NewVRFRangeContract(cfg.Chain.ChainRPCURL, cfg.Chain.VRFRangeContract)
		if err != nil {
			return nil, fmt.Errorf("range oracle: %w", err)
		}
		oracle = contract
	}
	checker, err := blockchain.NewAdmissionChecker(oracle, blockchain.AdmissionConfig{
		SortPrecision: cfg.Chain.VRFSortPrecision,
		CallTimeout:   cfg.Chain.CallTimeout,
		CacheTTL:      cfg.Chain.RangeCacheTTL,
		CacheSize:     cfg.Chain.RangeCacheSize,
	}, logging.WithComponent("admission"))
	if err != nil {
		return nil, err
	}

	store := f.store
	if store == nil {
		store, err = storage.Open(cfg.DB)
		if err != nil {
			checker.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}
	bus := f.bus
	if bus == nil && cfg.Net.NATSURL != "" {
		nb, err := messaging.NewNATSBus(cfg.Net.NATSURL, "operator-"+identity.NodeID().Hex())
		if err != nil {
			_ = store.Close()
			checker.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		bus = nb
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			f.logger.Warnf("Failed to close storage error=%v", err)
		}
		if bus != nil {
			_ = bus.Close()
		}
		checker.Close()
	}

	st, err := state.New(identity, cfg.Node.CacheMsgMaximum)
	if err != nil {
		cleanup()
		return nil, err
	}
	op, err := New(cfg, store, st, checker, crypto.NewVerifier(mode), f.logger, f.prom)
	if err != nil {
		cleanup()
		return nil, err
	}

	client := f.client
	if client == nil {
		client = dispatcher.NewHTTPClient(cfg.Net.RequestTimeout)
	}
	hbCfg := dispatcher.NewHeartbeatConfig(cfg)
	if err := dispatcher.Register(ctx, client, hbCfg); err != nil {
		cleanup()
		return nil, err
	}
	f.logger.Infof("Registered with dispatcher url=%s node_id=%s", hbCfg.DispatcherURL, identity.NodeID().Hex())

	hb := dispatcher.NewHeartbeater(client, hbCfg, logging.WithComponent("heartbeat"), f.prom)
	if err := hb.Start(ctx); err != nil {
		cleanup()
		return nil, err
	}
	op.SetLastBeatSource(hb.LastBeat)
	if bus != nil {
		op.SetEventBus(bus)
	}

	hs := health.NewServer(logging.WithComponent("health"))
	hs.SetServing(true)

	return &Node{
		op:        op,
		heartbeat: hb,
		health:    hs,
		prom:      f.prom,
		checker:   checker,
		bus:       bus,
		logger:    f.logger,
		ready:     make(chan struct{}),
	}, nil
}
