package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"operator/internal/logging"
	"operator/internal/metrics"
)

const defaultHeartbeatInterval = 30 * time.Second

// Heartbeater keeps the node's membership alive. A failed beat is logged and
// counted, and the next tick tries again.
type Heartbeater struct {
	client  Client
	cfg     HeartbeatConfig
	logger  logging.Logger
	metrics metrics.Provider

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastBeat time.Time
	failures uint64
}

func NewHeartbeater(client Client, cfg HeartbeatConfig, logger logging.Logger, m metrics.Provider) *Heartbeater {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHeartbeatInterval
	}
	return &Heartbeater{client: client, cfg: cfg, logger: logger, metrics: m}
}

// Start launches the loop. It returns an error if the loop is already running.
func (h *Heartbeater) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return fmt.Errorf("dispatcher: heartbeat already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx, h.done)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (h *Heartbeater) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastBeat is the time of the last successful heartbeat, zero if none.
func (h *Heartbeater) LastBeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastBeat
}

// Failures is the number of failed heartbeats so far.
func (h *Heartbeater) Failures() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

func (h *Heartbeater) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeater) beat(ctx context.Context) {
	status, err := h.client.Heartbeat(ctx, h.cfg)
	if err == nil && !success(status) {
		err = fmt.Errorf("status %d", status)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.mu.Lock()
		h.failures++
		h.mu.Unlock()
		h.metrics.IncCounter(metrics.HeartbeatsFailed, 1)
		h.logger.Warnf("Failed to send heartbeat to dispatcher error=%v", err)
		return
	}

	now := time.Now()
	h.mu.Lock()
	h.lastBeat = now
	h.mu.Unlock()
	h.metrics.IncCounter(metrics.Heartbeats, 1)
	h.metrics.SetGauge(metrics.LastHeartbeatUnix, float64(now.Unix()))
	h.logger.Debugf("Heartbeat sent node_id=%s", h.cfg.NodeID)
}
