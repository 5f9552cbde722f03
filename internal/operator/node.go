package operator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"operator/internal/blockchain"
	"operator/internal/dispatcher"
	"operator/internal/health"
	"operator/internal/logging"
	"operator/internal/messaging"
	"operator/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Node is a registered operator with its heartbeat running.
type Node struct {
	op        *Operator
	heartbeat *dispatcher.Heartbeater
	health    *health.Server
	prom      *metrics.Prom
	checker   *blockchain.AdmissionChecker
	bus       messaging.Bus
	logger    logging.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	servers  []*http.Server
	restAddr net.Addr

	shutdownOnce sync.Once
}

func (n *Node) Operator() *Operator { return n.op }

func (n *Node) Heartbeater() *dispatcher.Heartbeater { return n.heartbeat }

// Handler is the inbound API, usable without Run.
func (n *Node) Handler() http.Handler { return n.op.Handler() }

// RestAddr returns the API listener address once Run has bound it.
func (n *Node) RestAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.restAddr
}

// Ready is closed once Run has bound its listeners.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Run serves the API, and the metrics and health listeners when configured,
// until ctx is cancelled or a listener fails. It always shuts the node down
// before returning.
func (n *Node) Run(ctx context.Context) error {
	defer n.Shutdown()

	cfg := n.op.Config()
	errCh := make(chan error, 3)

	restLis, err := net.Listen("tcp", listenAddr(cfg.Net.RestURL))
	if err != nil {
		return fmt.Errorf("listen rest: %w", err)
	}
	n.mu.Lock()
	n.restAddr = restLis.Addr()
	n.mu.Unlock()
	n.serve(restLis, n.Handler(), errCh)
	n.logger.Infof("Operator API listening addr=%s", restLis.Addr())

	if cfg.Net.MetricsURL != "" {
		lis, err := net.Listen("tcp", listenAddr(cfg.Net.MetricsURL))
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.prom.Handler())
		n.serve(lis, mux, errCh)
		n.logger.Infof("Metrics listening addr=%s", lis.Addr())
	}
	if cfg.Net.HealthURL != "" {
		if err := n.health.Start(listenAddr(cfg.Net.HealthURL)); err != nil {
			return err
		}
	}

	n.readyOnce.Do(func() { close(n.ready) })

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (n *Node) serve(lis net.Listener, h http.Handler, errCh chan<- error) {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	n.mu.Lock()
	n.servers = append(n.servers, srv)
	n.mu.Unlock()
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// Shutdown stops the node: health goes NOT_SERVING, HTTP servers drain, the
// heartbeat stops, then storage, the event bus and the range oracle are
// closed. It is safe to call more than once.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.health.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		n.mu.Lock()
		servers := n.servers
		n.mu.Unlock()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				n.logger.Warnf("HTTP shutdown error=%v", err)
			}
		}

		n.heartbeat.Stop()

		if err := n.op.Store().Close(); err != nil {
			n.logger.Warnf("Failed to close storage error=%v", err)
		}
		if n.bus != nil {
			if err := n.bus.Close(); err != nil {
				n.logger.Warnf("Failed to close event bus error=%v", err)
			}
		}
		n.checker.Close()
		n.logger.Infof("Operator stopped")
	})
}

// listenAddr accepts either host:port or a URL and returns host:port.
func listenAddr(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return raw
}
