package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"operator/internal/config"
)

// Dispatcher endpoints, relative to the dispatcher base URL.
const (
	RegisterPath  = "/api/v1/worker/register"
	HeartbeatPath = "/api/v1/worker/heartbeat"

	defaultRequestTimeout = 10 * time.Second
)

// HeartbeatConfig is the membership snapshot taken once at startup. It is a
// plain value; later config changes do not reach the heartbeat loop.
type HeartbeatConfig struct {
	Interval      time.Duration
	DispatcherURL string
	NodeID        string
	RestURL       string
	OuterURL      string
	AIModels      []string
}

// NewHeartbeatConfig copies the membership fields out of cfg.
func NewHeartbeatConfig(cfg *config.OperatorConfig) HeartbeatConfig {
	models := make([]string, len(cfg.Node.AIModels))
	copy(models, cfg.Node.AIModels)
	return HeartbeatConfig{
		Interval:      cfg.Node.HeartbeatEvery(),
		DispatcherURL: strings.TrimRight(cfg.Net.DispatcherURL, "/"),
		NodeID:        cfg.Node.NodeID,
		RestURL:       cfg.Net.RestURL,
		OuterURL:      cfg.Net.OuterURL,
		AIModels:      models,
	}
}

// WorkerInfo is the JSON body sent on register and heartbeat.
type WorkerInfo struct {
	NodeID    string   `json:"node_id"`
	RestURL   string   `json:"rest_url"`
	OuterURL  string   `json:"outer_url"`
	AIModels  []string `json:"ai_models"`
	Timestamp int64    `json:"timestamp"`
}

func (c HeartbeatConfig) workerInfo(now time.Time) WorkerInfo {
	return WorkerInfo{
		NodeID:    c.NodeID,
		RestURL:   c.RestURL,
		OuterURL:  c.OuterURL,
		AIModels:  c.AIModels,
		Timestamp: now.Unix(),
	}
}

// Client talks to the dispatcher. Both calls report the HTTP status code
// alongside any transport error; interpreting the status is up to the caller.
type Client interface {
	Register(ctx context.Context, cfg HeartbeatConfig) (int, error)
	Heartbeat(ctx context.Context, cfg HeartbeatConfig) (int, error)
}

// HTTPClient is the JSON-over-HTTP Client.
type HTTPClient struct {
	httpClient *http.Client
	now        func() time.Time
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (c *HTTPClient) Register(ctx context.Context, cfg HeartbeatConfig) (int, error) {
	return c.post(ctx, cfg.DispatcherURL+RegisterPath, cfg.workerInfo(c.now()))
}

func (c *HTTPClient) Heartbeat(ctx context.Context, cfg HeartbeatConfig) (int, error) {
	return c.post(ctx, cfg.DispatcherURL+HeartbeatPath, cfg.workerInfo(c.now()))
}

func (c *HTTPClient) post(ctx context.Context, url string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}

// ErrRegistrationFailed marks a failed startup registration. It is fatal.
var ErrRegistrationFailed = errors.New("dispatcher: registration failed")

func success(status int) bool { return status >= 200 && status < 300 }

// Register announces the node to the dispatcher once.
func Register(ctx context.Context, client Client, cfg HeartbeatConfig) error {
	status, err := client.Register(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}
	if !success(status) {
		return fmt.Errorf("%w: status %d", ErrRegistrationFailed, status)
	}
	return nil
}
