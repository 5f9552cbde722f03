package config

import (
	"io"

	"gopkg.in/yaml.v3"

	"operator/internal/logging"
)

const redactedKey = "[REDACTED]"

// Dump writes cfg as YAML with the signer key redacted.
func Dump(w io.Writer, cfg *OperatorConfig) error {
	out := *cfg
	if out.Node.SignerKey != "" {
		out.Node.SignerKey = redactedKey
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return err
	}
	return enc.Close()
}

// LogSummary logs the effective configuration without secrets.
func LogSummary(logger logging.Logger, cfg *OperatorConfig) {
	logger.Infof("Configuration Summary:")
	logger.Infof("  node_id: %s (auth_mode=%s, cache=%d, heartbeat=%v)",
		cfg.Node.NodeID, cfg.Node.AuthMode, cfg.Node.CacheMsgMaximum, cfg.Node.HeartbeatEvery())
	logger.Infof("  rest: %s  outer: %s  dispatcher: %s", cfg.Net.RestURL, cfg.Net.OuterURL, cfg.Net.DispatcherURL)
	logger.Infof("  chain: %s  vrf_range_contract: %s  precision: %d  range_cache_ttl: %v",
		cfg.Chain.ChainRPCURL, cfg.Chain.VRFRangeContract, cfg.Chain.VRFSortPrecision, cfg.Chain.RangeCacheTTL)
	logger.Infof("  storage: %s", cfg.DB.Backend)
	if cfg.Net.MetricsURL != "" {
		logger.Infof("  metrics: %s", cfg.Net.MetricsURL)
	}
	if cfg.Net.HealthURL != "" {
		logger.Infof("  grpc health: %s", cfg.Net.HealthURL)
	}
	if cfg.Net.NATSURL != "" {
		logger.Infof("  events: %s", cfg.Net.NATSURL)
	}
}
