package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"operator/internal/blockchain"
	"operator/internal/crypto"
	"operator/internal/logging"
)

// ValidationMode determines the strictness of configuration validation
type ValidationMode string

const (
	ValidationModeProduction  ValidationMode = "production"
	ValidationModeDevelopment ValidationMode = "development"
	ValidationModeTest        ValidationMode = "test"
)

var (
	ErrIllegalNodeID    = errors.New("config: illegal node id")
	ErrIllegalSignerKey = errors.New("config: illegal signer key")
)

// ConfigValidator checks an OperatorConfig. Identity, endpoint and chain
// problems are always fatal; hardening issues are fatal only in production.
type ConfigValidator struct {
	mode     ValidationMode
	fatal    []error
	errors   []string
	warnings []string
	logger   logging.Logger
}

// NewConfigValidator creates a validator whose mode comes from OPERATOR_MODE.
func NewConfigValidator() *ConfigValidator {
	mode := ValidationModeDevelopment

	if envMode := os.Getenv(EnvPrefix + "_MODE"); envMode != "" {
		switch strings.ToLower(envMode) {
		case "production", "prod":
			mode = ValidationModeProduction
		case "test", "testing":
			mode = ValidationModeTest
		case "development", "dev":
			mode = ValidationModeDevelopment
		}
	}
	return NewConfigValidatorWithMode(mode)
}

func NewConfigValidatorWithMode(mode ValidationMode) *ConfigValidator {
	return &ConfigValidator{mode: mode, logger: logging.WithComponent("config")}
}

// Validate checks the configuration for issues
func (v *ConfigValidator) Validate(cfg *OperatorConfig) error {
	v.fatal = nil
	v.errors = nil
	v.warnings = nil

	v.validateIdentity(cfg)
	v.validateNetwork(cfg)
	v.validateChain(cfg)
	v.validateStorage(cfg)
	v.validateSecurity(cfg)

	if len(v.fatal) > 0 {
		return errors.Join(v.fatal...)
	}
	if v.mode == ValidationModeProduction && len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.errors, "\n"))
	}

	for _, w := range v.warnings {
		v.logger.Warnf("config: %s", w)
	}
	for _, e := range v.errors {
		v.logger.Warnf("config (non-production): %s", e)
	}
	return nil
}

// Warnings returns the warnings of the last Validate call.
func (v *ConfigValidator) Warnings() []string { return v.warnings }

func (v *ConfigValidator) validateIdentity(cfg *OperatorConfig) {
	_, err := crypto.ResolveIdentity(cfg.Node.NodeID, cfg.Node.SignerKey)
	switch {
	case errors.Is(err, crypto.ErrInvalidNodeID):
		v.fatal = append(v.fatal, fmt.Errorf("%w: node.node_id must be a 20-byte hex address", ErrIllegalNodeID))
	case errors.Is(err, crypto.ErrInvalidSignerKey):
		v.fatal = append(v.fatal, fmt.Errorf("%w: node.signer_key must be a 32-byte hex private key", ErrIllegalSignerKey))
	case err != nil:
		v.fatal = append(v.fatal, err)
	}

	if _, err := crypto.ParseAuthMode(cfg.Node.AuthMode); err != nil {
		v.fatal = append(v.fatal, fmt.Errorf("node.auth_mode: %w", err))
	}
	if len(cfg.Node.AIModels) == 0 {
		v.warnings = append(v.warnings, "node.ai_models is empty - dispatcher will not route model-specific work")
	}
}

func (v *ConfigValidator) validateNetwork(cfg *OperatorConfig) {
	if strings.TrimSpace(cfg.Net.RestURL) == "" {
		v.fatal = append(v.fatal, errors.New("net.rest_url is required"))
	}
	if err := validateHTTPURL(cfg.Net.DispatcherURL); err != nil {
		v.fatal = append(v.fatal, fmt.Errorf("net.dispatcher_url: %w", err))
	}
	if cfg.Net.MetricsURL != "" && cfg.Net.MetricsURL == cfg.Net.RestURL {
		v.fatal = append(v.fatal, errors.New("net.metrics_url must differ from net.rest_url"))
	}
	if cfg.Node.HeartbeatEvery() > 0 && cfg.Net.RequestTimeout >= cfg.Node.HeartbeatEvery() {
		v.warnings = append(v.warnings, fmt.Sprintf("net.request_timeout %v is not shorter than the heartbeat interval %v",
			cfg.Net.RequestTimeout, cfg.Node.HeartbeatEvery()))
	}
}

func (v *ConfigValidator) validateChain(cfg *OperatorConfig) {
	if strings.TrimSpace(cfg.Chain.ChainRPCURL) == "" {
		v.fatal = append(v.fatal, errors.New("chain.chain_rpc_url is required"))
	}
	addr := strings.TrimSpace(cfg.Chain.VRFRangeContract)
	if addr == "" {
		v.fatal = append(v.fatal, errors.New("chain.vrf_range_contract is required"))
	} else if !common.IsHexAddress(addr) {
		v.fatal = append(v.fatal, fmt.Errorf("chain.vrf_range_contract is not a valid address: %s", addr))
	}
	if cfg.Chain.VRFSortPrecision > blockchain.MaxSortPrecision {
		v.fatal = append(v.fatal, fmt.Errorf("chain.vrf_sort_precision must be <= %d", blockchain.MaxSortPrecision))
	}
}

func (v *ConfigValidator) validateStorage(cfg *OperatorConfig) {
	switch cfg.DB.Backend {
	case BackendLevelDB:
		if strings.TrimSpace(cfg.DB.StorageRootPath) == "" {
			v.fatal = append(v.fatal, errors.New("db.storage_root_path is required for the leveldb backend"))
		}
	case BackendRedis:
		if strings.TrimSpace(cfg.DB.RedisURL) == "" {
			v.fatal = append(v.fatal, errors.New("db.redis_url is required for the redis backend"))
		}
	case BackendMemory:
		msg := "db.backend memory keeps admitted questions only until restart"
		if v.mode == ValidationModeProduction {
			v.errors = append(v.errors, msg)
		} else {
			v.warnings = append(v.warnings, msg)
		}
	default:
		v.fatal = append(v.fatal, fmt.Errorf("unknown db.backend %q", cfg.DB.Backend))
	}
}

func (v *ConfigValidator) validateSecurity(cfg *OperatorConfig) {
	mode, err := crypto.ParseAuthMode(cfg.Node.AuthMode)
	if err != nil {
		return
	}
	if mode != crypto.AuthRequired {
		msg := fmt.Sprintf("node.auth_mode is %q - unsigned questions are admitted", mode)
		if v.mode == ValidationModeProduction && mode == crypto.AuthDisabled {
			v.errors = append(v.errors, msg)
		} else {
			v.warnings = append(v.warnings, msg)
		}
	}
	if v.mode == ValidationModeProduction && cfg.Node.SignerKey != "" {
		v.warnings = append(v.warnings, "Private key in configuration file - use secure key management (HSM/KMS) in production")
	}
}

func validateHTTPURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
