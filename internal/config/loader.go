package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted in db.backend.
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// EnvPrefix prefixes environment overrides, e.g. OPERATOR_NODE_SIGNER_KEY.
const EnvPrefix = "OPERATOR"

// OperatorConfig is the immutable configuration snapshot of an operator node.
type OperatorConfig struct {
	DB    DBConfig      `mapstructure:"db" yaml:"db"`
	Net   NetworkConfig `mapstructure:"net" yaml:"net"`
	Node  NodeConfig    `mapstructure:"node" yaml:"node"`
	Chain ChainConfig   `mapstructure:"chain" yaml:"chain"`
	API   APIConfig     `mapstructure:"api" yaml:"api"`
	Log   LogConfig     `mapstructure:"log" yaml:"log"`
}

type DBConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend"`
	StorageRootPath string `mapstructure:"storage_root_path" yaml:"storage_root_path"`
	RedisURL        string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisPrefix     string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

type NetworkConfig struct {
	RestURL           string `mapstructure:"rest_url" yaml:"rest_url"`
	OuterURL          string `mapstructure:"outer_url" yaml:"outer_url"`
	DispatcherURL     string `mapstructure:"dispatcher_url" yaml:"dispatcher_url"`
	MetricsURL        string `mapstructure:"metrics_url" yaml:"metrics_url"` // empty disables
	HealthURL         string `mapstructure:"health_url" yaml:"health_url"`   // gRPC health; empty disables
	NATSURL           string `mapstructure:"nats_url" yaml:"nats_url"`       // admitted-question events; empty disables
	RequestTimeoutRaw string `mapstructure:"request_timeout" yaml:"request_timeout"`

	RequestTimeout time.Duration `mapstructure:"-" yaml:"-"`
}

type NodeConfig struct {
	NodeID            string   `mapstructure:"node_id" yaml:"node_id"`
	SignerKey         string   `mapstructure:"signer_key" yaml:"signer_key"`
	CacheMsgMaximum   int      `mapstructure:"cache_msg_maximum" yaml:"cache_msg_maximum"`
	HeartbeatInterval uint64   `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"` // seconds
	AIModels          []string `mapstructure:"ai_models" yaml:"ai_models"`
	AuthMode          string   `mapstructure:"auth_mode" yaml:"auth_mode"`
}

// HeartbeatEvery returns the heartbeat interval as a duration.
func (n NodeConfig) HeartbeatEvery() time.Duration {
	return time.Duration(n.HeartbeatInterval) * time.Second
}

type ChainConfig struct {
	ChainRPCURL      string `mapstructure:"chain_rpc_url" yaml:"chain_rpc_url"`
	VRFRangeContract string `mapstructure:"vrf_range_contract" yaml:"vrf_range_contract"`
	VRFSortPrecision uint16 `mapstructure:"vrf_sort_precision" yaml:"vrf_sort_precision"`
	CallTimeoutRaw   string `mapstructure:"call_timeout" yaml:"call_timeout"`
	RangeCacheTTLRaw string `mapstructure:"range_cache_ttl" yaml:"range_cache_ttl"`
	RangeCacheSize   int    `mapstructure:"range_cache_size" yaml:"range_cache_size"`

	CallTimeout   time.Duration `mapstructure:"-" yaml:"-"`
	RangeCacheTTL time.Duration `mapstructure:"-" yaml:"-"`
}

type APIConfig struct {
	ReadMaximum int `mapstructure:"read_maximum" yaml:"read_maximum"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.backend", BackendLevelDB)
	v.SetDefault("db.storage_root_path", "./data")
	v.SetDefault("db.redis_url", "")
	v.SetDefault("db.redis_prefix", "operator")
	v.SetDefault("net.rest_url", "0.0.0.0:8080")
	v.SetDefault("net.outer_url", "")
	v.SetDefault("net.dispatcher_url", "")
	v.SetDefault("net.metrics_url", "")
	v.SetDefault("net.health_url", "")
	v.SetDefault("net.nats_url", "")
	v.SetDefault("net.request_timeout", "10s")
	v.SetDefault("node.node_id", "")
	v.SetDefault("node.signer_key", "")
	v.SetDefault("node.cache_msg_maximum", 1024)
	v.SetDefault("node.heartbeat_interval", 30)
	v.SetDefault("node.ai_models", []string{})
	v.SetDefault("node.auth_mode", "optional")
	v.SetDefault("chain.chain_rpc_url", "")
	v.SetDefault("chain.vrf_range_contract", "")
	v.SetDefault("chain.vrf_sort_precision", 4)
	v.SetDefault("chain.call_timeout", "10s")
	v.SetDefault("chain.range_cache_ttl", "0s")
	v.SetDefault("chain.range_cache_size", 256)
	v.SetDefault("api.read_maximum", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the YAML file at path, applies OPERATOR_* environment overrides,
// normalizes durations and validates the result.
func Load(path string) (*OperatorConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg OperatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	if err := NewConfigValidator().Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize applies defaults and parses durations.
func (c *OperatorConfig) Normalize() error {
	parseDuration := func(raw string, fallback time.Duration) (time.Duration, error) {
		if strings.TrimSpace(raw) == "" {
			return fallback, nil
		}
		return time.ParseDuration(raw)
	}

	var err error
	c.Net.RequestTimeout, err = parseDuration(c.Net.RequestTimeoutRaw, 10*time.Second)
	if err != nil {
		return fmt.Errorf("invalid net.request_timeout: %w", err)
	}
	c.Chain.CallTimeout, err = parseDuration(c.Chain.CallTimeoutRaw, 10*time.Second)
	if err != nil {
		return fmt.Errorf("invalid chain.call_timeout: %w", err)
	}
	c.Chain.RangeCacheTTL, err = parseDuration(c.Chain.RangeCacheTTLRaw, 0)
	if err != nil {
		return fmt.Errorf("invalid chain.range_cache_ttl: %w", err)
	}
	if c.Chain.RangeCacheTTL < 0 {
		return fmt.Errorf("chain.range_cache_ttl must not be negative")
	}

	c.DB.Backend = strings.ToLower(strings.TrimSpace(c.DB.Backend))
	if c.DB.Backend == "" {
		c.DB.Backend = BackendLevelDB
	}
	if c.Node.HeartbeatInterval == 0 {
		c.Node.HeartbeatInterval = 30
	}
	if c.Node.CacheMsgMaximum <= 0 {
		c.Node.CacheMsgMaximum = 1024
	}
	if c.API.ReadMaximum <= 0 {
		c.API.ReadMaximum = 100
	}
	if c.Chain.RangeCacheSize <= 0 {
		c.Chain.RangeCacheSize = 256
	}
	if c.Net.OuterURL == "" {
		c.Net.OuterURL = c.Net.RestURL
	}
	return nil
}
