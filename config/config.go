// Package config loads server configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageType selects where sessions, codes and refresh families live.
type StorageType string

const (
	// StorageTypeMemory keeps all flow state in process memory. Single
	// instance only.
	StorageTypeMemory StorageType = "memory"
	// StorageTypeRedis shares flow state through a Redis keyspace so any
	// instance can serve any step of a flow.
	StorageTypeRedis StorageType = "redis"
)

// Config holds all configuration for the authorization server.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	// Issuer is the external base URL of this server; it becomes the iss
	// claim of every issued token and the issuer of the discovery document.
	Issuer string `mapstructure:"issuer"`

	SigningAlgorithm string `mapstructure:"signing_algorithm"`

	StorageBackend StorageType `mapstructure:"storage_backend"`
	RedisAddr      string      `mapstructure:"redis_addr"`
	RedisPassword  string      `mapstructure:"redis_password"`
	RedisDB        int         `mapstructure:"redis_db"`
	RedisKeyPrefix string      `mapstructure:"redis_key_prefix"`

	// MongoURI enables the durable client registry; empty keeps client
	// registrations in the flow-state backend.
	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDBName string `mapstructure:"mongo_db_name"`

	Upstream UpstreamConfig `mapstructure:"upstream"`

	// StaticClients are registered at startup in addition to anything
	// created through dynamic registration.
	StaticClients []StaticClient `mapstructure:"static_clients"`

	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	AuthRequestTTL  time.Duration `mapstructure:"auth_request_ttl"`
	AuthCodeTTL     time.Duration `mapstructure:"auth_code_ttl"`

	// RevokeUpstreamOnReplay cascades a refresh-token replay to the stored
	// upstream tokens of the affected session.
	RevokeUpstreamOnReplay bool `mapstructure:"revoke_upstream_on_replay"`

	TracingEnabled bool `mapstructure:"tracing_enabled"`
}

// UpstreamConfig describes the upstream identity provider this server
// federates authentication to.
type UpstreamConfig struct {
	IssuerURL    string        `mapstructure:"issuer_url"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	Scopes       []string      `mapstructure:"scopes"`
	DiscoveryTTL time.Duration `mapstructure:"discovery_ttl"`
}

// StaticClient is a pre-registered OAuth client. Confidential clients
// carry a bcrypt hash of their secret, never the secret itself.
type StaticClient struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	SecretHash   string   `mapstructure:"secret_hash"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
	Scope        []string `mapstructure:"scope"`
}

// Load reads configuration from authbridge.yaml (working directory or
// /etc/authbridge) and AUTHBRIDGE_* environment variables.
func Load() (Config, error) {
	viper.SetConfigName("authbridge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/authbridge/")

	viper.SetEnvPrefix("AUTHBRIDGE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// AutomaticEnv only resolves keys viper already knows about; keys
	// without a default must be bound explicitly or an env-only deployment
	// never sees them.
	for _, key := range []string{
		"redis_password",
		"mongo_uri",
		"tracing_enabled",
		"upstream.issuer_url",
		"upstream.client_id",
		"upstream.client_secret",
		"upstream.scopes",
	} {
		if err := viper.BindEnv(key); err != nil {
			return Config{}, err
		}
	}

	viper.SetDefault("http_addr", "0.0.0.0:8080")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("issuer", "http://localhost:8080")
	viper.SetDefault("signing_algorithm", "ES256")
	viper.SetDefault("storage_backend", string(StorageTypeMemory))
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_key_prefix", "authbridge")
	viper.SetDefault("mongo_db_name", "authbridge")
	viper.SetDefault("access_token_ttl", "5m")
	viper.SetDefault("refresh_token_ttl", "720h")
	viper.SetDefault("session_ttl", "720h")
	viper.SetDefault("auth_request_ttl", "10m")
	viper.SetDefault("auth_code_ttl", "1m")
	viper.SetDefault("revoke_upstream_on_replay", true)
	viper.SetDefault("upstream.discovery_ttl", "1h")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional; env vars and defaults are enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations a running server cannot work without.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageTypeMemory, StorageTypeRedis:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	if c.Upstream.IssuerURL == "" {
		return fmt.Errorf("upstream.issuer_url is required")
	}
	if c.Upstream.ClientID == "" {
		return fmt.Errorf("upstream.client_id is required")
	}
	return nil
}
