package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the validator gateway service.
type Config struct {
	// Network Configuration
	BittensorNetwork string // "finney", "test", "local"
	BittensorNetuid  int
	ChainWSEndpoint  string // base URL of the chain node's HTTP API (pkg/chain.NewHTTPClient)

	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Database Configuration (URL-based, legacy-style)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Database Configuration (individual fields; client.go connects through
	// DatabaseURL and does not read these)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// TEE / enclave configuration
	TEESocketPath   string // unix socket path for the enclave RPC surface
	Ed25519KeyPath  string // path to the enclave's persisted Ed25519 signing key
	DataDir         string // base directory for data files (durable log fallback, keys)
	GatewayCodeHash string // expected measurement / code hash, for attestation binding

	// Arweave (permanent storage) configuration
	ArweaveGatewayURL string
	ArweaveWalletPath string
	ArweaveEnabled    bool

	// Service identity
	ValidatorID string // this gateway instance's operator-facing identifier
	LogLevel    string

	// Epoch / chain timing (spec.md §4.1)
	BlockTimeSeconds    int
	EpochLengthBlocks   int
	RevealWindowBlocks  int
	ConsensusBlockDelay int // block offset within the epoch at which consensus runs (330)
	MaxLeadsPerEpoch    int
	ValidatorStakeFloor float64 // minimum stake, alongside validator_permit, to count as a validator

	// Metagraph cache (spec.md §4.6)
	RegistryFetchMaxAttempts       int
	RegistryFetchSwitchToSyncAfter int
	RegistryFetchTimeoutSeconds    int
	RegistryFetchRetryDelaySeconds int

	// Priority middleware (spec.md §4.7)
	MaxConcurrentMiners int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   int

	// Security Configuration
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Attestation peers (multi-gateway attestation broadcast, supplemented feature)
	AttestationPeers         []string
	AttestationRequiredCount int

	// Optional YAML overlay for non-secret operational knobs
	ConfigFilePath string
}

// Load reads configuration from environment variables.
//
// SECURITY: Required variables have no defaults and must be explicitly set.
// Call Validate() after Load() to ensure all required configuration is present.
func Load() (*Config, error) {
	cfg := &Config{
		BittensorNetwork: getEnv("BITTENSOR_NETWORK", ""),
		BittensorNetuid:  getEnvInt("BITTENSOR_NETUID", 0),
		ChainWSEndpoint:  getEnv("CHAIN_WS_ENDPOINT", ""),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", false),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "gateway"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "validator_gateway"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		TEESocketPath:   getEnv("TEE_SOCKET_PATH", ""),
		Ed25519KeyPath:  getEnv("ED25519_KEY_PATH", ""),
		DataDir:         getEnv("DATA_DIR", "./data"),
		GatewayCodeHash: getEnv("GATEWAY_CODE_HASH", ""),

		ArweaveGatewayURL: getEnv("ARWEAVE_GATEWAY_URL", "https://arweave.net"),
		ArweaveWalletPath: getEnv("ARWEAVE_WALLET_PATH", ""),
		ArweaveEnabled:    getEnvBool("ARWEAVE_ENABLED", false),

		ValidatorID: getEnv("VALIDATOR_ID", "gateway-default"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		BlockTimeSeconds:    getEnvInt("BLOCK_TIME_SECONDS", 12),
		EpochLengthBlocks:   getEnvInt("EPOCH_LENGTH_BLOCKS", 360),
		RevealWindowBlocks:  getEnvInt("REVEAL_WINDOW_BLOCKS", 328),
		ConsensusBlockDelay: getEnvInt("CONSENSUS_BLOCK_DELAY", 330),
		MaxLeadsPerEpoch:    getEnvInt("MAX_LEADS_PER_EPOCH", 50),
		ValidatorStakeFloor: getEnvFloat("VALIDATOR_STAKE_FLOOR", 500000.0),

		RegistryFetchMaxAttempts:       getEnvInt("REGISTRY_FETCH_MAX_ATTEMPTS", 8),
		RegistryFetchSwitchToSyncAfter: getEnvInt("REGISTRY_FETCH_SWITCH_TO_SYNC_AFTER", 4),
		RegistryFetchTimeoutSeconds:    getEnvInt("REGISTRY_FETCH_TIMEOUT_SECONDS", 60),
		RegistryFetchRetryDelaySeconds: getEnvInt("REGISTRY_FETCH_RETRY_DELAY_SECONDS", 2),

		MaxConcurrentMiners: getEnvInt("MAX_CONCURRENT_MINERS", 20),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		AttestationPeers:         parseAttestationPeers(getEnv("ATTESTATION_PEERS", "")),
		AttestationRequiredCount: getEnvInt("ATTESTATION_REQUIRED_COUNT", 1),

		ConfigFilePath: getEnv("CONFIG_FILE", ""),
	}

	if cfg.ConfigFilePath != "" {
		if err := applyYAMLOverlay(cfg, cfg.ConfigFilePath); err != nil {
			return nil, fmt.Errorf("loading config overlay: %w", err)
		}
	}

	return cfg, nil
}

// yamlOverlay mirrors the subset of Config that may be safely overridden by
// an operational YAML file. Secrets are never read from here.
type yamlOverlay struct {
	EpochLengthBlocks   *int     `yaml:"epoch_length_blocks"`
	RevealWindowBlocks  *int     `yaml:"reveal_window_blocks"`
	ConsensusBlockDelay *int     `yaml:"consensus_block_delay"`
	MaxLeadsPerEpoch    *int     `yaml:"max_leads_per_epoch"`
	MaxConcurrentMiners *int     `yaml:"max_concurrent_miners"`
	ValidatorStakeFloor *float64 `yaml:"validator_stake_floor"`
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.EpochLengthBlocks != nil {
		cfg.EpochLengthBlocks = *overlay.EpochLengthBlocks
	}
	if overlay.RevealWindowBlocks != nil {
		cfg.RevealWindowBlocks = *overlay.RevealWindowBlocks
	}
	if overlay.ConsensusBlockDelay != nil {
		cfg.ConsensusBlockDelay = *overlay.ConsensusBlockDelay
	}
	if overlay.MaxLeadsPerEpoch != nil {
		cfg.MaxLeadsPerEpoch = *overlay.MaxLeadsPerEpoch
	}
	if overlay.MaxConcurrentMiners != nil {
		cfg.MaxConcurrentMiners = *overlay.MaxConcurrentMiners
	}
	if overlay.ValidatorStakeFloor != nil {
		cfg.ValidatorStakeFloor = *overlay.ValidatorStakeFloor
	}
	return nil
}

// Validate checks that all required configuration is present and secure.
// This must be called after Load() before starting the service in production.
func (c *Config) Validate() error {
	var errs []string

	if c.BittensorNetwork == "" {
		errs = append(errs, "BITTENSOR_NETWORK is required but not set")
	}
	if c.ChainWSEndpoint == "" {
		errs = append(errs, "CHAIN_WS_ENDPOINT is required but not set")
	}
	if c.BittensorNetuid <= 0 {
		errs = append(errs, "BITTENSOR_NETUID is required and must be positive")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	} else {
		if strings.Contains(c.DatabaseURL, "sslmode=disable") {
			errs = append(errs, "DATABASE_URL must use sslmode=require for production security")
		}
		if strings.Contains(c.DatabaseURL, "development") || strings.Contains(c.DatabaseURL, "password") {
			errs = append(errs, "DATABASE_URL appears to contain default/weak credentials")
		}
	}

	if c.ArweaveEnabled && c.ArweaveWalletPath == "" {
		errs = append(errs, "ARWEAVE_WALLET_PATH is required when ARWEAVE_ENABLED is true")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lowerSecret := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errs = append(errs, "JWT_SECRET contains a weak/default value")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local development.
// WARNING: Do not use this in production - use Validate() instead.
func (c *Config) ValidateForDevelopment() error {
	var errs []string
	if c.ChainWSEndpoint == "" {
		errs = append(errs, "CHAIN_WS_ENDPOINT is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("development configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseAttestationPeers parses comma-separated peer URLs for attestation collection.
func parseAttestationPeers(value string) []string {
	if value == "" {
		return nil
	}
	peers := strings.Split(value, ",")
	result := make([]string, 0, len(peers))
	for _, peer := range peers {
		peer = strings.TrimSpace(peer)
		if peer != "" {
			result = append(result, peer)
		}
	}
	return result
}
