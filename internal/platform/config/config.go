package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Polygon networks the wallet flow knows about.
const (
	ChainIDPolygonAmoy    int64 = 80002
	ChainIDPolygonMainnet int64 = 137
)

// Duration decodes TOML strings such as "15s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Proof     ProofConfig     `toml:"proof"`
	Claim     ClaimConfig     `toml:"claim"`
	Session   SessionConfig   `toml:"session"`
	Issuer    IssuerConfig    `toml:"issuer"`
	Storage   StorageConfig   `toml:"storage"`
	Redis     RedisConfig     `toml:"redis"`
	Kafka     KafkaConfig     `toml:"kafka"`
	Wallet    WalletConfig    `toml:"wallet"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string   `toml:"addr"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the socket peer is always the client.
	TrustedProxies []string `toml:"trusted_proxies"`
}

type AuthConfig struct {
	RequiredChainID     int64  `toml:"required_chain_id"`
	WalletNamespace     string `toml:"wallet_namespace"`
	CredentialNamespace string `toml:"credential_namespace"`
	IssuerDID           string `toml:"issuer_did"`
	JWTSigningKey       string `toml:"jwt_signing_key"`
}

type ProofConfig struct {
	CircuitID         string   `toml:"circuit_id"`
	MaxAge            Duration `toml:"max_age"`
	ProverDelay       Duration `toml:"prover_delay"`
	GenerationTimeout Duration `toml:"generation_timeout"`
}

type ClaimConfig struct {
	TTL Duration `toml:"ttl"`
}

type SessionConfig struct {
	TTL Duration `toml:"ttl"`
}

// IssuerConfig points at the upstream issuer node. When Enabled is false the core runs
// with local issuance only.
type IssuerConfig struct {
	Enabled          bool     `toml:"enabled"`
	URL              string   `toml:"url"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	Timeout          Duration `toml:"timeout"`
	FailureThreshold int      `toml:"failure_threshold"`
	Cooldown         Duration `toml:"cooldown"`
}

// StorageConfig selects the key-value backend: memory, redis, postgres or sqlite.
type StorageConfig struct {
	Driver      string `toml:"driver"`
	PostgresDSN string `toml:"postgres_dsn"`
	SQLitePath  string `toml:"sqlite_path"`
}

type RedisConfig struct {
	URL          string   `toml:"url"`
	PoolSize     int      `toml:"pool_size"`
	MinIdleConns int      `toml:"min_idle_conns"`
	DialTimeout  Duration `toml:"dial_timeout"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// KafkaConfig enables the audit event stream when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// WalletConfig enables background balance polling when RPCURL is set.
type WalletConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	Address      string   `toml:"address"`
	PollInterval Duration `toml:"poll_interval"`
}

// RateLimitConfig bounds authentication requests per client IP on the HTTP server.
type RateLimitConfig struct {
	Enabled      bool     `toml:"enabled"`
	AuthRequests int      `toml:"auth_requests"`
	Window       Duration `toml:"window"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration{5 * time.Second},
			ShutdownTimeout:   Duration{10 * time.Second},
		},
		Auth: AuthConfig{
			RequiredChainID:     ChainIDPolygonAmoy,
			WalletNamespace:     "iden3:polygon:amoy",
			CredentialNamespace: "iden3:polygon:amoy",
			IssuerDID:           "did:iden3:polygon:amoy:issuer",
			// development default; override with ZKP_JWT_SIGNING_KEY
			JWTSigningKey: "dev-secret-key-change-in-production",
		},
		Proof: ProofConfig{
			CircuitID:         "credentialAtomicQuerySigV2",
			MaxAge:            Duration{5 * time.Minute},
			ProverDelay:       Duration{2 * time.Second},
			GenerationTimeout: Duration{60 * time.Second},
		},
		Claim:   ClaimConfig{TTL: Duration{365 * 24 * time.Hour}},
		Session: SessionConfig{TTL: Duration{24 * time.Hour}},
		Issuer: IssuerConfig{
			URL:              "http://localhost:3001",
			Timeout:          Duration{15 * time.Second},
			FailureThreshold: 5,
			Cooldown:         Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Driver:     "memory",
			SQLitePath: "zkpauth.db",
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration{5 * time.Second},
			ReadTimeout:  Duration{3 * time.Second},
			WriteTimeout: Duration{3 * time.Second},
		},
		Kafka: KafkaConfig{Topic: "zkpauth.audit"},
		Wallet: WalletConfig{
			PollInterval: Duration{30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			AuthRequests: 10,
			Window:       Duration{time.Minute},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the TOML file at path over the defaults, applies ZKP_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}"))
	})
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("ZKP_ADDR", &c.Server.Addr)
	setString("ZKP_JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	setString("ZKP_ISSUER_DID", &c.Auth.IssuerDID)
	setString("ZKP_ISSUER_URL", &c.Issuer.URL)
	setString("ZKP_ISSUER_USER", &c.Issuer.User)
	setString("ZKP_ISSUER_PASSWORD", &c.Issuer.Password)
	setString("ZKP_STORAGE_DRIVER", &c.Storage.Driver)
	setString("ZKP_POSTGRES_DSN", &c.Storage.PostgresDSN)
	setString("ZKP_SQLITE_PATH", &c.Storage.SQLitePath)
	setString("ZKP_REDIS_URL", &c.Redis.URL)
	setString("ZKP_KAFKA_TOPIC", &c.Kafka.Topic)
	setString("ZKP_WALLET_RPC_URL", &c.Wallet.RPCURL)
	setString("ZKP_WALLET_ADDRESS", &c.Wallet.Address)
	setString("ZKP_LOG_LEVEL", &c.Logging.Level)
	setString("ZKP_LOG_FORMAT", &c.Logging.Format)

	if v := os.Getenv("ZKP_TRUSTED_PROXIES"); v != "" {
		c.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("ZKP_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ZKP_ISSUER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ZKP_ISSUER_ENABLED: %w", err)
		}
		c.Issuer.Enabled = enabled
	}
	if v := os.Getenv("ZKP_REQUIRED_CHAIN_ID"); v != "" {
		chainID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ZKP_REQUIRED_CHAIN_ID: %w", err)
		}
		c.Auth.RequiredChainID = chainID
	}
	return nil
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	var errs []error
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(strings.TrimSpace(proxy)) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy))
		}
	}
	if c.Auth.RequiredChainID <= 0 {
		errs = append(errs, errors.New("auth.required_chain_id must be positive"))
	}
	if c.Auth.WalletNamespace == "" || c.Auth.CredentialNamespace == "" {
		errs = append(errs, errors.New("auth namespaces are required"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	if c.Proof.CircuitID == "" {
		errs = append(errs, errors.New("proof.circuit_id is required"))
	}
	if c.Proof.MaxAge.Duration <= 0 {
		errs = append(errs, errors.New("proof.max_age must be positive"))
	}
	if c.Proof.ProverDelay.Duration < 0 {
		errs = append(errs, errors.New("proof.prover_delay cannot be negative"))
	}
	if c.Claim.TTL.Duration <= 0 {
		errs = append(errs, errors.New("claim.ttl must be positive"))
	}
	if c.Session.TTL.Duration <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if c.Issuer.Enabled {
		if c.Issuer.URL == "" {
			errs = append(errs, errors.New("issuer.url is required when the issuer is enabled"))
		}
		if c.Issuer.Timeout.Duration <= 0 {
			errs = append(errs, errors.New("issuer.timeout must be positive"))
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis driver"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Wallet.RPCURL != "" && c.Wallet.PollInterval.Duration <= 0 {
		errs = append(errs, errors.New("wallet.poll_interval must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.AuthRequests <= 0 || c.RateLimit.Window.Duration <= 0) {
		errs = append(errs, errors.New("rate_limit.auth_requests and rate_limit.window must be positive"))
	}
	return errors.Join(errs...)
}

func validProxy(s string) bool {
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
