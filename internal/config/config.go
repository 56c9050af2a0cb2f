package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL        MySQLConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Webhook      WebhookConfig
	Registrar    RegistrarConfig
	Cloudflare   CloudflareConfig
	SSL          SSLConfig
	Orchestrator OrchestratorConfig
	DNSWorker    DNSWorkerConfig
	Migrate      bool
	HTTPAddr     string
	// PlatformHosts are hostnames served by the platform itself; the
	// domain router never treats them as custom domains.
	PlatformHosts []string
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// WebhookConfig holds payment webhook configuration
type WebhookConfig struct {
	// Secret is the shared HMAC secret the payment provider signs
	// webhook bodies with.
	Secret string
}

// RegistrarConfig holds domain registrar API configuration
type RegistrarConfig struct {
	APIURL   string
	Username string
	APIToken string
	// Years is the registration period purchased per order.
	Years int
	// PriceBandPct is the tolerated upward price drift, in percent,
	// between the quoted price and the price at purchase time.
	PriceBandPct int
	// ManagementFeeCents is added on top of the registrar price.
	ManagementFeeCents int64
	ContactEmail       string
}

// CloudflareConfig holds DNS provider configuration
type CloudflareConfig struct {
	Email    string
	APIToken string
	// CNAMETarget is the canonical edge hostname custom domains alias to.
	CNAMETarget string
}

// SSLConfig selects the SSL backend
type SSLConfig struct {
	// Mode is "cloudflare" (managed universal SSL) or "acme"
	// (self-managed issuance via DNS-01).
	Mode         string
	ACMEEmail    string
	ACMEDirectory string
}

// OrchestratorConfig holds retry/backoff configuration for external calls
type OrchestratorConfig struct {
	MaxAttempts    int
	BackoffBaseMs  int
	CallTimeoutSec int
}

// DNSWorkerConfig holds the DNS/SSL check worker configuration
type DNSWorkerConfig struct {
	Enabled     bool
	IntervalSec int
	BatchSize   int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "domainflow"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		},
		Registrar: RegistrarConfig{
			APIURL:             getEnv("REGISTRAR_API_URL", "https://api.name.com"),
			Username:           getEnv("REGISTRAR_USERNAME", ""),
			APIToken:           getEnv("REGISTRAR_API_TOKEN", ""),
			Years:              getEnvInt("REGISTRAR_YEARS", 1),
			PriceBandPct:       getEnvInt("REGISTRAR_PRICE_BAND_PCT", 5),
			ManagementFeeCents: int64(getEnvInt("MANAGEMENT_FEE_CENTS", 200)),
			ContactEmail:       getEnv("REGISTRAR_CONTACT_EMAIL", ""),
		},
		Cloudflare: CloudflareConfig{
			Email:       getEnv("CF_EMAIL", ""),
			APIToken:    getEnv("CF_API_TOKEN", ""),
			CNAMETarget: getEnv("CNAME_TARGET", ""),
		},
		SSL: SSLConfig{
			Mode:          getEnv("SSL_MODE", "cloudflare"),
			ACMEEmail:     getEnv("ACME_EMAIL", ""),
			ACMEDirectory: getEnv("ACME_DIRECTORY", "https://acme-v02.api.letsencrypt.org/directory"),
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:    getEnvInt("ORCH_MAX_ATTEMPTS", 4),
			BackoffBaseMs:  getEnvInt("ORCH_BACKOFF_BASE_MS", 500),
			CallTimeoutSec: getEnvInt("ORCH_CALL_TIMEOUT_SEC", 15),
		},
		DNSWorker: DNSWorkerConfig{
			Enabled:     getEnv("DNS_WORKER_ENABLED", "1") == "1",
			IntervalSec: getEnvInt("DNS_WORKER_INTERVAL_SEC", 60),
			BatchSize:   getEnvInt("DNS_WORKER_BATCH_SIZE", 20),
		},
		Migrate:       getEnv("MIGRATE", "0") == "1",
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PlatformHosts: splitHosts(getEnv("PLATFORM_HOSTS", "")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromINI loads configuration from an INI file with environment
// variable override. Priority: ENV > INI > default.
func LoadFromINI(iniPath string) (*Config, error) {
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", "localhost:6379"),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "domainflow"),
		},
		Webhook: WebhookConfig{
			Secret: getValue("PAYMENT_WEBHOOK_SECRET", "webhook", "payment_secret", ""),
		},
		Registrar: RegistrarConfig{
			APIURL:             getValue("REGISTRAR_API_URL", "registrar", "api_url", "https://api.name.com"),
			Username:           getValue("REGISTRAR_USERNAME", "registrar", "username", ""),
			APIToken:           getValue("REGISTRAR_API_TOKEN", "registrar", "api_token", ""),
			Years:              getValueInt("REGISTRAR_YEARS", "registrar", "years", 1),
			PriceBandPct:       getValueInt("REGISTRAR_PRICE_BAND_PCT", "registrar", "price_band_pct", 5),
			ManagementFeeCents: int64(getValueInt("MANAGEMENT_FEE_CENTS", "registrar", "management_fee_cents", 200)),
			ContactEmail:       getValue("REGISTRAR_CONTACT_EMAIL", "registrar", "contact_email", ""),
		},
		Cloudflare: CloudflareConfig{
			Email:       getValue("CF_EMAIL", "cloudflare", "email", ""),
			APIToken:    getValue("CF_API_TOKEN", "cloudflare", "api_token", ""),
			CNAMETarget: getValue("CNAME_TARGET", "cloudflare", "cname_target", ""),
		},
		SSL: SSLConfig{
			Mode:          getValue("SSL_MODE", "ssl", "mode", "cloudflare"),
			ACMEEmail:     getValue("ACME_EMAIL", "ssl", "acme_email", ""),
			ACMEDirectory: getValue("ACME_DIRECTORY", "ssl", "acme_directory", "https://acme-v02.api.letsencrypt.org/directory"),
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:    getValueInt("ORCH_MAX_ATTEMPTS", "orchestrator", "max_attempts", 4),
			BackoffBaseMs:  getValueInt("ORCH_BACKOFF_BASE_MS", "orchestrator", "backoff_base_ms", 500),
			CallTimeoutSec: getValueInt("ORCH_CALL_TIMEOUT_SEC", "orchestrator", "call_timeout_sec", 15),
		},
		DNSWorker: DNSWorkerConfig{
			Enabled:     getValueBool("DNS_WORKER_ENABLED", "dns", "worker_enabled", true),
			IntervalSec: getValueInt("DNS_WORKER_INTERVAL_SEC", "dns", "interval_sec", 60),
			BatchSize:   getValueInt("DNS_WORKER_BATCH_SIZE", "dns", "batch_size", 20),
		},
		Migrate:       getValueBool("MIGRATE", "app", "migrate", false),
		HTTPAddr:      getValue("HTTP_ADDR", "http", "addr", ":8080"),
		PlatformHosts: splitHosts(getValue("PLATFORM_HOSTS", "http", "platform_hosts", "")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Webhook.Secret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET is required")
	}
	if c.SSL.Mode != "cloudflare" && c.SSL.Mode != "acme" {
		return fmt.Errorf("SSL_MODE must be cloudflare or acme, got %q", c.SSL.Mode)
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

func splitHosts(s string) []string {
	if s == "" {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, strings.ToLower(h))
		}
	}
	return hosts
}
