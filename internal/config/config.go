package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	FHIRBaseURL      string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout      time.Duration `mapstructure:"FHIR_TIMEOUT"`
	FHIRMaxRetries   int           `mapstructure:"FHIR_MAX_RETRIES"`
	FHIRRetryWait    time.Duration `mapstructure:"FHIR_RETRY_WAIT"`
	FHIRRetryMaxWait time.Duration `mapstructure:"FHIR_RETRY_MAX_WAIT"`

	AMQPURL    string `mapstructure:"AMQP_URL"`
	OrderQueue string `mapstructure:"ORDER_QUEUE"`

	HL7SendingApp        string `mapstructure:"HL7_SENDING_APP"`
	HL7SendingFacility   string `mapstructure:"HL7_SENDING_FACILITY"`
	HL7ReceivingApp      string `mapstructure:"HL7_RECEIVING_APP"`
	HL7ReceivingFacility string `mapstructure:"HL7_RECEIVING_FACILITY"`

	EscalationInterval    time.Duration `mapstructure:"ESCALATION_INTERVAL"`
	EscalationDeduplicate bool          `mapstructure:"ESCALATION_DEDUPLICATE"`
	EscalationSkipAlerts  bool          `mapstructure:"ESCALATION_SKIP_ALERTS"`
	EscalationLockTTL     time.Duration `mapstructure:"ESCALATION_LOCK_TTL"`

	SignerRoles []string `mapstructure:"SIGNER_ROLES"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "DEFAULT_TENANT", "CORS_ORIGINS",
	"FHIR_BASE_URL", "FHIR_TIMEOUT", "FHIR_MAX_RETRIES", "FHIR_RETRY_WAIT", "FHIR_RETRY_MAX_WAIT",
	"AMQP_URL", "ORDER_QUEUE",
	"HL7_SENDING_APP", "HL7_SENDING_FACILITY", "HL7_RECEIVING_APP", "HL7_RECEIVING_FACILITY",
	"ESCALATION_INTERVAL", "ESCALATION_DEDUPLICATE", "ESCALATION_SKIP_ALERTS", "ESCALATION_LOCK_TTL",
	"SIGNER_ROLES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FHIR_TIMEOUT", "10s")
	v.SetDefault("FHIR_MAX_RETRIES", 3)
	v.SetDefault("FHIR_RETRY_WAIT", "500ms")
	v.SetDefault("FHIR_RETRY_MAX_WAIT", "5s")
	v.SetDefault("ORDER_QUEUE", "orders.outbound")
	v.SetDefault("HL7_SENDING_APP", "EHR")
	v.SetDefault("HL7_SENDING_FACILITY", "EHRFac")
	v.SetDefault("HL7_RECEIVING_APP", "Destination")
	v.SetDefault("HL7_RECEIVING_FACILITY", "DestFac")
	v.SetDefault("ESCALATION_INTERVAL", "0s")
	v.SetDefault("ESCALATION_DEDUPLICATE", false)
	v.SetDefault("ESCALATION_SKIP_ALERTS", false)
	v.SetDefault("ESCALATION_LOCK_TTL", "2m")
	v.SetDefault("SIGNER_ROLES", "physician,nurse_practitioner,physician_assistant,resident")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.SignerRoles = splitList(cfg.SignerRoles, v.GetString("SIGNER_ROLES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList normalises a comma separated value that viper may or may not
// have already split.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if decoded == nil && raw != "" {
		decoded = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(decoded))
	for _, s := range decoded {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FHIRSyncEnabled reports whether signed orders are pushed to an external
// FHIR server.
func (c *Config) FHIRSyncEnabled() bool { return c.FHIRBaseURL != "" }

// QueueEnabled reports whether signed orders are published to the broker.
func (c *Config) QueueEnabled() bool { return c.AMQPURL != "" }

// EscalationLockEnabled reports whether engine runs take a Redis lock.
func (c *Config) EscalationLockEnabled() bool { return c.RedisURL != "" }

// Validate checks that the configuration is safe to run. Outside development a
// signing key is required so that bearer tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if len(c.SignerRoles) == 0 {
		return fmt.Errorf("SIGNER_ROLES must name at least one role")
	}
	if c.FHIRMaxRetries < 0 {
		return fmt.Errorf("FHIR_MAX_RETRIES must not be negative, got %d", c.FHIRMaxRetries)
	}
	if c.FHIRRetryMaxWait < c.FHIRRetryWait {
		return fmt.Errorf("FHIR_RETRY_MAX_WAIT (%s) must not be shorter than FHIR_RETRY_WAIT (%s)", c.FHIRRetryMaxWait, c.FHIRRetryWait)
	}
	if c.QueueEnabled() && c.OrderQueue == "" {
		return fmt.Errorf("ORDER_QUEUE is required when AMQP_URL is set")
	}
	if c.EscalationInterval < 0 {
		return fmt.Errorf("ESCALATION_INTERVAL must not be negative")
	}
	if c.EscalationLockEnabled() && c.EscalationLockTTL <= 0 {
		return fmt.Errorf("ESCALATION_LOCK_TTL must be positive when REDIS_URL is set")
	}
	return nil
}
