// Package config loads process configuration from an optional YAML file and PORTAL_* variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "PORTAL_"
	fileEnv   = envPrefix + "CONFIG_FILE"

	minSecretBytes = 32
	minInviteTTL   = time.Hour
	maxInviteTTL   = 168 * time.Hour
)

// Config is the complete runtime configuration of the portal.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	DatabaseURL    string `yaml:"database_url"`
	DBMaxOpenConns int    `yaml:"db_max_open_conns"`
	DBMaxIdleConns int    `yaml:"db_max_idle_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	JWTSecret  string        `yaml:"jwt_secret"`
	JWTIssuer  string        `yaml:"jwt_issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`

	InviteTTL      time.Duration `yaml:"invite_ttl"`
	ResetTTL       time.Duration `yaml:"reset_ttl"`
	PublicBaseURL  string        `yaml:"public_base_url"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
	NotifyLogLinks bool          `yaml:"notify_log_links"` // plaintext links in the log, development only

	AuthRateLimit  int           `yaml:"auth_rate_limit"`
	AuthRateWindow time.Duration `yaml:"auth_rate_window"`
	GlobalRPS      float64       `yaml:"global_rps"`
	GlobalBurst    int           `yaml:"global_burst"`
	RedisURL       string        `yaml:"redis_url"`
	TrustedProxies []string      `yaml:"trusted_proxies"` // peers whose X-Forwarded-For is honoured

	AuditBufferSize int      `yaml:"audit_buffer_size"`
	CORSOrigins     []string `yaml:"cors_origins"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	LogLevel        string   `yaml:"log_level"`

	BootstrapAdminEmail    string `yaml:"bootstrap_admin_email"`
	BootstrapAdminPassword string `yaml:"bootstrap_admin_password"`
}

// Default returns the built-in configuration. JWTSecret is intentionally empty.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,

		DBMaxOpenConns: 10,
		DBMaxIdleConns: 10,

		JWTIssuer:  "clientportal",
		TokenTTL:   7 * 24 * time.Hour,
		BcryptCost: 12,

		InviteTTL:     48 * time.Hour,
		ResetTTL:      time.Hour,
		PublicBaseURL: "http://localhost:3000",
		NotifyTimeout: 10 * time.Second,

		AuthRateLimit:  10,
		AuthRateWindow: 15 * time.Minute,
		GlobalRPS:      20,
		GlobalBurst:    40,

		AuditBufferSize: 1024,
		MaxBodyBytes:    1 << 20,
		LogLevel:        "info",
	}
}

// Load builds the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds the configuration using lookup for environment access.
// Precedence: environment, then the YAML file named by PORTAL_CONFIG_FILE, then defaults.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path, ok := lookup(fileEnv); ok && strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	e := envReader{lookup: lookup}
	e.str("HTTP_ADDR", &cfg.HTTPAddr)
	e.str("GRPC_ADDR", &cfg.GRPCAddr)
	e.dur("READ_TIMEOUT", &cfg.ReadTimeout)
	e.dur("WRITE_TIMEOUT", &cfg.WriteTimeout)
	e.dur("IDLE_TIMEOUT", &cfg.IdleTimeout)
	e.dur("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	e.str("DATABASE_URL", &cfg.DatabaseURL)
	e.integer("DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns)
	e.integer("DB_MAX_IDLE_CONNS", &cfg.DBMaxIdleConns)
	e.boolean("MIGRATE_ON_START", &cfg.MigrateOnStart)
	e.str("JWT_SECRET", &cfg.JWTSecret)
	e.str("JWT_ISSUER", &cfg.JWTIssuer)
	e.dur("TOKEN_TTL", &cfg.TokenTTL)
	e.integer("BCRYPT_COST", &cfg.BcryptCost)
	e.dur("INVITE_TTL", &cfg.InviteTTL)
	e.dur("RESET_TTL", &cfg.ResetTTL)
	e.str("PUBLIC_BASE_URL", &cfg.PublicBaseURL)
	e.dur("NOTIFY_TIMEOUT", &cfg.NotifyTimeout)
	e.boolean("NOTIFY_LOG_LINKS", &cfg.NotifyLogLinks)
	e.integer("AUTH_RATE_LIMIT", &cfg.AuthRateLimit)
	e.dur("AUTH_RATE_WINDOW", &cfg.AuthRateWindow)
	e.float("GLOBAL_RPS", &cfg.GlobalRPS)
	e.integer("GLOBAL_BURST", &cfg.GlobalBurst)
	e.str("REDIS_URL", &cfg.RedisURL)
	e.integer("AUDIT_BUFFER_SIZE", &cfg.AuditBufferSize)
	e.list("CORS_ORIGINS", &cfg.CORSOrigins)
	e.list("TRUSTED_PROXIES", &cfg.TrustedProxies)
	e.int64("MAX_BODY_BYTES", &cfg.MaxBodyBytes)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("BOOTSTRAP_ADMIN_EMAIL", &cfg.BootstrapAdminEmail)
	e.str("BOOTSTRAP_ADMIN_PASSWORD", &cfg.BootstrapAdminPassword)
	if err := errors.Join(e.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minSecretBytes {
		errs = append(errs, fmt.Errorf("config: %sJWT_SECRET must be at least %d bytes", envPrefix, minSecretBytes))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: token ttl must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("config: bcrypt cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.InviteTTL < minInviteTTL || c.InviteTTL > maxInviteTTL {
		errs = append(errs, fmt.Errorf("config: invite ttl must be within [%s, %s]", minInviteTTL, maxInviteTTL))
	}
	if c.ResetTTL <= 0 {
		errs = append(errs, errors.New("config: reset ttl must be positive"))
	}
	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		errs = append(errs, errors.New("config: auth rate limit and window must be positive"))
	}
	if c.GlobalRPS <= 0 || c.GlobalBurst <= 0 {
		errs = append(errs, errors.New("config: global rate and burst must be positive"))
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("config: trusted proxy %q is not an IP address or CIDR", p))
		}
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("config: http address is required"))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("config: bootstrap admin email and password must be set together"))
	}
	return errors.Join(errs...)
}

func validProxy(p string) bool {
	if _, err := netip.ParsePrefix(p); err == nil {
		return true
	}
	_, err := netip.ParseAddr(p)
	return err == nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) dur(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("config: %s%s: %w", envPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}
