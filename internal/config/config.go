package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/redmonkez12/fintrack-api/internal/auth"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	TokenFormatPaseto = "paseto"
	TokenFormatJWT    = "jwt"

	minBcryptCost = 12
	maxBcryptCost = 31

	pasetoKeyLength    = 32
	minJWTSecretLength = 32
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Email     EmailConfig     `yaml:"email"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Env             string        `yaml:"env"` // dev or prod
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TrustedOrigins  []string      `yaml:"trusted_origins"` // CORS allowed origins
	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or memory
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	ChannelBinding  string        `yaml:"channel_binding"` // "require" for Neon DB, empty for local
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig is optional. Without a host, rate limits are kept in memory.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	TokenFormat string `yaml:"token_format"` // paseto or jwt
	// TokenSecret signs session tokens. It has no default and must come from
	// the environment or the config file.
	TokenSecret   string `yaml:"token_secret"`
	HashAlgorithm string `yaml:"hash_algorithm"`
	BcryptCost    int    `yaml:"bcrypt_cost"`

	AutoVerifyEmail  bool `yaml:"auto_verify_email"`
	RequireTwoFactor bool `yaml:"require_two_factor"`
	// TwoFactorMaxAttempts is how many wrong guesses burn a login code.
	TwoFactorMaxAttempts int `yaml:"two_factor_max_attempts"`

	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl"`
	TwoFactorTTL         time.Duration `yaml:"two_factor_ttl"`
	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`
	SessionTTL           time.Duration `yaml:"session_ttl"`

	MinPasswordEntropy float64       `yaml:"min_password_entropy"`
	JanitorInterval    time.Duration `yaml:"janitor_interval"`
}

type EmailConfig struct {
	SMTPHost     string        `yaml:"smtp_host"` // empty logs emails instead of sending
	SMTPPort     int           `yaml:"smtp_port"`
	SMTPUser     string        `yaml:"smtp_user"`
	SMTPPassword string        `yaml:"smtp_password"`
	FromAddress  string        `yaml:"from_address"`
	FromName     string        `yaml:"from_name"`
	FrontendURL  string        `yaml:"frontend_url"` // Frontend URL for verification links
	SendTimeout  time.Duration `yaml:"send_timeout"`
}

type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	EmailCooldown time.Duration `yaml:"email_cooldown"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			Env:             "dev",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			TrustedOrigins:  []string{"http://localhost:3000"},
		},
		Database: DatabaseConfig{
			Driver:          StoreDriverPostgres,
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			DBName:          "fintrack",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Port: "6379",
		},
		Auth: AuthConfig{
			TokenFormat:          TokenFormatPaseto,
			HashAlgorithm:        auth.HashBcrypt,
			BcryptCost:           minBcryptCost,
			AutoVerifyEmail:      true,
			TwoFactorMaxAttempts: 5,
			EmailVerificationTTL: 24 * time.Hour,
			TwoFactorTTL:         time.Hour,
			PasswordResetTTL:     time.Hour,
			SessionTTL:           7 * 24 * time.Hour,
			MinPasswordEntropy:   40,
			JanitorInterval:      time.Hour,
		},
		Email: EmailConfig{
			SMTPPort:    587,
			FromName:    "FinTrack",
			FrontendURL: "http://localhost:3000",
			SendTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   10,
			Window:        15 * time.Minute,
			EmailCooldown: 2 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A .env file in the
// working directory is loaded into the environment first.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Port = getEnv("SERVER_PORT", s.Port)
	s.Env = getEnv("APP_ENV", s.Env)
	s.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.TrustedOrigins = getSliceEnv("TRUSTED_ORIGINS", s.TrustedOrigins)
	s.TrustProxyHeaders = getBoolEnv("TRUST_PROXY_HEADERS", s.TrustProxyHeaders)

	d := &cfg.Database
	d.Driver = getEnv("STORE_DRIVER", d.Driver)
	d.Host = getEnv("DB_HOST", d.Host)
	d.Port = getEnv("DB_PORT", d.Port)
	d.User = getEnv("DB_USER", d.User)
	d.Password = getEnv("DB_PASSWORD", d.Password)
	d.DBName = getEnv("DB_NAME", d.DBName)
	d.SSLMode = getEnv("DB_SSLMODE", d.SSLMode)
	d.ChannelBinding = getEnv("DB_CHANNEL_BINDING", d.ChannelBinding)
	d.MaxOpenConns = getIntEnv("DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getIntEnv("DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getDurationEnv("DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getBoolEnv("DB_AUTO_MIGRATE", d.AutoMigrate)

	r := &cfg.Redis
	r.Host = getEnv("REDIS_HOST", r.Host)
	r.Port = getEnv("REDIS_PORT", r.Port)
	r.Password = getEnv("REDIS_PASSWORD", r.Password)
	r.DB = getIntEnv("REDIS_DB", r.DB)

	a := &cfg.Auth
	a.TokenFormat = strings.ToLower(getEnv("TOKEN_FORMAT", a.TokenFormat))
	a.TokenSecret = getEnv("TOKEN_SECRET", a.TokenSecret)
	a.HashAlgorithm = strings.ToLower(getEnv("PASSWORD_HASH_ALGORITHM", a.HashAlgorithm))
	a.BcryptCost = getIntEnv("BCRYPT_COST", a.BcryptCost)
	a.AutoVerifyEmail = getBoolEnv("AUTO_VERIFY_EMAIL", a.AutoVerifyEmail)
	a.RequireTwoFactor = getBoolEnv("REQUIRE_TWO_FACTOR", a.RequireTwoFactor)
	a.TwoFactorMaxAttempts = getIntEnv("TWO_FACTOR_MAX_ATTEMPTS", a.TwoFactorMaxAttempts)
	a.EmailVerificationTTL = getDurationEnv("EMAIL_VERIFICATION_TTL", a.EmailVerificationTTL)
	a.TwoFactorTTL = getDurationEnv("TWO_FACTOR_TTL", a.TwoFactorTTL)
	a.PasswordResetTTL = getDurationEnv("PASSWORD_RESET_TTL", a.PasswordResetTTL)
	a.SessionTTL = getDurationEnv("SESSION_TTL", a.SessionTTL)
	a.MinPasswordEntropy = getFloatEnv("MIN_PASSWORD_ENTROPY", a.MinPasswordEntropy)
	a.JanitorInterval = getDurationEnv("JANITOR_INTERVAL", a.JanitorInterval)

	e := &cfg.Email
	e.SMTPHost = getEnv("SMTP_HOST", e.SMTPHost)
	e.SMTPPort = getIntEnv("SMTP_PORT", e.SMTPPort)
	e.SMTPUser = getEnv("SMTP_USER", e.SMTPUser)
	e.SMTPPassword = getEnv("SMTP_PASS", e.SMTPPassword)
	e.FromAddress = getEnv("EMAIL_FROM", e.FromAddress)
	e.FromName = getEnv("EMAIL_FROM_NAME", e.FromName)
	e.FrontendURL = getEnv("FRONTEND_URL", e.FrontendURL)
	e.SendTimeout = getDurationEnv("EMAIL_SEND_TIMEOUT", e.SendTimeout)

	rl := &cfg.RateLimit
	rl.MaxRequests = getIntEnv("RATE_LIMIT_MAX_REQUESTS", rl.MaxRequests)
	rl.Window = getDurationEnv("RATE_LIMIT_WINDOW", rl.Window)
	rl.EmailCooldown = getDurationEnv("RATE_LIMIT_EMAIL_COOLDOWN", rl.EmailCooldown)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Database.Driver))
	}

	switch c.Auth.TokenFormat {
	case TokenFormatPaseto:
		// PASETO v4.local needs exactly 32 bytes
		if len(c.Auth.TokenSecret) != pasetoKeyLength {
			errs = append(errs, fmt.Errorf("TOKEN_SECRET must be exactly %d bytes for paseto, got %d", pasetoKeyLength, len(c.Auth.TokenSecret)))
		}
	case TokenFormatJWT:
		if len(c.Auth.TokenSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Errorf("TOKEN_SECRET must be at least %d bytes for jwt, got %d", minJWTSecretLength, len(c.Auth.TokenSecret)))
		}
	default:
		errs = append(errs, fmt.Errorf("TOKEN_FORMAT must be %q or %q, got %q", TokenFormatPaseto, TokenFormatJWT, c.Auth.TokenFormat))
	}

	switch c.Auth.HashAlgorithm {
	case auth.HashBcrypt:
		if c.Auth.BcryptCost < minBcryptCost || c.Auth.BcryptCost > maxBcryptCost {
			errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d, got %d", minBcryptCost, maxBcryptCost, c.Auth.BcryptCost))
		}
	case auth.HashArgon2id:
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_HASH_ALGORITHM must be %q or %q, got %q", auth.HashBcrypt, auth.HashArgon2id, c.Auth.HashAlgorithm))
	}

	for name, ttl := range map[string]time.Duration{
		"EMAIL_VERIFICATION_TTL": c.Auth.EmailVerificationTTL,
		"TWO_FACTOR_TTL":         c.Auth.TwoFactorTTL,
		"PASSWORD_RESET_TTL":     c.Auth.PasswordResetTTL,
		"SESSION_TTL":            c.Auth.SessionTTL,
		"EMAIL_SEND_TIMEOUT":     c.Email.SendTimeout,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Auth.TwoFactorMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("TWO_FACTOR_MAX_ATTEMPTS must be at least 1, got %d", c.Auth.TwoFactorMaxAttempts))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Enabled reports whether a Redis host is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDurationEnv accepts Go duration strings ("15m") or a bare number of
// seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Split by comma and trim whitespace
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
