package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/fintrack-api/internal/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 bytes

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TOKEN_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TokenFormatPaseto, cfg.Auth.TokenFormat)
	assert.Equal(t, auth.HashBcrypt, cfg.Auth.HashAlgorithm)
	assert.Equal(t, 5, cfg.Auth.TwoFactorMaxAttempts)
	assert.False(t, cfg.Server.TrustProxyHeaders)
	assert.GreaterOrEqual(t, cfg.Auth.BcryptCost, 12)
	assert.True(t, cfg.Auth.AutoVerifyEmail)
	assert.False(t, cfg.Auth.RequireTwoFactor)
	assert.Equal(t, 24*time.Hour, cfg.Auth.EmailVerificationTTL)
	assert.Equal(t, time.Hour, cfg.Auth.TwoFactorTTL)
	assert.Equal(t, time.Hour, cfg.Auth.PasswordResetTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TOKEN_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SECRET")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TOKEN_FORMAT", "JWT")
	t.Setenv("TOKEN_SECRET", testSecret+"-longer-is-fine")
	t.Setenv("REQUIRE_TWO_FACTOR", "true")
	t.Setenv("SESSION_TTL", "48h")
	t.Setenv("TWO_FACTOR_TTL", "600")
	t.Setenv("TRUSTED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	t.Setenv("TWO_FACTOR_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TokenFormatJWT, cfg.Auth.TokenFormat)
	assert.True(t, cfg.Auth.RequireTwoFactor)
	assert.Equal(t, 48*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.TwoFactorTTL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.TrustedOrigins)
	assert.Equal(t, StoreDriverMemory, cfg.Database.Driver)
	assert.True(t, cfg.Server.TrustProxyHeaders)
	assert.Equal(t, 3, cfg.Auth.TwoFactorMaxAttempts)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(`
server:
  port: "9090"
auth:
  token_secret: "`+testSecret+`"
  auto_verify_email: false
  password_reset_ttl: 30m
redis:
  host: redis.internal
`)), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TOKEN_SECRET", "")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port, "env wins over file")
	assert.False(t, cfg.Auth.AutoVerifyEmail)
	assert.Equal(t, 30*time.Minute, cfg.Auth.PasswordResetTTL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address())
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid paseto",
			mutate: func(c *Config) {},
		},
		{
			name:    "short paseto key",
			mutate:  func(c *Config) { c.Auth.TokenSecret = "short" },
			wantErr: "exactly 32 bytes",
		},
		{
			name: "short jwt secret",
			mutate: func(c *Config) {
				c.Auth.TokenFormat = TokenFormatJWT
				c.Auth.TokenSecret = "short"
			},
			wantErr: "at least 32 bytes",
		},
		{
			name:    "unknown token format",
			mutate:  func(c *Config) { c.Auth.TokenFormat = "saml" },
			wantErr: "TOKEN_FORMAT",
		},
		{
			name:    "bcrypt cost too low",
			mutate:  func(c *Config) { c.Auth.BcryptCost = 10 },
			wantErr: "BCRYPT_COST",
		},
		{
			name:    "unknown store driver",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "STORE_DRIVER",
		},
		{
			name:    "zero ttl",
			mutate:  func(c *Config) { c.Auth.SessionTTL = 0 },
			wantErr: "SESSION_TTL",
		},
		{
			name:    "zero email send timeout",
			mutate:  func(c *Config) { c.Email.SendTimeout = 0 },
			wantErr: "EMAIL_SEND_TIMEOUT",
		},
		{
			name:    "negative email send timeout",
			mutate:  func(c *Config) { c.Email.SendTimeout = -time.Second },
			wantErr: "EMAIL_SEND_TIMEOUT",
		},
		{
			name:    "no two-factor attempts",
			mutate:  func(c *Config) { c.Auth.TwoFactorMaxAttempts = 0 },
			wantErr: "TWO_FACTOR_MAX_ATTEMPTS",
		},
		{
			name:    "unknown hash algorithm",
			mutate:  func(c *Config) { c.Auth.HashAlgorithm = "md5" },
			wantErr: "PASSWORD_HASH_ALGORITHM",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Auth.TokenSecret = testSecret
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := Defaults().Database
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=fintrack sslmode=disable", c.ConnectionString())

	c.ChannelBinding = "require"
	assert.True(t, strings.HasSuffix(c.ConnectionString(), " channel_binding=require"))
}
