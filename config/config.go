package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string `env:"ENV" env-default:"local"`
	Address string `env:"ADDRESS" env-default:"0.0.0.0:8080"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"debug"`
	LogFormat string `env:"LOG_FORMAT" env-default:"pretty"`

	StoragePath string `env:"STORAGE_PATH" env-default:"streamgate.db"`

	// JWTSecret verifies bearer identity tokens minted by the platform's auth service.
	JWTSecret string `env:"JWT_SECRET" env-required:"true"`
	// FingerprintSecret keys the device (user-agent) hash bound to each session.
	FingerprintSecret string `env:"FINGERPRINT_SECRET" env-required:"true"`

	// Origin signing. SignScheme selects "path" (token/expires/uid params) or
	// "asset" (sig/expires/uid params) depending on the upstream provider.
	OriginBase string `env:"ORIGIN_BASE" env-required:"true"`
	OriginKey  string `env:"ORIGIN_KEY" env-required:"true"`
	SignScheme string `env:"SIGN_SCHEME" env-default:"path"`

	// ProxyEnabled routes playback through /stream/{sessionId}; when false the
	// signed origin URL is handed to the client directly.
	ProxyEnabled bool   `env:"PROXY_ENABLED" env-default:"true"`
	ProxyBase    string `env:"PROXY_BASE" env-default:"http://localhost:8080/stream"`

	// DefaultDomain is bound to a session when the issuing request carries no
	// Origin or Referer header.
	DefaultDomain string `env:"DEFAULT_DOMAIN" env-default:"localhost"`

	TokenTTL        time.Duration `env:"TOKEN_TTL" env-default:"1h"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" env-default:"30s"`

	// ViolationBuffer bounds the fire-and-forget violation queue.
	ViolationBuffer int `env:"VIOLATION_BUFFER" env-default:"256"`
}

// MustLoad reads configuration from the environment and panics on failure.
// The service is useless without its secrets, so there is nothing to recover to.
func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}
	if cfg.SignScheme != "path" && cfg.SignScheme != "asset" {
		panic("invalid SIGN_SCHEME: " + cfg.SignScheme)
	}
	return &cfg
}
