package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of the relay.
type Config struct {
	Relay    RelayConfig    `mapstructure:"relay"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// RelayConfig describes the approval gate the relay closes.
type RelayConfig struct {
	PipelineName string `mapstructure:"pipeline_name"`
	StageSuffix  string `mapstructure:"stage_suffix"`
	ActionName   string `mapstructure:"action_name"`
	DryRun       bool   `mapstructure:"dry_run"`
}

type AWSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// ServerConfig: mode "lambda" serves Lambda invocations, "http" starts a local API.
type ServerConfig struct {
	Mode         string        `mapstructure:"mode"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig: PostgreSQL for the audit trail. Empty URL disables it.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig: token lock and environment freeze. Empty Addr disables both.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	RequiredScope string `mapstructure:"required_scope"`
	PublicKey     []byte
}

// EngineConfig tunes calls to the pipeline service.
type EngineConfig struct {
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`

	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

const (
	ModeLambda = "lambda"
	ModeHTTP   = "http"
)

// LoadConfig merges config.yaml (optional) with environment variables.
func LoadConfig() (*Config, error) {
	return loadConfig(viper.New())
}

func loadConfig(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// RELAY_DRY_RUN=true overrides relay.dry_run
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// The function has always been deployed with a plain `pipelineName` variable.
	if err := v.BindEnv("relay.pipeline_name", "RELAY_PIPELINE_NAME", "pipelineName"); err != nil {
		return nil, fmt.Errorf("bind pipeline name: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Server.Mode == "" {
		cfg.Server.Mode = detectMode()
	}
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.stage_suffix", "-Plan-and-Apply")
	v.SetDefault("relay.action_name", "Approval")
	v.SetDefault("relay.dry_run", false)
	// Empty defaults make AutomaticEnv visible to Unmarshal.
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("server.mode", "")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("database.max_conns", 5)
	v.SetDefault("redis.lock_ttl", 15*time.Minute)
	v.SetDefault("auth.required_scope", "pipeline:approve")
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.call_timeout", 10*time.Second)
	v.SetDefault("engine.rate_limit", 5)
	v.SetDefault("engine.rate_burst", 5)
	v.SetDefault("engine.cb_max_requests", 1)
	v.SetDefault("engine.cb_interval", 30*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate reports configuration that makes every invocation fail.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Relay.PipelineName) == "" {
		return errors.New("config: pipeline name is required (pipelineName or RELAY_PIPELINE_NAME)")
	}
	if strings.TrimSpace(c.Relay.ActionName) == "" {
		return errors.New("config: relay.action_name must not be empty")
	}
	switch c.Server.Mode {
	case ModeLambda, ModeHTTP:
	default:
		return fmt.Errorf("config: unknown server.mode %q", c.Server.Mode)
	}
	if c.Server.Mode == ModeHTTP && len(c.Auth.PublicKey) == 0 {
		return errors.New("config: http mode requires auth.public_key_path or AUTH_PUBLIC_KEY_DATA")
	}
	return nil
}

// Addr returns the listen address of the HTTP mode.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// detectMode picks lambda when started by the Lambda runtime.
func detectMode() string {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		return ModeLambda
	}
	return ModeHTTP
}

func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
