package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Keycloak  KeycloakConfig
	Storage   StorageConfig
	Agent     AgentConfig
	Signing   SigningConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KeycloakConfig struct {
	URL      string
	Realm    string
	ClientID string
	// AllowInsecureToken accepts unverified JWTs; integration environments only.
	AllowInsecureToken bool
}

// StorageConfig holds MinIO connection configuration. An empty endpoint
// selects the in-memory file store.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	MaxUploadSize int64
}

// AgentConfig describes how the local signing agent is reached.
type AgentConfig struct {
	// Mode is "websocket" (real local agent) or "simulated".
	Mode               string
	URL                string
	StepTimeout        time.Duration
	InteractionTimeout time.Duration
	SimulatedLatency   time.Duration
}

type SigningConfig struct {
	// LockTTL bounds how long an in-flight attempt holds the (document, user) lock.
	LockTTL    time.Duration
	SessionTTL time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5001")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("MONGODB_DATABASE", "signdesk")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MINIO_BUCKET", "signdesk")
	v.SetDefault("MINIO_MAX_UPLOAD_MB", 25)
	v.SetDefault("AGENT_MODE", "websocket")
	v.SetDefault("AGENT_URL", "ws://127.0.0.1:9774")
	v.SetDefault("AGENT_STEP_TIMEOUT_SECONDS", 30)
	v.SetDefault("AGENT_INTERACTION_TIMEOUT_SECONDS", 300)
	v.SetDefault("AGENT_SIMULATED_LATENCY_MS", 1000)
	v.SetDefault("SIGNING_LOCK_TTL_SECONDS", 600)
	v.SetDefault("SIGNING_SESSION_TTL_SECONDS", 3600)
	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Keycloak: KeycloakConfig{
			URL:                v.GetString("KEYCLOAK_URL"),
			Realm:              v.GetString("KEYCLOAK_REALM"),
			ClientID:           v.GetString("KEYCLOAK_CLIENT_ID"),
			AllowInsecureToken: v.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		Storage: StorageConfig{
			Endpoint:      v.GetString("MINIO_ENDPOINT"),
			AccessKey:     v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:     v.GetString("MINIO_SECRET_KEY"),
			UseSSL:        v.GetBool("MINIO_USE_SSL"),
			Bucket:        v.GetString("MINIO_BUCKET"),
			MaxUploadSize: v.GetInt64("MINIO_MAX_UPLOAD_MB") << 20,
		},
		Agent: AgentConfig{
			Mode:               v.GetString("AGENT_MODE"),
			URL:                v.GetString("AGENT_URL"),
			StepTimeout:        time.Duration(v.GetInt("AGENT_STEP_TIMEOUT_SECONDS")) * time.Second,
			InteractionTimeout: time.Duration(v.GetInt("AGENT_INTERACTION_TIMEOUT_SECONDS")) * time.Second,
			SimulatedLatency:   time.Duration(v.GetInt("AGENT_SIMULATED_LATENCY_MS")) * time.Millisecond,
		},
		Signing: SigningConfig{
			LockTTL:    time.Duration(v.GetInt("SIGNING_LOCK_TTL_SECONDS")) * time.Second,
			SessionTTL: time.Duration(v.GetInt("SIGNING_SESSION_TTL_SECONDS")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MongoDB.URI == "" {
		logger.Warnf("MONGODB_URI is not set; documents are kept in memory")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Agent.Mode {
	case "websocket", "simulated":
	default:
		return fmt.Errorf("AGENT_MODE must be websocket or simulated, got %q", c.Agent.Mode)
	}
	if c.Agent.StepTimeout <= 0 || c.Agent.InteractionTimeout <= 0 {
		return fmt.Errorf("agent timeouts must be positive")
	}
	// the lock must outlive one full agent exchange
	if floor := 3*c.Agent.StepTimeout + c.Agent.InteractionTimeout; c.Signing.LockTTL < floor {
		return fmt.Errorf("SIGNING_LOCK_TTL_SECONDS must be at least %d (three agent steps plus the interaction), got %d",
			int(floor.Seconds()), int(c.Signing.LockTTL.Seconds()))
	}
	return nil
}

// RedisAddr returns host:port, or "" when Redis is not configured.
func (c *Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return c.Redis.Host + ":" + c.Redis.Port
}
