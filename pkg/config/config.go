package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL,notEmpty"`
	Host           string `env:"HOST" envDefault:"127.0.0.1"`
	Port           string `env:"PORT" envDefault:"8080"`
	CorsOrigins    string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000"`

	JwtSecret string        `env:"JWT_SECRET,notEmpty"`
	JwtTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SessionAppName string        `env:"SESSION_APP_NAME" envDefault:"continuity"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"72h"`
	AcquireLockTTL time.Duration `env:"ACQUIRE_LOCK_TTL" envDefault:"10s"`

	TokenTTL           time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	TokenSweepInterval time.Duration `env:"TOKEN_SWEEP_INTERVAL" envDefault:"15m"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	ContextDir     string `env:"CONTEXT_DIR"`
	ImageBatchSize int    `env:"IMAGE_BATCH_SIZE" envDefault:"5"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.ContextDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.ContextDir = filepath.Join(home, ".continuity")
	}
	if cfg.ImageBatchSize <= 0 {
		cfg.ImageBatchSize = 5
	}
	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUsername
	}
	return cfg, nil
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CorsOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
