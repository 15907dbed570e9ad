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
)

// Config holds the full application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`
	ML      MLConfig      `yaml:"ml"`
	Cache   CacheConfig   `yaml:"cache"`
	Memory  MemoryConfig  `yaml:"memory"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Export  ExportConfig  `yaml:"export"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	LogLevel       string        `yaml:"log_level"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds the shared cache connection. An empty Host disables the Redis tier.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig holds SQLite and Badger settings
type StorageConfig struct {
	DBPath          string        `yaml:"db_path"`
	BadgerPath      string        `yaml:"badger_path"` // empty = in-memory
	DraftTTL        time.Duration `yaml:"draft_ttl"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// MLConfig holds classification settings
type MLConfig struct {
	ModelName        string        `yaml:"model_name"`
	InferenceURL     string        `yaml:"inference_url"`
	APIToken         string        `yaml:"-"`
	MaxModels        int           `yaml:"max_models"`
	ModelIdleAge     time.Duration `yaml:"model_idle_age"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ReturnKeywords   []string      `yaml:"return_keywords"`
	ReturnThreshold  float64       `yaml:"return_threshold"`
	DefaultThreshold float64       `yaml:"default_threshold"`
}

// CacheConfig holds result cache settings
type CacheConfig struct {
	ResultTTL       time.Duration `yaml:"result_ttl"`
	LocalMaxEntries int           `yaml:"local_max_entries"`
	RedisTimeout    time.Duration `yaml:"redis_timeout"`
}

// MemoryConfig holds memory manager thresholds (fractions of total memory)
type MemoryConfig struct {
	CleanupThreshold   float64       `yaml:"cleanup_threshold"`
	ForceThreshold     float64       `yaml:"force_threshold"`
	CriticalThreshold  float64       `yaml:"critical_threshold"`
	Cooldown           time.Duration `yaml:"cooldown"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	LowLoadInflight    int           `yaml:"low_load_inflight"`
	MaxUsersPerProcess int           `yaml:"max_users_per_process"`
}

// OpenAIConfig holds text generation settings
type OpenAIConfig struct {
	APIKey            string        `yaml:"-"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float32       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxRetries        uint          `yaml:"max_retries"`
}

// ExportConfig holds the saved-conversation sink. An empty WebhookURL disables export.
type ExportConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
			LogLevel:     "info",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 20,
		},
		Storage: StorageConfig{
			DBPath:          "~/.combot/combot.db",
			DraftTTL:        time.Hour,
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Second,
		},
		ML: MLConfig{
			ModelName:        "jpsteinhafel/complaints_classifier",
			InferenceURL:     "https://api-inference.huggingface.co/models",
			MaxModels:        2,
			ModelIdleAge:     time.Hour,
			LoadTimeout:      60 * time.Second,
			InferenceTimeout: 15 * time.Second,
			AcquireTimeout:   30 * time.Second,
			MaxConcurrent:    3,
			ReturnKeywords:   []string{"return", "refund", "send back", "bring back", "take back"},
			ReturnThreshold:  0.3,
			DefaultThreshold: 0.1,
		},
		Cache: CacheConfig{
			ResultTTL:       2 * time.Hour,
			LocalMaxEntries: 1000,
			RedisTimeout:    500 * time.Millisecond,
		},
		Memory: MemoryConfig{
			CleanupThreshold:   0.60,
			ForceThreshold:     0.75,
			CriticalThreshold:  0.85,
			Cooldown:           120 * time.Second,
			SweepInterval:      5 * time.Minute,
			LowLoadInflight:    1,
			MaxUsersPerProcess: 200,
		},
		OpenAI: OpenAIConfig{
			Model:             "gpt-3.5-turbo",
			MaxTokens:         150,
			Temperature:       0.7,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 120,
			MaxRetries:        2,
		},
		Export: ExportConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load builds a config from defaults, an optional YAML file, an optional .env file,
// and the process environment, in that order of precedence (last wins).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// .env is optional; existing environment variables are never overwritten
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from environment variables
func applyEnv(cfg *Config) error {
	if v := os.Getenv("COMBOT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("COMBOT_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("COMBOT_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("REDIS_HOST"); ok {
		cfg.Redis.Host = v
	}
	if err := envInt("REDIS_PORT", &cfg.Redis.Port); err != nil {
		return err
	}
	if err := envInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("COMBOT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("COMBOT_BADGER_PATH"); v != "" {
		cfg.Storage.BadgerPath = v
	}
	if v := os.Getenv("HF_MODEL_NAME"); v != "" {
		cfg.ML.ModelName = v
	}
	if v := os.Getenv("HF_INFERENCE_URL"); v != "" {
		cfg.ML.InferenceURL = v
	}
	if v := os.Getenv("HF_API_TOKEN"); v != "" {
		cfg.ML.APIToken = v
	}
	if err := envInt("MAX_CONCURRENT_ML_OPERATIONS", &cfg.ML.MaxConcurrent); err != nil {
		return err
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("COMBOT_EXPORT_URL"); v != "" {
		cfg.Export.WebhookURL = v
	}
	return nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	m := c.Memory
	if !(0 < m.CleanupThreshold && m.CleanupThreshold <= m.ForceThreshold &&
		m.ForceThreshold <= m.CriticalThreshold && m.CriticalThreshold <= 1) {
		return fmt.Errorf("memory thresholds must satisfy 0 < cleanup <= force <= critical <= 1 (got %.2f, %.2f, %.2f)",
			m.CleanupThreshold, m.ForceThreshold, m.CriticalThreshold)
	}
	if c.ML.MaxModels < 1 {
		return fmt.Errorf("ml.max_models must be at least 1")
	}
	if c.ML.MaxConcurrent < 1 {
		return fmt.Errorf("ml.max_concurrent must be at least 1")
	}
	if c.ML.ModelName == "" {
		return fmt.Errorf("ml.model_name is required")
	}
	if c.Cache.LocalMaxEntries < 2 {
		return fmt.Errorf("cache.local_max_entries must be at least 2")
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
