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

type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type AuthConfig struct {
	SecretKey string        `yaml:"secret_key"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type PaymentsConfig struct {
	DatabaseURL    string   `yaml:"database_url"`
	MigrationsPath string   `yaml:"migrations_path"`
	KafkaBrokers   []string `yaml:"kafka_brokers"`
	KafkaTopic     string   `yaml:"kafka_topic"`
	KafkaGroupID   string   `yaml:"kafka_group_id"`
	WebhookSecret  string   `yaml:"webhook_secret"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Payments PaymentsConfig `yaml:"payments"`
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:     "storefront",
			Env:      "production",
			Port:     "8080",
			LogLevel: "info",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "ecommerce",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 15 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: 30 * time.Minute,
		},
		Payments: PaymentsConfig{
			MigrationsPath: "migrations",
			KafkaTopic:     "payment-notifications",
			KafkaGroupID:   "storefront-reconciler",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment (with .env loaded first when envPath is set). Later sources win.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		err := godotenv.Load(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Env, "APP_ENV")
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Mongo.URI, "MONGODB_URI")
	setString(&cfg.Mongo.Database, "MONGODB_NAME")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Auth.SecretKey, "JWT_SECRET_KEY")
	if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be an integer: %w", err)
		}
		cfg.Auth.TokenTTL = time.Duration(minutes) * time.Minute
	}

	setString(&cfg.Payments.DatabaseURL, "PAYMENTS_DB_URL")
	setString(&cfg.Payments.MigrationsPath, "MIGRATIONS_PATH")
	setString(&cfg.Payments.KafkaTopic, "KAFKA_PAYMENTS_TOPIC")
	setString(&cfg.Payments.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Payments.KafkaBrokers = strings.Split(v, ",")
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) Validate() error {
	if c.Auth.SecretKey == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token lifetime must be positive")
	}
	if c.Mongo.URI == "" {
		return errors.New("MONGODB_URI is required")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
