package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `yaml:"driver"`
	DBPath string `yaml:"db_path"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type WritesConfig struct {
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

type AgendaConfig struct {
	DaysBefore int `yaml:"days_before"`
	DaysAfter  int `yaml:"days_after"`
	// Locale is a BCP 47 tag for sorting organizer names. Empty means the
	// root collation.
	Locale string `yaml:"locale"`
}

// Language returns the collation language of Locale.
func (a AgendaConfig) Language() (language.Tag, error) {
	if a.Locale == "" {
		return language.Und, nil
	}
	return language.Parse(a.Locale)
}

type Config struct {
	ServiceName string       `yaml:"service_name"`
	LogLevel    string       `yaml:"log_level"`
	LogDir      string       `yaml:"log_dir"`
	JWTSecret   string       `yaml:"jwt_secret"`
	Server      ServerConfig `yaml:"server"`
	Store       StoreConfig  `yaml:"store"`
	Redis       RedisConfig  `yaml:"redis"`
	Writes      WritesConfig `yaml:"writes"`
	Agenda      AgendaConfig `yaml:"agenda"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServiceName: "organizer-service",
		LogLevel:    "info",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DBPath: "./data/organizer.db",
		},
		Redis: RedisConfig{
			URL:           "redis://localhost:6379",
			ChannelPrefix: "family_organizer",
		},
		Writes: WritesConfig{
			Retries: 2,
			Backoff: 100 * time.Millisecond,
		},
		Agenda: AgendaConfig{
			DaysBefore: 15,
			DaysAfter:  85,
		},
	}
}

// Load reads .env when present, then the YAML file named by CONFIG_FILE,
// then the environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	c.Server.Host = getEnv("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvAsDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getEnvAsList("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DBPath = getEnv("DB_PATH", c.Store.DBPath)

	c.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.ChannelPrefix = getEnv("REDIS_CHANNEL_PREFIX", c.Redis.ChannelPrefix)

	c.Writes.Retries = getEnvAsInt("WRITE_RETRIES", c.Writes.Retries)
	c.Writes.Backoff = getEnvAsDuration("WRITE_BACKOFF", c.Writes.Backoff)

	c.Agenda.DaysBefore = getEnvAsInt("AGENDA_DAYS_BEFORE", c.Agenda.DaysBefore)
	c.Agenda.Locale = getEnv("AGENDA_LOCALE", c.Agenda.Locale)
	c.Agenda.DaysAfter = getEnvAsInt("AGENDA_DAYS_AFTER", c.Agenda.DaysAfter)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DBPath == "" {
			return errors.New("DB_PATH is required for the sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.Port == "" {
		return errors.New("SERVER_PORT is required")
	}
	if c.Writes.Retries < 0 {
		return errors.New("WRITE_RETRIES cannot be negative")
	}
	if c.Agenda.DaysBefore < 0 || c.Agenda.DaysAfter < 0 {
		return errors.New("agenda window cannot be negative")
	}
	if _, err := c.Agenda.Language(); err != nil {
		return fmt.Errorf("invalid AGENDA_LOCALE %q: %w", c.Agenda.Locale, err)
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("REDIS_URL is required when redis is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
