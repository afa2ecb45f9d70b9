package serversync

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the outbound sync subsystem needs. Values come
// from an optional YAML file pointed at by SYNC_CONFIG, with environment
// variables filling the gaps.
type Config struct {
	ServerURL  string `yaml:"server_url"`
	LoginPath  string `yaml:"login_path"`
	UpdatePath string `yaml:"update_path"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`

	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`

	Retries        int           `yaml:"retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	WorkerPoll     time.Duration `yaml:"worker_poll"`
	WorkerBatch    int           `yaml:"worker_batch"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LoadConfig loads sync configuration from yaml and env.
func LoadConfig() (Config, error) {
	cfg := Config{
		ServerURL:      os.Getenv("API_SERVER_URL"),
		LoginPath:      getenvDefault("API_LOGIN_PATH", "/login"),
		UpdatePath:     getenvDefault("API_COLLECT_REQUEST_UPDATE_PATH", "/collect-request-update"),
		Email:          os.Getenv("API_EMAIL"),
		Password:       os.Getenv("API_PASSWORD"),
		WebhookURL:     os.Getenv("SERVER_WEBHOOK_URL"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		Retries:        getenvIntDefault("SYNC_RETRIES", 2),
		RetryDelay:     getenvDuration("SYNC_RETRY_DELAY", time.Second),
		WorkerPoll:     getenvDuration("SYNC_WORKER_POLL", 5*time.Second),
		WorkerBatch:    getenvIntDefault("SYNC_WORKER_BATCH", 50),
		MaxAttempts:    getenvIntDefault("SYNC_MAX_ATTEMPTS", 10),
		RequestTimeout: getenvDuration("SYNC_REQUEST_TIMEOUT", 30*time.Second),
	}

	if path := os.Getenv("SYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.WorkerPoll <= 0 {
		cfg.WorkerPoll = 5 * time.Second
	}
	if cfg.WorkerBatch <= 0 {
		cfg.WorkerBatch = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return cfg, nil
}

// APIConfigured reports whether the authenticated API channel can run.
func (c Config) APIConfigured() bool {
	return c.ServerURL != "" && c.Email != "" && c.Password != ""
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
