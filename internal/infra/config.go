package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// DatabaseURL is optional; when empty, job records are kept in memory.
	DatabaseURL string

	// StoragePath is optional; when set, inline artifacts are archived
	// under it after a successful generation.
	StoragePath string

	ImageProvider     string
	HFAPIToken        string
	HFBaseURL         string
	ReplicateAPIToken string
	ReplicateBaseURL  string
	ReplicateVersion  string

	ProviderCallTimeout time.Duration
	JobDeadline         time.Duration
	RetryMaxAttempts    int
	RetryDelay          time.Duration
	PollInterval        time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// AnonymousDailyLimit caps generations per client IP. Advisory only.
	AnonymousDailyLimit int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StoragePath:         os.Getenv("STORAGE_PATH"),
		ImageProvider:       getEnv("IMAGE_PROVIDER", "hf"),
		HFAPIToken:          os.Getenv("HUGGING_FACE_ACCESS_TOKEN"),
		HFBaseURL:           getEnv("HF_BASE_URL", "https://api-inference.huggingface.co"),
		ReplicateAPIToken:   os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:    getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateVersion:    os.Getenv("REPLICATE_MODEL_VERSION"),
		ProviderCallTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_CALL_TIMEOUT_SECONDS", 45)),
		JobDeadline:         time.Second * time.Duration(getEnvInt("JOB_DEADLINE_SECONDS", 90)),
		RetryMaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryDelay:          time.Second * time.Duration(getEnvInt("RETRY_DELAY_SECONDS", 2)),
		PollInterval:        time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 1)),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		AnonymousDailyLimit: getEnvInt("ANONYMOUS_DAILY_LIMIT", 10),
	}

	switch cfg.ImageProvider {
	case "hf", "replicate":
	default:
		return nil, fmt.Errorf("IMAGE_PROVIDER must be hf or replicate, got %q", cfg.ImageProvider)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
