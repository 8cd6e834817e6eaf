package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ImageProvider != "hf" {
		t.Errorf("ImageProvider = %q, want hf", cfg.ImageProvider)
	}
	if cfg.JobDeadline != 90*time.Second {
		t.Errorf("JobDeadline = %s, want 90s", cfg.JobDeadline)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.AnonymousDailyLimit != 10 {
		t.Errorf("AnonymousDailyLimit = %d, want 10", cfg.AnonymousDailyLimit)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("IMAGE_PROVIDER", "replicate")
	t.Setenv("JOB_DEADLINE_SECONDS", "60")
	t.Setenv("RETRY_MAX_ATTEMPTS", "2")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ImageProvider != "replicate" {
		t.Errorf("ImageProvider = %q, want replicate", cfg.ImageProvider)
	}
	if cfg.JobDeadline != 60*time.Second {
		t.Errorf("JobDeadline = %s, want 60s", cfg.JobDeadline)
	}
	if cfg.RetryMaxAttempts != 2 {
		t.Errorf("RetryMaxAttempts = %d, want 2", cfg.RetryMaxAttempts)
	}
}

func TestLoadConfigRejectsUnknownProvider(t *testing.T) {
	t.Setenv("IMAGE_PROVIDER", "dalle")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
