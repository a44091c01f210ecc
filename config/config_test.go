package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "SCAN_INTERVAL", "SCAN_CONCURRENCY", "CLOUDINARY_CLOUD_NAME"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 8, cfg.ScanConcurrency)
	assert.Equal(t, 10*time.Second, cfg.UploadTimeout)
	assert.Equal(t, 3, cfg.MaxActAttempts)
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SCAN_INTERVAL", "30s")
	t.Setenv("SCAN_CONCURRENCY", "not-a-number")
	t.Setenv("UPLOAD_TIMEOUT", "forever")

	cfg := LoadConfig()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, 8, cfg.ScanConcurrency)
	assert.Equal(t, 10*time.Second, cfg.UploadTimeout)
}
