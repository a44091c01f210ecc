package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string
	JWTSecret   string

	// Storage
	DatabaseURL string

	// Redis notification sink
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Cloudinary attachments
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string

	// Engine
	ScanInterval    time.Duration
	ScanConcurrency int
	UploadTimeout   time.Duration
	MaxActAttempts  int
	NotifyBuffer    int
}

// LoadConfig reads an optional .env file and then the process environment.
// Values already set in the environment win over the file.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "production"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "disputes"),

		ScanInterval:    getEnvAsDuration("SCAN_INTERVAL", "5m"),
		ScanConcurrency: getEnvAsInt("SCAN_CONCURRENCY", 8),
		UploadTimeout:   getEnvAsDuration("UPLOAD_TIMEOUT", "10s"),
		MaxActAttempts:  getEnvAsInt("MAX_ACT_ATTEMPTS", 3),
		NotifyBuffer:    getEnvAsInt("NOTIFY_BUFFER", 256),
	}
}

// CloudinaryEnabled reports whether all Cloudinary credentials are present.
func (c *Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
