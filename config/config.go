package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full program configuration. Values come from an optional
// JSON file and can be overridden per-field through the environment (a .env
// file is honored when present).
type Config struct {
	BaseURL     string `json:"base_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	SessionFile string `json:"session_file"`

	SessionTimeoutMinutes int  `json:"session_timeout_minutes"`
	MaxLoginRetries       int  `json:"max_login_retries"`
	AutoCaptcha           bool `json:"auto_captcha"`
	Interactive           bool `json:"interactive"`

	OCREndpoint string `json:"ocr_endpoint"`
	ScratchDir  string `json:"scratch_dir"`

	MinIOEnabled   bool   `json:"minio_enabled"`
	MinIOEndpoint  string `json:"minio_endpoint"`
	MinIOAccessKey string `json:"minio_access_key"`
	MinIOSecretKey string `json:"minio_secret_key"`
	MinIOBucket    string `json:"minio_bucket"`
	MinIOUseSSL    bool   `json:"minio_use_ssl"`

	ServerPort  string `json:"server_port"`
	Environment string `json:"environment"`
}

// SessionTimeout returns the session validity window as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMinutes) * time.Minute
}

// LoadConfig reads filename (if it exists) and applies environment
// overrides. A missing file is not an error; everything can come from the
// environment.
func LoadConfig(filename string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BaseURL:               "http://58.20.60.39:8099",
		SessionFile:           "temp/session.json",
		SessionTimeoutMinutes: 30,
		MaxLoginRetries:       3,
		AutoCaptcha:           true,
		ScratchDir:            "temp",
		MinIOBucket:           "captcha-diagnostics",
		ServerPort:            "8100",
		Environment:           "development",
	}

	if filename != "" {
		file, err := os.Open(filename)
		if err == nil {
			defer file.Close()
			if err := json.NewDecoder(file).Decode(cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.BaseURL = getEnv("JWGL_BASE_URL", cfg.BaseURL)
	cfg.Username = getEnv("JWGL_USERNAME", cfg.Username)
	cfg.Password = getEnv("JWGL_PASSWORD", cfg.Password)
	cfg.SessionFile = getEnv("JWGL_SESSION_FILE", cfg.SessionFile)
	cfg.SessionTimeoutMinutes = getEnvInt("JWGL_SESSION_TIMEOUT_MINUTES", cfg.SessionTimeoutMinutes)
	cfg.MaxLoginRetries = getEnvInt("JWGL_MAX_LOGIN_RETRIES", cfg.MaxLoginRetries)
	cfg.AutoCaptcha = getEnvBool("JWGL_AUTO_CAPTCHA", cfg.AutoCaptcha)
	cfg.Interactive = getEnvBool("JWGL_INTERACTIVE", cfg.Interactive)
	cfg.OCREndpoint = getEnv("JWGL_OCR_ENDPOINT", cfg.OCREndpoint)
	cfg.ScratchDir = getEnv("JWGL_SCRATCH_DIR", cfg.ScratchDir)
	cfg.MinIOEnabled = getEnvBool("MINIO_ENABLED", cfg.MinIOEnabled)
	cfg.MinIOEndpoint = getEnv("MINIO_ENDPOINT", cfg.MinIOEndpoint)
	cfg.MinIOAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinIOAccessKey)
	cfg.MinIOSecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinIOSecretKey)
	cfg.MinIOBucket = getEnv("MINIO_BUCKET", cfg.MinIOBucket)
	cfg.MinIOUseSSL = getEnvBool("MINIO_USE_SSL", cfg.MinIOUseSSL)
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
