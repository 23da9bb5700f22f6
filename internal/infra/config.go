package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                string        `validate:"required"`
	Port                  string        `validate:"required,numeric"`
	UploadDir             string        `validate:"required"`
	OllamaURL             string        `validate:"required,url"`
	VisionModel           string        `validate:"required"`
	CaptionModel          string        `validate:"required"`
	OllamaTimeout         time.Duration `validate:"gt=0"`
	OllamaMaxAttempts     int           `validate:"min=1"`
	OllamaBackoffBase     time.Duration `validate:"gt=0"`
	CaptionMaxWords       int           `validate:"min=1"`
	FontSize              float64       `validate:"gt=0"`
	ReapInterval          time.Duration `validate:"gt=0"`
	ReapGrace             time.Duration `validate:"gte=0"`
	AuthUsername          string        `validate:"required"`
	AuthPassword          string        `validate:"required"`
	StatusRateLimitPerSec int           `validate:"min=1"`
	MaxUploadBytes        int64         `validate:"gt=0"`
	CORSAllowedOrigins    []string      `validate:"dive,url"`
	TrustedProxies        []string      `validate:"dive,cidr|ip"`
	HTTPReadTimeout       time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                getEnv("APP_ENV", "development"),
		Port:                  getEnv("PORT", "8080"),
		UploadDir:             getEnv("UPLOAD_DIR", "./uploads"),
		OllamaURL:             getEnv("OLLAMA_URL", "http://ollama:11434/api/generate"),
		VisionModel:           getEnv("VISION_MODEL", "llava-phi3"),
		CaptionModel:          getEnv("CAPTION_MODEL", "llama3:8b"),
		OllamaTimeout:         time.Second * time.Duration(getEnvInt("OLLAMA_TIMEOUT_SECONDS", 180)),
		OllamaMaxAttempts:     getEnvInt("OLLAMA_MAX_ATTEMPTS", 5),
		OllamaBackoffBase:     time.Millisecond * time.Duration(getEnvInt("OLLAMA_BACKOFF_BASE_MS", 1000)),
		CaptionMaxWords:       getEnvInt("CAPTION_MAX_WORDS", 20),
		FontSize:              float64(getEnvInt("FONT_SIZE", 45)),
		ReapInterval:          time.Second * time.Duration(getEnvInt("REAP_INTERVAL_SECONDS", 300)),
		ReapGrace:             time.Second * time.Duration(getEnvInt("REAP_GRACE_SECONDS", 3600)),
		AuthUsername:          getEnv("AUTH_USERNAME", "admin"),
		AuthPassword:          os.Getenv("AUTH_PASSWORD"),
		StatusRateLimitPerSec: getEnvInt("STATUS_RATE_LIMIT_PER_SECOND", 1),
		MaxUploadBytes:        int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		CORSAllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS"),
		TrustedProxies:        getEnvList("TRUSTED_PROXIES"),
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("config: %s failed on '%s' validation", fe.Field(), fe.Tag())
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
