package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	MetricsPort string
	DatabaseURL string

	StoragePath    string
	StorageBaseURL string

	CORSAllowedOrigins []string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	QwenAPIKey    string
	QwenBaseURL   string
	RunPodAPIKey  string
	RunPodBaseURL string
	FalAPIKey     string
	FalBaseURL    string

	// RunPod serverless endpoint ids keyed by workload name.
	RunPodEndpoints map[string]string

	// Per-type worker concurrency. Variant jobs fan out in batches and get
	// more slots by default.
	QueueConcurrency map[string]int
	// Per-type overall job deadlines.
	JobDeadlines map[string]time.Duration

	BatchTTL time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		CORSAllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		QwenAPIKey:     os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:    getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		RunPodAPIKey:   os.Getenv("RUNPOD_API_KEY"),
		RunPodBaseURL:  getEnv("RUNPOD_BASE_URL", "https://api.runpod.ai/v2"),
		FalAPIKey:      os.Getenv("FAL_API_KEY"),
		FalBaseURL:     getEnv("FAL_BASE_URL", "https://fal.run"),
		RunPodEndpoints: map[string]string{
			"frame-extraction":      getEnv("RUNPOD_ENDPOINT_FRAMES", "frames-v1"),
			"identity-regeneration": getEnv("RUNPOD_ENDPOINT_IDENTITY", "identity-v1"),
			"video-generation":      getEnv("RUNPOD_ENDPOINT_VIDEO", "video-v1"),
			"training":              getEnv("RUNPOD_ENDPOINT_TRAINING", "training-v1"),
			"variant-render":        getEnv("RUNPOD_ENDPOINT_VARIANT", "variant-v1"),
		},
		QueueConcurrency: map[string]int{
			"training":           getEnvInt("QUEUE_TRAINING_CONCURRENCY", 1),
			"diagram-generation": getEnvInt("QUEUE_DIAGRAM_CONCURRENCY", 2),
			"face-swap":          getEnvInt("QUEUE_FACESWAP_CONCURRENCY", 2),
			"image-generation":   getEnvInt("QUEUE_IMAGE_CONCURRENCY", 4),
			"variant":            getEnvInt("QUEUE_VARIANT_CONCURRENCY", 6),
		},
		JobDeadlines: map[string]time.Duration{
			"training":           time.Minute * time.Duration(getEnvInt("DEADLINE_TRAINING_MINUTES", 45)),
			"diagram-generation": time.Minute * time.Duration(getEnvInt("DEADLINE_DIAGRAM_MINUTES", 20)),
			"face-swap":          time.Minute * time.Duration(getEnvInt("DEADLINE_FACESWAP_MINUTES", 40)),
			"image-generation":   time.Minute * time.Duration(getEnvInt("DEADLINE_IMAGE_MINUTES", 20)),
			"variant":            time.Minute * time.Duration(getEnvInt("DEADLINE_VARIANT_MINUTES", 30)),
		},
		BatchTTL:         time.Hour * time.Duration(getEnvInt("BATCH_TTL_HOURS", 24)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// DeadlineFor returns the overall deadline for a job type, with a safe floor.
func (c *Config) DeadlineFor(jobType string) time.Duration {
	if d, ok := c.JobDeadlines[jobType]; ok && d > 0 {
		return d
	}
	return 30 * time.Minute
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
