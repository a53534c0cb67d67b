package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the live tutor service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Optional directory with the browser UI; served at / when set.
	StaticDir string `envconfig:"STATIC_DIR" default:""`

	// Comma separated list of allowed WebSocket origins. Empty allows all.
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:""`

	// Gemini Live configuration
	GeminiAPIKey   string        `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel    string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-native-audio-preview-09-2025"`
	GeminiVoice    string        `envconfig:"GEMINI_VOICE" default:"Zephyr"` // Prebuilt voice name
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"15s"`

	// Audio configuration
	CaptureSampleRate int `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"` // Rate sent to the model
	CaptureBlockSize  int `envconfig:"CAPTURE_BLOCK_SIZE" default:"4096"`   // Samples per outbound chunk
	OutputSampleRate  int `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"`  // Rate of model speech
	OutputChannels    int `envconfig:"OUTPUT_CHANNELS" default:"1"`

	// Tutor configuration
	DefaultNativeLanguage string `envconfig:"DEFAULT_NATIVE_LANGUAGE" default:"en"`
	DefaultTargetLanguage string `envconfig:"DEFAULT_TARGET_LANGUAGE" default:"es"`
	LanguagesFile         string `envconfig:"LANGUAGES_FILE" default:""` // YAML catalog override

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`    // Failed connects before failing fast
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"` // Wait before probing again

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field values that envconfig cannot express
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.CaptureSampleRate <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive, got %d", c.CaptureSampleRate)
	}
	if c.CaptureBlockSize <= 0 {
		return fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.CaptureBlockSize)
	}
	if c.OutputSampleRate <= 0 {
		return fmt.Errorf("OUTPUT_SAMPLE_RATE must be positive, got %d", c.OutputSampleRate)
	}
	if c.OutputChannels <= 0 {
		return fmt.Errorf("OUTPUT_CHANNELS must be positive, got %d", c.OutputChannels)
	}
	return nil
}

// Origins returns the parsed ALLOWED_ORIGINS list
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
