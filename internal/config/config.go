package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr             string
	GeminiAPIKey           string
	GeminiModel            string
	GeminiBaseURL          string
	TempDir                string
	FileTTL                time.Duration
	MaxAudioUploadBytes    int64
	MaxDocumentUploadBytes int64
	UploadMaxAttempts      int
	GenerateMaxAttempts    int
	RetryMinBackoff        time.Duration
	RetryMaxBackoff        time.Duration
	RequestTimeout         time.Duration
	YTDLPPath              string
	LogLevel               string
}

type envConfig struct {
	ListenAddr             string `env:"LISTEN_ADDR" envDefault:":8080"`
	GeminiAPIKey           string `env:"GEMINI_API_KEY"`
	GeminiModel            string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-pro"`
	GeminiBaseURL          string `env:"GEMINI_BASE_URL"`
	TempDir                string `env:"TEMP_DIR"`
	FileTTLMinutes         int    `env:"FILE_TTL_MINUTES" envDefault:"30"`
	MaxAudioUploadBytes    int64  `env:"MAX_AUDIO_UPLOAD_BYTES" envDefault:"15728640"`
	MaxDocumentUploadBytes int64  `env:"MAX_DOCUMENT_UPLOAD_BYTES" envDefault:"20971520"`
	UploadMaxAttempts      int    `env:"UPLOAD_MAX_ATTEMPTS" envDefault:"10"`
	GenerateMaxAttempts    int    `env:"GENERATE_MAX_ATTEMPTS" envDefault:"3"`
	RetryMinBackoffSeconds int    `env:"RETRY_MIN_BACKOFF_SECONDS" envDefault:"4"`
	RetryMaxBackoffSeconds int    `env:"RETRY_MAX_BACKOFF_SECONDS" envDefault:"10"`
	RequestTimeoutSeconds  int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"300"`
	YTDLPPath              string `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set take precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	return parse()
}

func parse() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	tempDir := strings.TrimSpace(raw.TempDir)
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "mediascribe")
	}

	cfg := Config{
		ListenAddr:             strings.TrimSpace(raw.ListenAddr),
		GeminiAPIKey:           strings.TrimSpace(raw.GeminiAPIKey),
		GeminiModel:            strings.TrimSpace(raw.GeminiModel),
		GeminiBaseURL:          strings.TrimRight(strings.TrimSpace(raw.GeminiBaseURL), "/"),
		TempDir:                tempDir,
		FileTTL:                time.Duration(raw.FileTTLMinutes) * time.Minute,
		MaxAudioUploadBytes:    raw.MaxAudioUploadBytes,
		MaxDocumentUploadBytes: raw.MaxDocumentUploadBytes,
		UploadMaxAttempts:      raw.UploadMaxAttempts,
		GenerateMaxAttempts:    raw.GenerateMaxAttempts,
		RetryMinBackoff:        time.Duration(raw.RetryMinBackoffSeconds) * time.Second,
		RetryMaxBackoff:        time.Duration(raw.RetryMaxBackoffSeconds) * time.Second,
		RequestTimeout:         time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		YTDLPPath:              strings.TrimSpace(raw.YTDLPPath),
		LogLevel:               strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is not set")
	}
	if c.GeminiModel == "" {
		return errors.New("GEMINI_MODEL must not be empty")
	}
	if c.FileTTL <= 0 {
		return errors.New("FILE_TTL_MINUTES must be > 0")
	}
	if c.MaxAudioUploadBytes <= 0 {
		return errors.New("MAX_AUDIO_UPLOAD_BYTES must be > 0")
	}
	if c.MaxDocumentUploadBytes <= 0 {
		return errors.New("MAX_DOCUMENT_UPLOAD_BYTES must be > 0")
	}
	if c.UploadMaxAttempts <= 0 {
		return errors.New("UPLOAD_MAX_ATTEMPTS must be > 0")
	}
	if c.GenerateMaxAttempts <= 0 {
		return errors.New("GENERATE_MAX_ATTEMPTS must be > 0")
	}
	if c.RetryMinBackoff < 0 || c.RetryMaxBackoff < c.RetryMinBackoff {
		return errors.New("RETRY_MAX_BACKOFF_SECONDS must be >= RETRY_MIN_BACKOFF_SECONDS >= 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.YTDLPPath == "" {
		return errors.New("YTDLP_PATH must not be empty")
	}
	return nil
}
