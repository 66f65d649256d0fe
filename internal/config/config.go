// Package config loads service configuration from the environment (with an
// optional .env file) and per-run settings from YAML or JSON files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes limits request bodies on the HTTP API.
const DefaultMaxUploadBytes = 10 << 20

// Config is the process configuration shared by the API and the CLI.
type Config struct {
	LogLevel string
	Server   ServerConfig
	Gemini   GeminiConfig
	Raster   RasterConfig
	Storage  StorageConfig
	Notion   NotionConfig

	// SettingsPath points to the default taxonomy and instructions file.
	SettingsPath string
}

type ServerConfig struct {
	Port           string
	MaxUploadBytes int64
	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit float64
	RateBurst int
	Workers   int
	// JobHistory caps the job records kept in memory.
	JobHistory int
}

type GeminiConfig struct {
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

type RasterConfig struct {
	Scale   float64
	Quality int
	Workers int
}

type StorageConfig struct {
	Bucket    string
	ProjectID string
	Dataset   string
}

type NotionConfig struct {
	Token      string
	DatabaseID string
}

// Load reads the configuration. A missing .env file is not an error;
// malformed numeric values are.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		SettingsPath: getEnv("BILL_SETTINGS_FILE", ""),
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Gemini: GeminiConfig{
			APIKey: firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		Storage: StorageConfig{
			Bucket:    getEnv("GCS_BUCKET", ""),
			ProjectID: getEnv("BIGQUERY_PROJECT", ""),
			Dataset:   getEnv("BIGQUERY_DATASET", "bills"),
		},
		Notion: NotionConfig{
			Token:      getEnv("NOTION_API_KEY", ""),
			DatabaseID: getEnv("NOTION_DATABASE_ID", ""),
		},
	}

	var err error
	cfg.Server.MaxUploadBytes, err = getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)
	collect(err)
	cfg.Server.RateLimit, err = getEnvFloat("RATE_LIMIT_RPS", 5)
	collect(err)
	cfg.Server.RateBurst, err = getEnvInt("RATE_LIMIT_BURST", 10)
	collect(err)
	cfg.Server.Workers, err = getEnvInt("JOB_WORKERS", 2)
	collect(err)
	cfg.Server.JobHistory, err = getEnvInt("JOB_HISTORY", 10000)
	collect(err)
	cfg.Gemini.MaxOutputTokens, err = getEnvInt("GEMINI_MAX_OUTPUT_TOKENS", 4096)
	collect(err)
	cfg.Gemini.Timeout, err = getEnvDuration("GEMINI_TIMEOUT", 2*time.Minute)
	collect(err)
	cfg.Raster.Scale, err = getEnvFloat("RASTER_SCALE", 2.0)
	collect(err)
	cfg.Raster.Quality, err = getEnvInt("RASTER_JPEG_QUALITY", 95)
	collect(err)
	cfg.Raster.Workers, err = getEnvInt("RASTER_WORKERS", 4)
	collect(err)

	if cfg.Raster.Quality < 1 || cfg.Raster.Quality > 100 {
		collect(fmt.Errorf("RASTER_JPEG_QUALITY must be between 1 and 100, got %d", cfg.Raster.Quality))
	}
	if cfg.Raster.Scale <= 0 {
		collect(fmt.Errorf("RASTER_SCALE must be positive, got %v", cfg.Raster.Scale))
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		collect(fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.Server.MaxUploadBytes))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// LoadSettings reads the instructions and taxonomy from a YAML or JSON file
// and validates them.
func LoadSettings(path string) (domain.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("LoadSettings: read %s: %w", path, err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes settings from YAML or JSON. Unknown fields are
// rejected so typos in the taxonomy file surface early.
func ParseSettings(data []byte) (domain.Settings, error) {
	var s domain.Settings
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return domain.Settings{}, fmt.Errorf("ParseSettings: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return domain.Settings{}, fmt.Errorf("ParseSettings: %w", err)
	}
	return s, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := getEnv(k, ""); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid integer for %s (%q): %w", key, s, err)
	}
	return v, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid integer for %s (%q): %w", key, s, err)
	}
	return v, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback, fmt.Errorf("invalid number for %s (%q): %w", key, s, err)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid duration for %s (%q): %w", key, s, err)
	}
	return v, nil
}
