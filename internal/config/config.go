package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"uploadflow/internal/upload"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string
	APIKey       string
	LogLevel     string
	LogFormat    string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	AWSAccessKey string
	AWSSecretKey string
	UploadURL    string
	ProfilesPath string
	MetricsAddr  string
	SessionTTL   time.Duration
	MaxSessions  int
	RateLimit    float64
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		APIKey:       getEnv("API_KEY", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		UploadURL:    getEnv("UPLOAD_URL", ""),
		ProfilesPath: getEnv("PROFILES_PATH", ""),
		MetricsAddr:  getEnv("METRICS_ADDR", ""),
		SessionTTL:   time.Duration(getEnvInt("SESSION_TTL_SECONDS", 3600)) * time.Second,
		MaxSessions:  getEnvInt("MAX_SESSIONS", 1024),
		RateLimit:    getEnvFloat("RATE_LIMIT_RPS", 0),
	}
}

// Profile is a named upload configuration
type Profile struct {
	URL                string          `yaml:"url"`
	Method             string          `yaml:"method"`
	Headers            []upload.Header `yaml:"headers"`
	Batch              bool            `yaml:"batch"`
	PartSizeMB         int64           `yaml:"part_size_mb"`
	MaxParts           int             `yaml:"max_parts"`
	MaxConcurrentParts int             `yaml:"max_concurrent_parts"`
	PartRetries        *int            `yaml:"part_retries"`
}

type ProfilesConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfiles reads the profile file at path. An empty path yields an
// empty set, so every lookup falls back to DefaultProfile.
func LoadProfiles(path string) (*ProfilesConfig, error) {
	if path == "" {
		return &ProfilesConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}

	for name, p := range config.Profiles {
		if p.PartSizeMB < 0 || p.MaxParts < 0 || p.MaxConcurrentParts < 0 {
			return nil, fmt.Errorf("profile %q: negative sizes are not allowed", name)
		}
		if p.PartRetries != nil && *p.PartRetries < 0 {
			return nil, fmt.Errorf("profile %q: part_retries must not be negative", name)
		}
	}

	return &config, nil
}

func (pc *ProfilesConfig) GetProfile(name string) *Profile {
	if profile, exists := pc.Profiles[name]; exists {
		return &profile
	}

	// Return default if name not found
	if defaultProfile, exists := pc.Profiles["default"]; exists {
		return &defaultProfile
	}

	// Fallback to hardcoded default
	return DefaultProfile()
}

func DefaultProfile() *Profile {
	return &Profile{
		Method:     upload.DefaultMethod,
		PartSizeMB: upload.DefaultPartSize >> 20,
		MaxParts:   upload.DefaultMaxParts,
	}
}

// UploadConfig converts the profile into the engine's per-file config
func (p *Profile) UploadConfig() upload.UploadConfig {
	return upload.UploadConfig{
		URL:      p.URL,
		Method:   p.Method,
		Headers:  append([]upload.Header(nil), p.Headers...),
		Batch:    p.Batch,
		PartSize: p.PartSizeMB << 20,
		MaxParts: p.MaxParts,
	}
}

// SchedulerOptions returns the engine options the profile sets
func (p *Profile) SchedulerOptions() []upload.Option {
	opts := []upload.Option{upload.WithMaxConcurrentParts(p.MaxConcurrentParts)}
	if p.PartRetries != nil {
		opts = append(opts, upload.WithPartRetries(*p.PartRetries))
	}
	return opts
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
