package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Vision     VisionConfig
	Matching   MatchingConfig
	Clustering ClusteringConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Host          string
	Port          int
	SessionSecret string
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the face HNSW index (optional, empty = rebuild on startup)
}

type VisionConfig struct {
	DetectorURL string // face detection sidecar, defaults to http://localhost:8000
	EmbedderURL string // embedding sidecar, defaults to the detector URL
	MinFaceSize int    // detections smaller than this many pixels are dropped
}

// MatchingConfig holds the confidence tiers for face matching decisions.
// High ≥ Medium ≥ Low must hold.
type MatchingConfig struct {
	High   float64 `yaml:"high"`   // auto-associate without confirmation
	Medium float64 `yaml:"medium"` // suggest, require confirmation
	Low    float64 `yaml:"low"`    // minimum floor, never surface below
}

// ClusteringConfig holds the DBSCAN parameters for bulk identity discovery.
type ClusteringConfig struct {
	Eps        float64 `yaml:"eps"`
	MinSamples int     `yaml:"min_samples"`
}

type RateLimitConfig struct {
	Window time.Duration // fixed window length
	Limit  int           // allowed requests per key per window
}

// thresholdsFile mirrors the embedded thresholds.yaml layout.
type thresholdsFile struct {
	Matching   MatchingConfig   `yaml:"matching"`
	Clustering ClusteringConfig `yaml:"clustering"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Load builds the configuration from the embedded threshold defaults and
// environment variable overrides.
func Load() (*Config, error) {
	var defaults thresholdsFile
	if err := yaml.Unmarshal(thresholdsYAML, &defaults); err != nil {
		// Embedded file, so this only fires on a broken build.
		panic("failed to unmarshal embedded thresholds.yaml: " + err.Error())
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:          envString("FACEVAULT_HOST", "0.0.0.0"),
			Port:          envInt("FACEVAULT_PORT", 8080),
			SessionSecret: os.Getenv("FACEVAULT_SESSION_SECRET"),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Vision: VisionConfig{
			DetectorURL: envString("DETECTOR_URL", "http://localhost:8000"),
			EmbedderURL: os.Getenv("EMBEDDER_URL"),
			MinFaceSize: envInt("MIN_FACE_SIZE", 20),
		},
		Matching: MatchingConfig{
			High:   envFloat("MATCH_THRESHOLD_HIGH", defaults.Matching.High),
			Medium: envFloat("MATCH_THRESHOLD_MEDIUM", defaults.Matching.Medium),
			Low:    envFloat("MATCH_THRESHOLD_LOW", defaults.Matching.Low),
		},
		Clustering: ClusteringConfig{
			Eps:        envFloat("DBSCAN_EPS", defaults.Clustering.Eps),
			MinSamples: envInt("DBSCAN_MIN_SAMPLES", defaults.Clustering.MinSamples),
		},
		RateLimit: RateLimitConfig{
			Window: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
			Limit:  envInt("RATE_LIMIT_MAX_REQUESTS", 30),
		},
	}

	if cfg.Vision.EmbedderURL == "" {
		cfg.Vision.EmbedderURL = cfg.Vision.DetectorURL
	}

	if err := cfg.Matching.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clustering.Eps <= 0 || cfg.Clustering.Eps > 2 {
		return nil, fmt.Errorf("dbscan eps %.3f out of range (0, 2]", cfg.Clustering.Eps)
	}
	if cfg.Clustering.MinSamples < 1 {
		return nil, fmt.Errorf("dbscan min_samples must be at least 1, got %d", cfg.Clustering.MinSamples)
	}

	return cfg, nil
}

// Validate checks the tier ordering High ≥ Medium ≥ Low.
func (m MatchingConfig) Validate() error {
	if m.High < m.Medium || m.Medium < m.Low {
		return fmt.Errorf("matching thresholds must satisfy high ≥ medium ≥ low, got %.2f/%.2f/%.2f",
			m.High, m.Medium, m.Low)
	}
	return nil
}
