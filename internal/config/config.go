package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed matching.yaml
var defaultsYAML []byte

type Config struct {
	AssetStore AssetStoreConfig
	Extractor  ExtractorConfig
	Database   DatabaseConfig
	Indexing   IndexingConfig
	Matching   MatchingConfig
	Web        WebConfig
}

type WebConfig struct {
	AllowedOrigins []string // extra CORS origins, localhost is always allowed
}

type AssetStoreConfig struct {
	URL   string
	Token string
}

type ExtractorConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // embedding dimensionality, defaults to 128
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type IndexingConfig struct {
	BatchSize         int      `yaml:"batch_size"`
	DownloadRetries   int      `yaml:"download_retries"`
	AcceptedMimeTypes []string `yaml:"accepted_mime_types"`
}

type MatchingConfig struct {
	Tolerance       float64 `yaml:"tolerance"`
	CosineThreshold float64 `yaml:"cosine_threshold"`
	MaxQueryImages  int     `yaml:"max_query_images"`
	MaxUploadMB     int     `yaml:"max_upload_mb"`
}

type defaultsFile struct {
	Indexing IndexingConfig `yaml:"indexing"`
	Matching MatchingConfig `yaml:"matching"`
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

// envList reads a comma-separated environment variable into a slice,
// dropping empty entries.
func envList(key string) []string {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func Load() *Config {
	var defaults defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded matching.yaml: " + err.Error())
	}

	return &Config{
		AssetStore: AssetStoreConfig{
			URL:   os.Getenv("ASSET_STORE_URL"),
			Token: os.Getenv("ASSET_STORE_TOKEN"),
		},
		Extractor: ExtractorConfig{
			URL: os.Getenv("EXTRACTOR_URL"),
			Dim: envInt("EXTRACTOR_DIM", 128),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Indexing: IndexingConfig{
			BatchSize:         envInt("INDEXING_BATCH_SIZE", defaults.Indexing.BatchSize),
			DownloadRetries:   envInt("INDEXING_DOWNLOAD_RETRIES", defaults.Indexing.DownloadRetries),
			AcceptedMimeTypes: defaults.Indexing.AcceptedMimeTypes,
		},
		Matching: MatchingConfig{
			Tolerance:       envFloat("MATCHING_TOLERANCE", defaults.Matching.Tolerance),
			CosineThreshold: envFloat("MATCHING_COSINE_THRESHOLD", defaults.Matching.CosineThreshold),
			MaxQueryImages:  envInt("MATCHING_MAX_QUERY_IMAGES", defaults.Matching.MaxQueryImages),
			MaxUploadMB:     envInt("MATCHING_MAX_UPLOAD_MB", defaults.Matching.MaxUploadMB),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
	}
}

// Validate checks the configuration once at startup. Components receive the
// validated struct by reference and never re-check these invariants.
func (c *Config) Validate() error {
	if c.Extractor.Dim <= 0 {
		return errors.New("extractor dimension must be positive")
	}
	if c.Matching.Tolerance < 0 {
		return fmt.Errorf("matching tolerance must be non-negative, got %v", c.Matching.Tolerance)
	}
	if c.Matching.CosineThreshold < -1 || c.Matching.CosineThreshold > 1 {
		return fmt.Errorf("cosine threshold must be in [-1, 1], got %v", c.Matching.CosineThreshold)
	}
	if c.Matching.MaxQueryImages <= 0 {
		return errors.New("max query images must be positive")
	}
	if c.Indexing.BatchSize <= 0 {
		return errors.New("indexing batch size must be positive")
	}
	if c.Indexing.DownloadRetries <= 0 {
		return errors.New("download retries must be positive")
	}
	if len(c.Indexing.AcceptedMimeTypes) == 0 {
		return errors.New("accepted mime types must not be empty")
	}
	return nil
}
