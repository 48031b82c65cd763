// Package config provides configuration loading and structs for promptforge.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	RAG       RAGConfig       `yaml:"rag"`
	Seen      SeenConfig      `yaml:"seen"`
	LLM       LLMConfig       `yaml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds local paths for the relational store and indices.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	HistoryIndexPath string `yaml:"history_index_path"`
	SnapshotPath     string `yaml:"snapshot_path"`
}

// UpstreamConfig describes the paginated image API.
type UpstreamConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	PageSize          int     `yaml:"page_size"`
	Sort              string  `yaml:"sort"`
	Period            string  `yaml:"period"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// APIKey reads the bearer token from the configured environment variable.
func (u *UpstreamConfig) APIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(u.APIKeyEnv))
	if key == "" {
		return "", fmt.Errorf("upstream api key not set: export %s", u.APIKeyEnv)
	}
	return key, nil
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	Type       string       `yaml:"type"` // memory or qdrant
	Collection string       `yaml:"collection"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds the gRPC connection settings for Qdrant.
type QdrantConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
	UseTLS    bool   `yaml:"use_tls"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Type        string `yaml:"type"` // onnx, http or hash
	ModelID     string `yaml:"model_id"`
	ModelPath   string `yaml:"model_path"`
	LibraryPath string `yaml:"library_path"`
	Endpoint    string `yaml:"endpoint"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
}

// IngestConfig holds the category allow-list and default run size.
type IngestConfig struct {
	Categories  []string `yaml:"categories"`
	TargetCount int      `yaml:"target_count"`
}

// RAGConfig bounds retrieval and the rendered context block.
type RAGConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// SeenConfig selects where locally seen item IDs are tracked.
type SeenConfig struct {
	Type     string `yaml:"type"` // memory or redis
	RedisURL string `yaml:"redis_url"`
	Key      string `yaml:"key"`
}

// LLMConfig points at the Ollama server used for prompt refinement.
type LLMConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	finalize(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// Default returns a config with every default applied, as if loaded from an
// empty file in configDir.
func Default(configDir string) *Config {
	var cfg Config
	finalize(&cfg, configDir)
	return &cfg
}

func finalize(cfg *Config, configDir string) {
	ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.HistoryIndexPath = expandPath(cfg.Storage.HistoryIndexPath, configDir)
	if cfg.Storage.SnapshotPath != "" {
		cfg.Storage.SnapshotPath = expandPath(cfg.Storage.SnapshotPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports configuration errors that must stop the process before any work starts.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if cfg.Upstream.PageSize < 1 || cfg.Upstream.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("upstream.page_size must be between 1 and %d", MaxPageSize))
	}
	switch cfg.Vector.Type {
	case "memory":
	case "qdrant":
		if cfg.Vector.Qdrant.Host == "" {
			errs = append(errs, errors.New("vector.qdrant.host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector.type %q", cfg.Vector.Type))
	}
	switch cfg.Embedding.Type {
	case "onnx":
		if cfg.Embedding.ModelPath == "" {
			errs = append(errs, errors.New("embedding.model_path is required for onnx"))
		}
	case "http":
		if cfg.Embedding.Endpoint == "" {
			errs = append(errs, errors.New("embedding.endpoint is required for http"))
		}
	case "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.type %q", cfg.Embedding.Type))
	}
	switch cfg.Seen.Type {
	case "memory":
	case "redis":
		if cfg.Seen.RedisURL == "" {
			errs = append(errs, errors.New("seen.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown seen.type %q", cfg.Seen.Type))
	}
	if len(cfg.Ingest.Categories) == 0 {
		errs = append(errs, errors.New("ingest.categories must not be empty"))
	}
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
