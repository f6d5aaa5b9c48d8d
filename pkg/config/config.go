// Package config defines the OpenViking configuration document and its
// loader. A single JSON file configures the embedding providers, the VLM,
// the reranker, and the storage backends; values may reference environment
// variables with ${VAR} placeholders.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Env vars consulted when no explicit config path is given. The CLI variable
// wins so a local override never touches the server config.
const (
	EnvConfigFile    = "OPENVIKING_CONFIG_FILE"
	EnvCLIConfigFile = "OPENVIKING_CLI_CONFIG_FILE"
)

// Config is the root configuration document.
type Config struct {
	Embedding EmbeddingConfig `json:"embedding"`
	VLM       VLMConfig       `json:"vlm"`
	Rerank    RerankConfig    `json:"rerank"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
}

// EmbeddingConfig holds the dense and sparse embedder settings.
type EmbeddingConfig struct {
	Dense  DenseEmbeddingConfig  `json:"dense"`
	Sparse SparseEmbeddingConfig `json:"sparse"`
}

type DenseEmbeddingConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	BatchSize int    `json:"batch_size"`
	Normalize bool   `json:"normalize"`
}

type SparseEmbeddingConfig struct {
	Provider  string  `json:"provider"`
	Dimension int     `json:"dimension"`
	Weight    float64 `json:"weight"`
}

// VLMConfig configures the vision-language model used for summarization and
// intent analysis.
type VLMConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Temperature float64 `json:"temperature"`
	MaxRetries  int     `json:"max_retries"`
	MaxTokens   int     `json:"max_tokens"`
}

// RerankConfig configures the optional reranking stage. An empty URL
// disables reranking entirely.
type RerankConfig struct {
	Provider  string  `json:"provider"`
	URL       string  `json:"url"`
	APIKey    string  `json:"api_key"`
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
}

// Enabled reports whether a reranker is configured.
func (r RerankConfig) Enabled() bool {
	return r.URL != ""
}

// StorageConfig groups the three backing stores.
type StorageConfig struct {
	AGFS     AGFSConfig     `json:"agfs"`
	VectorDB VectorDBConfig `json:"vectordb"`
	Queue    QueueConfig    `json:"queue"`
}

type AGFSConfig struct {
	Backend string `json:"backend"` // local, memory, s3
	Path    string `json:"path"`
	Bucket  string `json:"bucket"`
	Region  string `json:"region"`
	URL     string `json:"url"`
}

type VectorDBConfig struct {
	Backend      string  `json:"backend"` // local, qdrant
	Path         string  `json:"path"`
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	APIKey       string  `json:"api_key"`
	Collection   string  `json:"collection"`
	SparseWeight float64 `json:"sparse_weight"`
}

type QueueConfig struct {
	Backend            string `json:"backend"` // memory, sqlite
	Path               string `json:"path"`
	VisibilityTimeoutS int    `json:"visibility_timeout_s"`
	MaxConcurrentLLM   int    `json:"max_concurrent_llm"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // simple, verbose
	File   string `json:"file"`
}

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Embedding.Dense.Provider == "" {
		c.Embedding.Dense.Provider = "openai"
	}
	if c.Embedding.Dense.Dimension == 0 {
		c.Embedding.Dense.Dimension = 1536
	}
	if c.Embedding.Dense.BatchSize == 0 {
		c.Embedding.Dense.BatchSize = 16
	}
	if c.Embedding.Sparse.Provider == "" {
		c.Embedding.Sparse.Provider = "hash"
	}
	if c.Embedding.Sparse.Dimension == 0 {
		c.Embedding.Sparse.Dimension = 30000
	}
	if c.Embedding.Sparse.Weight == 0 {
		c.Embedding.Sparse.Weight = 0.3
	}
	if c.VLM.Provider == "" {
		c.VLM.Provider = "openai"
	}
	if c.VLM.Temperature == 0 {
		c.VLM.Temperature = 0.1
	}
	if c.VLM.MaxRetries == 0 {
		c.VLM.MaxRetries = 3
	}
	if c.Rerank.Threshold == 0 {
		c.Rerank.Threshold = 0.3
	}
	if c.Storage.AGFS.Backend == "" {
		c.Storage.AGFS.Backend = "local"
	}
	if c.Storage.VectorDB.Backend == "" {
		c.Storage.VectorDB.Backend = "local"
	}
	if c.Storage.VectorDB.Collection == "" {
		c.Storage.VectorDB.Collection = "openviking"
	}
	if c.Storage.VectorDB.SparseWeight == 0 {
		c.Storage.VectorDB.SparseWeight = 0.3
	}
	if c.Storage.Queue.Backend == "" {
		c.Storage.Queue.Backend = "sqlite"
	}
	if c.Storage.Queue.VisibilityTimeoutS == 0 {
		c.Storage.Queue.VisibilityTimeoutS = 300
	}
	if c.Storage.Queue.MaxConcurrentLLM == 0 {
		c.Storage.Queue.MaxConcurrentLLM = 10
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1933
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	if c.Log.Format == "" {
		c.Log.Format = "simple"
	}
}

// Validate checks the invariants a loaded config must satisfy.
func (c *Config) Validate() error {
	switch c.Storage.AGFS.Backend {
	case "local", "memory", "s3":
	default:
		return fmt.Errorf("storage.agfs.backend: unsupported backend %q", c.Storage.AGFS.Backend)
	}
	if c.Storage.AGFS.Backend == "local" && c.Storage.AGFS.Path == "" {
		return fmt.Errorf("storage.agfs.path is required for the local backend")
	}
	if c.Storage.AGFS.Backend == "s3" && c.Storage.AGFS.Bucket == "" {
		return fmt.Errorf("storage.agfs.bucket is required for the s3 backend")
	}

	switch c.Storage.VectorDB.Backend {
	case "local", "qdrant":
	default:
		return fmt.Errorf("storage.vectordb.backend: unsupported backend %q", c.Storage.VectorDB.Backend)
	}
	if c.Storage.VectorDB.Backend == "qdrant" && c.Storage.VectorDB.Host == "" {
		return fmt.Errorf("storage.vectordb.host is required for the qdrant backend")
	}

	switch c.Storage.Queue.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.queue.backend: unsupported backend %q", c.Storage.Queue.Backend)
	}
	if c.Storage.Queue.Backend == "sqlite" && c.Storage.Queue.Path == "" {
		return fmt.Errorf("storage.queue.path is required for the sqlite backend")
	}

	if c.Embedding.Dense.Dimension <= 0 {
		return fmt.Errorf("embedding.dense.dimension must be positive")
	}
	if w := c.Embedding.Sparse.Weight; w < 0 || w > 1 {
		return fmt.Errorf("embedding.sparse.weight must be in [0,1], got %v", w)
	}
	return nil
}

// ResolvePath picks the config file path: explicit flag, then the CLI env
// var, then the server env var.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvCLIConfigFile); p != "" {
		return p, nil
	}
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no config file: pass --config or set %s", EnvConfigFile)
}

// expandEnvVarsInData walks a decoded config tree and expands ${VAR}
// references in string leaves. Unset variables expand to "".
func expandEnvVarsInData(data interface{}) interface{} {
	switch v := data.(type) {
	case string:
		if !strings.Contains(v, "${") {
			return v
		}
		return os.Expand(v, os.Getenv)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = expandEnvVarsInData(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = expandEnvVarsInData(val)
		}
		return out
	default:
		return data
	}
}
