// Package config loads and validates clementine configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/clementine/config.yaml)
//  3. Project config (.clementine.yaml next to the synced content)
//  4. Environment variables (CLEMENTINE_*)
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete clementine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// StorageConfig configures the on-disk stores.
type StorageConfig struct {
	// DataDir is the root directory for SQLite, vector index files, and
	// the process lock. Defaults to ~/.clementine.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// SQLiteCacheMB is the SQLite page cache size in MB (default: 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	// BusyTimeout is the SQLite busy timeout (default: 5s).
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// ChunkingConfig configures passage extraction from source documents.
type ChunkingConfig struct {
	// TargetSize is the soft passage size target in characters (default: 2000).
	TargetSize int `yaml:"target_size" json:"target_size"`
	// MaxSize is the hard passage size cap in characters (default: 2300).
	// Passages never exceed this; oversized units are split.
	MaxSize int `yaml:"max_size" json:"max_size"`
	// MinSize is the small-passage threshold in characters (default: 300).
	// Passages below it roll forward into the next passage.
	MinSize int `yaml:"min_size" json:"min_size"`
}

// SearchConfig configures hybrid retrieval.
// Weights and the rank offset are tunable via config files or
// CLEMENTINE_LEX_WEIGHT, CLEMENTINE_VEC_WEIGHT, CLEMENTINE_RANK_OFFSET.
type SearchConfig struct {
	// LexWeight is the weight of the lexical ranking contribution.
	LexWeight float64 `yaml:"lex_weight" json:"lex_weight"`
	// VecWeight is the weight of the vector ranking contribution.
	// Must sum to 1.0 with LexWeight.
	VecWeight float64 `yaml:"vec_weight" json:"vec_weight"`
	// RankOffset is the reciprocal-rank smoothing offset (default: 60,
	// the constant used by Azure AI Search and OpenSearch).
	RankOffset int `yaml:"rank_offset" json:"rank_offset"`
	// Overfetch is the per-index candidate multiplier. Each index is asked
	// for Overfetch*limit candidates before fusion (default: 4).
	Overfetch int `yaml:"overfetch" json:"overfetch"`
	// MaxResults is the default result count when the caller passes no
	// limit (default: 5).
	MaxResults int `yaml:"max_results" json:"max_results"`
	// DedupeThreshold is the token Jaccard similarity above which a lower
	// ranked passage is suppressed as a near-duplicate (default: 0.9,
	// 0 disables suppression).
	DedupeThreshold float64 `yaml:"dedupe_threshold" json:"dedupe_threshold"`
	// LexicalBackend selects the lexical index implementation.
	// Options: "sqlite" (default, FTS5 with concurrent access) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama", "static", or empty for
	// auto-detection (Ollama when reachable, static otherwise).
	Provider string `yaml:"provider" json:"provider"`
	// Model is the embedding model name (default: nomic-embed-text).
	Model string `yaml:"model" json:"model"`
	// Dimensions is the embedding dimensionality. 0 auto-detects from the
	// provider on first use.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// OllamaHost is the Ollama API endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// BatchSize is the number of passages embedded per request (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the LRU embedding cache capacity (default: 1000,
	// 0 disables the cache).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// DocPrefix and QueryPrefix are prepended to passage and query text
	// before embedding, for models with asymmetric retrieval prompts.
	DocPrefix   string `yaml:"doc_prefix" json:"doc_prefix"`
	QueryPrefix string `yaml:"query_prefix" json:"query_prefix"`
}

// SyncConfig configures the sync coordinator and runner.
type SyncConfig struct {
	// Workers bounds concurrent per-source syncs within a scope (default:
	// NumCPU, capped at 8).
	Workers int `yaml:"workers" json:"workers"`
	// Interval is the periodic full-sync interval for the background
	// runner (default: 5m, 0 disables periodic syncs).
	Interval time.Duration `yaml:"interval" json:"interval"`
	// PurgeGrace is how long deactivated generations are retained before
	// purge removes their rows (default: 1h).
	PurgeGrace time.Duration `yaml:"purge_grace" json:"purge_grace"`
	// WatchDebounce coalesces rapid filesystem events into one sync
	// trigger (default: 500ms).
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`
	// OrphanThreshold is the vector-index orphan ratio above which
	// compaction runs after a purge (default: 0.2).
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	// MinOrphanCount skips compaction for small indexes regardless of
	// ratio (default: 100).
	MinOrphanCount int `yaml:"min_orphan_count" json:"min_orphan_count"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			SQLiteCacheMB: 64,
			BusyTimeout:   5 * time.Second,
		},
		Chunking: ChunkingConfig{
			TargetSize: 2000,
			MaxSize:    2300,
			MinSize:    300,
		},
		Search: SearchConfig{
			LexWeight:       0.5,
			VecWeight:       0.5,
			RankOffset:      60,
			Overfetch:       4,
			MaxResults:      5,
			DedupeThreshold: 0.9,
			LexicalBackend:  "sqlite",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "nomic-embed-text",
			Dimensions: 0,
			OllamaHost: "",
			BatchSize:  32,
			CacheSize:  1000,
			Timeout:    30 * time.Second,
		},
		Sync: SyncConfig{
			Workers:         defaultSyncWorkers(),
			Interval:        5 * time.Minute,
			PurgeGrace:      time.Hour,
			WatchDebounce:   500 * time.Millisecond,
			OrphanThreshold: 0.2,
			MinOrphanCount:  100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultSyncWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// defaultDataDir returns the default data directory (~/.clementine).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".clementine")
	}
	return filepath.Join(home, ".clementine")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/clementine/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/clementine/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "clementine", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "clementine", "config.yaml")
	}
	return filepath.Join(home, ".config", "clementine", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given directory, layering user config,
// project config, and environment overrides on top of the defaults.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .clementine.yaml or .clementine.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".clementine.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".clementine.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, defaults apply
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Storage
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = other.Storage.DataDir
	}
	if other.Storage.SQLiteCacheMB != 0 {
		c.Storage.SQLiteCacheMB = other.Storage.SQLiteCacheMB
	}
	if other.Storage.BusyTimeout != 0 {
		c.Storage.BusyTimeout = other.Storage.BusyTimeout
	}

	// Chunking
	if other.Chunking.TargetSize != 0 {
		c.Chunking.TargetSize = other.Chunking.TargetSize
	}
	if other.Chunking.MaxSize != 0 {
		c.Chunking.MaxSize = other.Chunking.MaxSize
	}
	if other.Chunking.MinSize != 0 {
		c.Chunking.MinSize = other.Chunking.MinSize
	}

	// Search weights and rank offset
	// Zero is not a practical weight, so only non-zero values merge.
	if other.Search.LexWeight != 0 {
		c.Search.LexWeight = other.Search.LexWeight
	}
	if other.Search.VecWeight != 0 {
		c.Search.VecWeight = other.Search.VecWeight
	}
	if other.Search.RankOffset != 0 {
		c.Search.RankOffset = other.Search.RankOffset
	}
	if other.Search.Overfetch != 0 {
		c.Search.Overfetch = other.Search.Overfetch
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.DedupeThreshold != 0 {
		c.Search.DedupeThreshold = other.Search.DedupeThreshold
	}
	if other.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = other.Search.LexicalBackend
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.DocPrefix != "" {
		c.Embeddings.DocPrefix = other.Embeddings.DocPrefix
	}
	if other.Embeddings.QueryPrefix != "" {
		c.Embeddings.QueryPrefix = other.Embeddings.QueryPrefix
	}

	// Sync
	if other.Sync.Workers != 0 {
		c.Sync.Workers = other.Sync.Workers
	}
	if other.Sync.Interval != 0 {
		c.Sync.Interval = other.Sync.Interval
	}
	if other.Sync.PurgeGrace != 0 {
		c.Sync.PurgeGrace = other.Sync.PurgeGrace
	}
	if other.Sync.WatchDebounce != 0 {
		c.Sync.WatchDebounce = other.Sync.WatchDebounce
	}
	if other.Sync.OrphanThreshold != 0 {
		c.Sync.OrphanThreshold = other.Sync.OrphanThreshold
	}
	if other.Sync.MinOrphanCount != 0 {
		c.Sync.MinOrphanCount = other.Sync.MinOrphanCount
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// applyEnvOverrides applies CLEMENTINE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLEMENTINE_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}

	// Search weights support explicit zero values via env vars.
	if v := os.Getenv("CLEMENTINE_LEX_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.LexWeight = w
		}
	}
	if v := os.Getenv("CLEMENTINE_VEC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 && w <= 1 {
			c.Search.VecWeight = w
		}
	}
	if v := os.Getenv("CLEMENTINE_RANK_OFFSET"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RankOffset = k
		}
	}
	if v := os.Getenv("CLEMENTINE_LEXICAL_BACKEND"); v != "" {
		c.Search.LexicalBackend = v
	}

	if v := os.Getenv("CLEMENTINE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// CLEMENTINE_EMBEDDER is an alias for CLEMENTINE_EMBEDDINGS_PROVIDER
	if v := os.Getenv("CLEMENTINE_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CLEMENTINE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CLEMENTINE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("CLEMENTINE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.Interval = d
		}
	}
	if v := os.Getenv("CLEMENTINE_PURGE_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sync.PurgeGrace = d
		}
	}
	if v := os.Getenv("CLEMENTINE_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Sync.Workers = n
		}
	}

	if v := os.Getenv("CLEMENTINE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.LexWeight < 0 || c.Search.LexWeight > 1 {
		return fmt.Errorf("lex_weight must be between 0 and 1, got %f", c.Search.LexWeight)
	}
	if c.Search.VecWeight < 0 || c.Search.VecWeight > 1 {
		return fmt.Errorf("vec_weight must be between 0 and 1, got %f", c.Search.VecWeight)
	}

	sum := c.Search.LexWeight + c.Search.VecWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("lex_weight + vec_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.RankOffset <= 0 {
		return fmt.Errorf("rank_offset must be positive, got %d", c.Search.RankOffset)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.DedupeThreshold < 0 || c.Search.DedupeThreshold > 1 {
		return fmt.Errorf("dedupe_threshold must be between 0 and 1, got %f", c.Search.DedupeThreshold)
	}

	switch strings.ToLower(c.Search.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'sqlite' or 'bleve', got %s", c.Search.LexicalBackend)
	}

	if c.Chunking.TargetSize <= 0 {
		return fmt.Errorf("chunking.target_size must be positive, got %d", c.Chunking.TargetSize)
	}
	if c.Chunking.MaxSize < c.Chunking.TargetSize {
		return fmt.Errorf("chunking.max_size (%d) must be >= target_size (%d)", c.Chunking.MaxSize, c.Chunking.TargetSize)
	}
	if c.Chunking.MinSize < 0 || c.Chunking.MinSize > c.Chunking.TargetSize {
		return fmt.Errorf("chunking.min_size must be between 0 and target_size, got %d", c.Chunking.MinSize)
	}

	// Empty provider triggers auto-detection.
	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
