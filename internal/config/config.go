// Package config loads codesight settings from defaults, an optional TOML file
// and CODESIGHT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/codesight/pkg/types"
)

// Environment variables
const (
	EnvConfigFile       = "CODESIGHT_CONFIG"
	EnvDataDir          = "CODESIGHT_DATA_DIR"
	EnvProvider         = "CODESIGHT_EMBEDDING_PROVIDER"
	EnvModel            = "CODESIGHT_EMBEDDING_MODEL"
	EnvDims             = "CODESIGHT_EMBEDDING_DIMS"
	EnvBaseURL          = "CODESIGHT_EMBEDDING_BASE_URL"
	EnvBatchSize        = "CODESIGHT_BATCH_SIZE"
	EnvRateLimit        = "CODESIGHT_RATE_LIMIT"
	EnvStaleThreshold   = "CODESIGHT_STALE_THRESHOLD"
	EnvWorkers          = "CODESIGHT_WORKERS"
	EnvMaxChunkChars    = "CODESIGHT_MAX_CHUNK_CHARS"
	EnvSearchCandidates = "CODESIGHT_SEARCH_CANDIDATES"
	EnvRRFConstant      = "CODESIGHT_RRF_K"
	EnvLogLevel         = "CODESIGHT_LOG_LEVEL"
	EnvLogFormat        = "CODESIGHT_LOG_FORMAT"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvJinaAPIKey       = "JINA_API_KEY"
)

// Defaults
const (
	DefaultTopK                = 8
	DefaultSearchCandidates    = 20
	DefaultRRFConstant         = 60
	DefaultBatchSize           = 64
	DefaultMaxRetries          = 4
	DefaultMaxChunkChars       = 1500
	DefaultOverlapChars        = 200
	DefaultMaxFileSize         = 10_000_000
	DefaultCacheSize           = 1000
	DefaultLargeChangeFraction = 0.5
)

// Duration wraps time.Duration so it can be written as "5m" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// EmbeddingConfig configures the embedding provider and client
type EmbeddingConfig struct {
	Provider     string   `toml:"provider"`
	Model        string   `toml:"model"`
	Dims         int      `toml:"dims"`
	APIKey       string   `toml:"-"`
	BaseURL      string   `toml:"base_url"`
	BatchSize    int      `toml:"batch_size"`
	MaxRetries   int      `toml:"max_retries"`
	BaseDelay    Duration `toml:"base_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	BatchTimeout Duration `toml:"batch_timeout"`
	RateLimit    float64  `toml:"rate_limit"` // Requests per second, 0 = unlimited
	CacheSize    int      `toml:"cache_size"`
}

// IndexConfig configures chunking and the indexer
type IndexConfig struct {
	MaxChunkChars       int      `toml:"max_chunk_chars"`
	OverlapChars        int      `toml:"overlap_chars"`
	MaxFileSize         int64    `toml:"max_file_size"`
	Workers             int      `toml:"workers"`
	LargeChangeFraction float64  `toml:"large_change_fraction"`
	StaleThreshold      Duration `toml:"stale_threshold"`
	UseGit              bool     `toml:"use_git"`
}

// SearchConfig configures the hybrid retriever
type SearchConfig struct {
	TopK        int      `toml:"top_k"`
	Candidates  int      `toml:"candidates"`
	RRFConstant float64  `toml:"rrf_k"`
	Timeout     Duration `toml:"timeout"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// Config is the complete codesight configuration
type Config struct {
	DataDir   string          `toml:"data_dir"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Index     IndexConfig     `toml:"index"`
	Search    SearchConfig    `toml:"search"`
	Log       LogConfig       `toml:"log"`
}

// Default returns the built-in configuration
func Default() *Config {
	dataDir := filepath.Join(".codesight", "data")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".codesight", "data")
	}

	return &Config{
		DataDir: dataDir,
		Embedding: EmbeddingConfig{
			BatchSize:    DefaultBatchSize,
			MaxRetries:   DefaultMaxRetries,
			BaseDelay:    Duration{500 * time.Millisecond},
			MaxDelay:     Duration{10 * time.Second},
			BatchTimeout: Duration{60 * time.Second},
			CacheSize:    DefaultCacheSize,
		},
		Index: IndexConfig{
			MaxChunkChars:       DefaultMaxChunkChars,
			OverlapChars:        DefaultOverlapChars,
			MaxFileSize:         DefaultMaxFileSize,
			Workers:             runtime.NumCPU(),
			LargeChangeFraction: DefaultLargeChangeFraction,
			StaleThreshold:      Duration{5 * time.Minute},
			UseGit:              true,
		},
		Search: SearchConfig{
			TopK:        DefaultTopK,
			Candidates:  DefaultSearchCandidates,
			RRFConstant: DefaultRRFConstant,
			Timeout:     Duration{5 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codesight", "config.toml")
}

// Load builds a Config from defaults, the TOML file at path (if it exists) and
// the environment. An empty path falls back to CODESIGHT_CONFIG, then DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) || explicit {
				return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from CODESIGHT_* variables
func (c *Config) applyEnv() error {
	setString(&c.DataDir, EnvDataDir)
	setString(&c.Embedding.Provider, EnvProvider)
	setString(&c.Embedding.Model, EnvModel)
	setString(&c.Embedding.BaseURL, EnvBaseURL)
	setString(&c.Log.Level, EnvLogLevel)
	setString(&c.Log.Format, EnvLogFormat)

	if err := setInt(&c.Embedding.Dims, EnvDims); err != nil {
		return err
	}
	if err := setInt(&c.Embedding.BatchSize, EnvBatchSize); err != nil {
		return err
	}
	if err := setInt(&c.Index.Workers, EnvWorkers); err != nil {
		return err
	}
	if err := setInt(&c.Index.MaxChunkChars, EnvMaxChunkChars); err != nil {
		return err
	}
	if err := setInt(&c.Search.Candidates, EnvSearchCandidates); err != nil {
		return err
	}
	if err := setFloat(&c.Embedding.RateLimit, EnvRateLimit); err != nil {
		return err
	}
	if err := setFloat(&c.Search.RRFConstant, EnvRRFConstant); err != nil {
		return err
	}
	if v := os.Getenv(EnvStaleThreshold); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStaleThreshold, err)
		}
		c.Index.StaleThreshold = Duration{d}
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = DetectProvider()
	}
	if c.Embedding.APIKey == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case "openai":
			c.Embedding.APIKey = os.Getenv(EnvOpenAIAPIKey)
		case "jina":
			c.Embedding.APIKey = os.Getenv(EnvJinaAPIKey)
		}
	}
	return nil
}

// applyDefaults fills zero values left by the file or environment
func (c *Config) applyDefaults() {
	def := Default()
	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if c.Embedding.MaxRetries < 0 {
		c.Embedding.MaxRetries = 0
	}
	if c.Embedding.BaseDelay.Duration <= 0 {
		c.Embedding.BaseDelay = def.Embedding.BaseDelay
	}
	if c.Embedding.MaxDelay.Duration <= 0 {
		c.Embedding.MaxDelay = def.Embedding.MaxDelay
	}
	if c.Embedding.BatchTimeout.Duration <= 0 {
		c.Embedding.BatchTimeout = def.Embedding.BatchTimeout
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = def.Index.Workers
	}
	if c.Index.MaxChunkChars <= 0 {
		c.Index.MaxChunkChars = def.Index.MaxChunkChars
	}
	if c.Index.MaxFileSize <= 0 {
		c.Index.MaxFileSize = def.Index.MaxFileSize
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = def.Search.TopK
	}
	if c.Search.Candidates <= 0 {
		c.Search.Candidates = def.Search.Candidates
	}
	if c.Search.RRFConstant <= 0 {
		c.Search.RRFConstant = def.Search.RRFConstant
	}
	if c.Search.Timeout.Duration <= 0 {
		c.Search.Timeout = def.Search.Timeout
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", types.ErrConfiguration)
	}
	if c.Index.OverlapChars < 0 || c.Index.OverlapChars >= c.Index.MaxChunkChars {
		return fmt.Errorf("%w: overlap_chars must be in [0, max_chunk_chars)", types.ErrConfiguration)
	}
	if c.Index.LargeChangeFraction < 0 || c.Index.LargeChangeFraction > 1 {
		return fmt.Errorf("%w: large_change_fraction must be in [0, 1]", types.ErrConfiguration)
	}
	if c.Embedding.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must be >= 0", types.ErrConfiguration)
	}
	if c.Index.StaleThreshold.Duration < 0 {
		return fmt.Errorf("%w: stale_threshold must be >= 0", types.ErrConfiguration)
	}
	return nil
}

// DetectProvider returns the provider implied by the environment.
// Priority: CODESIGHT_EMBEDDING_PROVIDER, then available API keys, then hashing.
func DetectProvider() string {
	if p := os.Getenv(EnvProvider); p != "" {
		return strings.ToLower(p)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return "openai"
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return "jina"
	}
	return "hashing"
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	*dst = f
	return nil
}
