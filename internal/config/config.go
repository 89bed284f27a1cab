package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the raspberry-rag configuration.
type Config struct {
	DocumentsPath string          `yaml:"documents_path"`
	Index         IndexConfig     `yaml:"index"`
	Chunker       ChunkerConfig   `yaml:"chunker"`
	Embedder      EmbedderConfig  `yaml:"embedder"`
	Retriever     RetrieverConfig `yaml:"retriever"`
	Watcher       WatcherConfig   `yaml:"watcher"`
	Lock          LockConfig      `yaml:"lock"`
	HTTP          HTTPConfig      `yaml:"http"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// IndexConfig locates the vector index and metadata store.
type IndexConfig struct {
	VectorPath string `yaml:"vector_path"`
	DBPath     string `yaml:"db_path"`
	DefaultDim int    `yaml:"default_dim"`
}

// ChunkerConfig holds chunk sizes in characters.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// Embedder types.
const (
	EmbedderOpenAI  = "openai"
	EmbedderHashing = "hashing"
)

// EmbedderConfig selects and configures the embedding client.
type EmbedderConfig struct {
	Type      string        `yaml:"type"` // openai, hashing (default: openai)
	BatchSize int           `yaml:"batch_size"`
	OpenAI    OpenAIConfig  `yaml:"openai"`
	Hashing   HashingConfig `yaml:"hashing"`
}

// OpenAIConfig points at an OpenAI-compatible embedding server.
type OpenAIConfig struct {
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	TimeoutSec          int    `yaml:"timeout_sec"`
	VerifyModel         bool   `yaml:"verify_model"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// HashingConfig configures the offline feature-hashing embedder.
type HashingConfig struct {
	Dimensions int `yaml:"dimensions"`
}

// RetrieverConfig holds search settings.
type RetrieverConfig struct {
	TopK int `yaml:"top_k"`
	// MinScore drops hits scoring below it. Unset keeps every hit.
	MinScore *float32 `yaml:"min_score"`
}

// WatcherConfig holds document watcher settings.
type WatcherConfig struct {
	Enabled         *bool `yaml:"enabled"`
	PollIntervalSec int   `yaml:"poll_interval_sec"`
	Notify          bool  `yaml:"notify"`
	DebounceMs      int   `yaml:"debounce_ms"`
}

// Lock drivers.
const (
	LockFile  = "file"
	LockRedis = "redis"
	LockNone  = "none"
)

// LockConfig selects the cross-process indexing lock.
type LockConfig struct {
	Driver string      `yaml:"driver"` // file, redis, none (default: file)
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis lock settings.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	Key      string   `yaml:"key"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File  string `yaml:"file"`  // optional extra output
}

// WatcherEnabled reports whether serve runs the watcher (default: true).
func (c *Config) WatcherEnabled() bool {
	return c.Watcher.Enabled == nil || *c.Watcher.Enabled
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads the configuration at path. A .env file in the project root
// (the parent of the config directory) is loaded first; relative paths in the
// config resolve against that root.
func LoadFile(path string) (Config, error) {
	root := projectRoot(path)
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.ResolvePaths(root)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.DocumentsPath == "" {
		c.DocumentsPath = "data/documents"
	}
	if c.Index.VectorPath == "" {
		c.Index.VectorPath = "data/index/vectors.bin"
	}
	if c.Index.DBPath == "" {
		c.Index.DBPath = "data/index/metadata.db"
	}
	if c.Index.DefaultDim <= 0 {
		c.Index.DefaultDim = 312
	}
	if c.Chunker.Size <= 0 {
		c.Chunker.Size = 400
	}
	if c.Chunker.Overlap < 0 {
		c.Chunker.Overlap = 0
	}
	if c.Embedder.Type == "" {
		c.Embedder.Type = EmbedderOpenAI
	}
	if c.Embedder.BatchSize <= 0 {
		c.Embedder.BatchSize = 32
	}
	if c.Embedder.OpenAI.TimeoutSec <= 0 {
		c.Embedder.OpenAI.TimeoutSec = 60
	}
	if c.Embedder.Hashing.Dimensions <= 0 {
		c.Embedder.Hashing.Dimensions = c.Index.DefaultDim
	}
	if c.Retriever.TopK <= 0 {
		c.Retriever.TopK = 3
	}
	if c.Watcher.PollIntervalSec <= 0 {
		c.Watcher.PollIntervalSec = 60
	}
	if c.Watcher.DebounceMs <= 0 {
		c.Watcher.DebounceMs = 1500
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = LockFile
	}
	if c.Lock.Path == "" {
		c.Lock.Path = c.Index.DBPath + ".lock"
	}
	if c.Lock.Redis.Key == "" {
		c.Lock.Redis.Key = "raspberry-rag:index-lock"
	}
	if c.Lock.Redis.TTLSec <= 0 {
		c.Lock.Redis.TTLSec = 30
	}
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8088
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// ResolvePaths makes relative file paths absolute against root.
func (c *Config) ResolvePaths(root string) {
	for _, p := range []*string{
		&c.DocumentsPath,
		&c.Index.VectorPath,
		&c.Index.DBPath,
		&c.Lock.Path,
		&c.Logging.File,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(root, *p)
		}
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Chunker.Size <= 0 {
		return fmt.Errorf("chunker.size must be positive, got %d", c.Chunker.Size)
	}
	if c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap must be less than chunker.size, got %d >= %d",
			c.Chunker.Overlap, c.Chunker.Size)
	}
	switch c.Embedder.Type {
	case EmbedderOpenAI:
		if c.Embedder.OpenAI.BaseURL == "" {
			return fmt.Errorf("embedder.openai.base_url is required")
		}
		if c.Embedder.OpenAI.Model == "" {
			return fmt.Errorf("embedder.openai.model is required")
		}
	case EmbedderHashing:
		// ok
	default:
		return fmt.Errorf("embedder.type must be %q or %q, got %q",
			EmbedderOpenAI, EmbedderHashing, c.Embedder.Type)
	}
	switch c.Lock.Driver {
	case LockFile, LockNone:
		// ok
	case LockRedis:
		if len(c.Lock.Redis.Addrs) == 0 {
			return fmt.Errorf("lock.redis.addrs is required for the redis lock")
		}
	default:
		return fmt.Errorf("lock.driver must be \"file\", \"redis\" or \"none\", got %q", c.Lock.Driver)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(root, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

// projectRoot is the directory containing the config directory.
func projectRoot(configPath string) string {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	return filepath.Dir(filepath.Dir(abs))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
