package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"finrag/internal/logging"
)

// OpenAIConfig holds connection settings for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Temperature       float32 `yaml:"temperature,omitempty"`
}

// OllamaConfig holds connection settings for a local Ollama runtime.
type OllamaConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// CacheConfig configures the on-disk embedding cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string       `yaml:"type"`
	Dimensions  int          `yaml:"dimensions"`
	BatchSize   int          `yaml:"batch_size"`
	Concurrency int          `yaml:"concurrency"`
	Cache       CacheConfig  `yaml:"cache"`
	OpenAI      OpenAIConfig `yaml:"openai"`
	Ollama      OllamaConfig `yaml:"ollama"`
}

// CorpusConfig points at the documents to ingest.
type CorpusConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IndexConfig locates the persisted vector index and its metadata file.
type IndexConfig struct {
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
}

// VectorStoreConfig selects where document vectors are searched.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// TickerConfig configures the company name matcher.
type TickerConfig struct {
	RosterPath string `yaml:"roster_path"`
	CacheDir   string `yaml:"cache_dir"`
	TopN       int    `yaml:"top_n"`
	// MinQueryLength rejects shorter trimmed queries when positive. Zero accepts everything.
	MinQueryLength int `yaml:"min_query_length"`
}

// AnswerConfig selects the answer generator and fallback text.
type AnswerConfig struct {
	Generator       string       `yaml:"generator"`
	MaxSentences    int          `yaml:"max_sentences"`
	FallbackMessage string       `yaml:"fallback_message"`
	OpenAI          OpenAIConfig `yaml:"openai"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ReadTimeoutSecs     int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs    int    `yaml:"write_timeout_secs"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Log         logging.Config    `yaml:"log"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Index       IndexConfig       `yaml:"index"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ticker      TickerConfig      `yaml:"ticker"`
	Answer      AnswerConfig      `yaml:"answer"`
	Server      ServerConfig      `yaml:"server"`
}

const DefaultFallbackMessage = "I could not find anything about that in the documents I know. " +
	"Try rephrasing, or enter a company name to look up its ticker."

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			if err := cfg.Validate(); err != nil {
				return nil, errors.Wrap(err, "invalid config")
			}
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	applyConfigDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/finrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/finrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", errors.Wrap(err, "invalid config")
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings no component can work with.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "hashing", "openai", "ollama":
	default:
		return errors.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "flat", "qdrant":
	default:
		return errors.Errorf("unknown vector store: %s", c.VectorStore.Type)
	}
	switch c.Answer.Generator {
	case "extractive", "openai":
	default:
		return errors.Errorf("unknown answer generator: %s", c.Answer.Generator)
	}
	if c.Embedder.Dimensions <= 0 {
		return errors.Errorf("embedder.dimensions must be positive, got %d", c.Embedder.Dimensions)
	}
	if c.Chunker.ChunkSize <= 0 {
		return errors.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return errors.Errorf("chunker.chunk_overlap must be in [0, %d), got %d", c.Chunker.ChunkSize, c.Chunker.ChunkOverlap)
	}
	if c.Retrieval.TopK <= 0 {
		return errors.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Ticker.MinQueryLength < 0 {
		return errors.Errorf("ticker.min_query_length must not be negative, got %d", c.Ticker.MinQueryLength)
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.URL == "" {
		return errors.New("vector_store.qdrant.url is required")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home dir")
	}
	return filepath.Join(home, ".config", "finrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Corpus.Dir == "" {
		cfg.Corpus.Dir = "./documents"
	}
	// an explicit chunk_size keeps chunk_overlap as written, zero included
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 512
		if cfg.Chunker.ChunkOverlap == 0 {
			cfg.Chunker.ChunkOverlap = 50
		}
	}

	e := &cfg.Embedder
	if e.Type == "" {
		e.Type = "hashing"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 768
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.Concurrency == 0 {
		e.Concurrency = 4
	}
	if e.Cache.Path == "" {
		e.Cache.Path = "./vindex/embcache"
	}
	applyOpenAIDefaults(&e.OpenAI, "text-embedding-3-small", 30)
	if e.Ollama.BaseURL == "" {
		e.Ollama.BaseURL = "http://localhost:11434"
	}
	if e.Ollama.Model == "" {
		e.Ollama.Model = "nomic-embed-text"
	}
	if e.Ollama.TimeoutSecs == 0 {
		e.Ollama.TimeoutSecs = 60
	}

	if cfg.Index.Path == "" {
		cfg.Index.Path = "./vindex/combined.index"
	}
	if cfg.Index.MetadataPath == "" {
		cfg.Index.MetadataPath = "./vindex/chunks.jsonl"
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "flat"
	}
	if cfg.VectorStore.Qdrant.APIKeyEnv == "" {
		cfg.VectorStore.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
	}
	if cfg.VectorStore.Qdrant.Collection == "" {
		cfg.VectorStore.Qdrant.Collection = "finrag_chunks"
	}
	if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
		cfg.VectorStore.Qdrant.TimeoutSecs = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}

	if cfg.Ticker.RosterPath == "" {
		cfg.Ticker.RosterPath = "./companies.json"
	}
	if cfg.Ticker.CacheDir == "" {
		cfg.Ticker.CacheDir = "./vindex/tickers"
	}
	if cfg.Ticker.TopN == 0 {
		cfg.Ticker.TopN = 5
	}

	if cfg.Answer.Generator == "" {
		cfg.Answer.Generator = "extractive"
	}
	if cfg.Answer.MaxSentences == 0 {
		cfg.Answer.MaxSentences = 3
	}
	if cfg.Answer.FallbackMessage == "" {
		cfg.Answer.FallbackMessage = DefaultFallbackMessage
	}
	applyOpenAIDefaults(&cfg.Answer.OpenAI, "gpt-4o-mini", 60)
	if cfg.Answer.OpenAI.Temperature == 0 {
		cfg.Answer.OpenAI.Temperature = 0.2
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 15
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 60
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
}

func applyOpenAIDefaults(o *OpenAIConfig, model string, timeout int) {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.Model == "" {
		o.Model = model
	}
	if o.TimeoutSecs == 0 {
		o.TimeoutSecs = timeout
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("FINRAG_EMBEDDER")); v != "" {
		cfg.Embedder.Type = v
	}
	if v := strings.TrimSpace(os.Getenv("FINRAG_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("FINRAG_SERVER_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
}
