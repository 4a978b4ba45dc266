// Package config loads pipeline configuration from an optional yaml
// file with environment-variable overrides. Environment variables win
// over the file; the file wins over built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/normadata/boerag/internal/errors"
)

// ChunkMethod selects the splitter used by the chunk engine.
type ChunkMethod string

const (
	ChunkMethodSimple    ChunkMethod = "simple"
	ChunkMethodRecursive ChunkMethod = "recursive"
)

// TextExtractor selects the XML text extraction backend. The choice
// participates in texto_hash identity: switching extractors produces
// new unit and chunk ids.
type TextExtractor string

const (
	ExtractorFastXML TextExtractor = "fastxml"
	ExtractorXPath   TextExtractor = "xpath"
)

// Config is the complete pipeline configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Redis      RedisConfig      `yaml:"redis"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	RAG        RAGConfig        `yaml:"rag"`
}

// SourceConfig configures the open-data source API client.
type SourceConfig struct {
	BaseURL            string        `yaml:"base_url"`
	UserAgent          string        `yaml:"user_agent"`
	HTTPTimeout        time.Duration `yaml:"http_timeout"`
	RetryCount         int           `yaml:"retry_count"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	RequestConcurrency int           `yaml:"request_concurrency"`
}

// StorageConfig configures the document store and the object store.
type StorageConfig struct {
	// SQLitePath is the document-store database file.
	SQLitePath string `yaml:"sqlite_path"`
	// Root is the object-store base directory for XML snapshots.
	Root string `yaml:"root"`
	// StoreRawSnapshots persists raw bloque XML fetches alongside the
	// content-addressed versions.
	StoreRawSnapshots bool `yaml:"store_raw_snapshots"`
	// NormalizeTerritory enables territorio derivation on discover.
	NormalizeTerritory bool `yaml:"normalize_territory"`
	// Extractor selects fastxml or xpath text extraction.
	Extractor TextExtractor `yaml:"extractor"`
}

// ChunkingConfig configures the chunk engine.
type ChunkingConfig struct {
	Method  ChunkMethod `yaml:"method"`
	Size    int         `yaml:"size"`
	Overlap int         `yaml:"overlap"`
}

// EmbeddingsConfig configures the embedding providers.
type EmbeddingsConfig struct {
	// Provider is the primary backend: "local" or "openai".
	Provider string `yaml:"provider"`
	// FallbackProvider is tried when the primary fails ("" disables it).
	FallbackProvider string `yaml:"fallback_provider"`
	Model            string `yaml:"model"`
	Timeout          time.Duration `yaml:"timeout"`
	// LocalURL is the local embedding server endpoint.
	LocalURL string `yaml:"local_url"`
	// OpenAIBaseURL overrides the OpenAI-compatible endpoint.
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
}

// QdrantConfig configures the vector store.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	UseTLS     bool   `yaml:"use_tls"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
}

// RedisConfig configures the queue broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StageLimits configures one pipeline stage consumer.
type StageLimits struct {
	Concurrency       int           `yaml:"concurrency"`
	RateLimitMax      int           `yaml:"rate_limit_max"`
	RateLimitDuration time.Duration `yaml:"rate_limit_duration"`
}

// PipelineConfig configures the orchestrator and the stage workers.
type PipelineConfig struct {
	Sync         StageLimits `yaml:"sync"`
	Build        StageLimits `yaml:"build"`
	Index        StageLimits `yaml:"index"`
	Orchestrator StageLimits `yaml:"orchestrator"`
}

// IndexerConfig configures the vector indexer.
type IndexerConfig struct {
	BatchSize              int `yaml:"batch_size"`
	EmbedConcurrency       int `yaml:"embed_concurrency"`
	CleanupScrollBatchSize int `yaml:"cleanup_scroll_batch_size"`
	CleanupDeleteBatchSize int `yaml:"cleanup_delete_batch_size"`
}

// RAGConfig configures the retrieval HTTP surface.
type RAGConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// ChatModel is the model used by /rag/answer.
	ChatModel string `yaml:"chat_model"`
	// MaxCandidates bounds the vector-store candidate fetch.
	MaxCandidates int `yaml:"max_candidates"`
	// CandidateMultiplier scales topK into the candidate fetch size.
	CandidateMultiplier int `yaml:"candidate_multiplier"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			BaseURL:            "https://www.boe.es/datosabiertos/api/legislacion-consolidada",
			UserAgent:          "boerag/1.0",
			HTTPTimeout:        30 * time.Second,
			RetryCount:         3,
			RetryBackoff:       time.Second,
			RequestConcurrency: 4,
		},
		Storage: StorageConfig{
			SQLitePath:         defaultDataPath("boerag.db"),
			Root:               defaultDataPath("objects"),
			StoreRawSnapshots:  false,
			NormalizeTerritory: true,
			Extractor:          ExtractorFastXML,
		},
		Chunking: ChunkingConfig{
			Method:  ChunkMethodRecursive,
			Size:    1200,
			Overlap: 150,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "local",
			Model:    "nomic-embed-text",
			Timeout:  60 * time.Second,
			LocalURL: "http://localhost:11434/api/embeddings",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "chunks_semanticos",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Pipeline: PipelineConfig{
			Sync:         StageLimits{Concurrency: 4},
			Build:        StageLimits{Concurrency: 2},
			Index:        StageLimits{Concurrency: 1},
			Orchestrator: StageLimits{Concurrency: 1},
		},
		Indexer: IndexerConfig{
			BatchSize:              64,
			EmbedConcurrency:       4,
			CleanupScrollBatchSize: 512,
			CleanupDeleteBatchSize: 256,
		},
		RAG: RAGConfig{
			ListenAddr:          ":8080",
			ChatModel:           "gpt-4o-mini",
			MaxCandidates:       200,
			CandidateMultiplier: 4,
		},
	}
}

// Load builds the configuration: defaults, then the yaml file at path
// (skipped when path is empty or missing), then environment overrides.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine; defaults + env apply.
		case err != nil:
			return nil, errors.Wrap(errors.ErrCodeConfigNotFound, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.ErrCodeConfigInvalid, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Chunking.Method != ChunkMethodSimple && c.Chunking.Method != ChunkMethodRecursive {
		return errors.Newf(errors.ErrCodeConfigInvalid, "chunking.method must be simple or recursive, got %q", c.Chunking.Method)
	}
	if c.Chunking.Size <= 0 {
		return errors.Newf(errors.ErrCodeConfigInvalid, "chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return errors.Newf(errors.ErrCodeConfigInvalid, "chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Storage.Extractor != ExtractorFastXML && c.Storage.Extractor != ExtractorXPath {
		return errors.Newf(errors.ErrCodeConfigInvalid, "storage.extractor must be fastxml or xpath, got %q", c.Storage.Extractor)
	}
	if c.Source.BaseURL == "" {
		return errors.Newf(errors.ErrCodeConfigInvalid, "source.base_url is required")
	}
	return nil
}

// applyEnv overrides config fields from the environment. Variable names
// are the stable external contract; see SPEC_FULL.md.
func applyEnv(c *Config) {
	envStr("BOE_BASE_URL", &c.Source.BaseURL)
	envStr("USER_AGENT", &c.Source.UserAgent)
	envMillis("HTTP_TIMEOUT_MS", &c.Source.HTTPTimeout)
	envInt("RETRY_COUNT", &c.Source.RetryCount)
	envMillis("RETRY_BACKOFF_MS", &c.Source.RetryBackoff)
	envInt("REQUEST_CONCURRENCY", &c.Source.RequestConcurrency)

	envStr("SQLITE_PATH", &c.Storage.SQLitePath)
	envStr("STORAGE_ROOT", &c.Storage.Root)
	envBool("STORE_RAW_SNAPSHOTS", &c.Storage.StoreRawSnapshots)
	envBool("NORMALIZE_TERRITORY", &c.Storage.NormalizeTerritory)
	if v := os.Getenv("TEXT_EXTRACTOR"); v != "" {
		c.Storage.Extractor = TextExtractor(strings.ToLower(v))
	}

	if v := os.Getenv("CHUNK_METHOD"); v != "" {
		c.Chunking.Method = ChunkMethod(strings.ToLower(v))
	}
	envInt("CHUNK_SIZE", &c.Chunking.Size)
	envInt("CHUNK_OVERLAP", &c.Chunking.Overlap)

	envStr("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	envStr("EMBEDDINGS_FALLBACK_PROVIDER", &c.Embeddings.FallbackProvider)
	envStr("EMBEDDINGS_MODEL", &c.Embeddings.Model)
	envMillis("EMBEDDINGS_TIMEOUT_MS", &c.Embeddings.Timeout)
	envStr("LOCAL_EMBEDDINGS_URL", &c.Embeddings.LocalURL)
	envStr("OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL)
	envStr("OPENAI_API_KEY", &c.Embeddings.OpenAIAPIKey)

	envStr("QDRANT_HOST", &c.Qdrant.Host)
	envInt("QDRANT_PORT", &c.Qdrant.Port)
	envBool("QDRANT_USE_TLS", &c.Qdrant.UseTLS)
	envStr("QDRANT_API_KEY", &c.Qdrant.APIKey)
	envStr("QDRANT_COLLECTION", &c.Qdrant.Collection)

	envStr("REDIS_ADDR", &c.Redis.Addr)
	envStr("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)

	envInt("PIPELINE_CONCURRENCY_SYNC", &c.Pipeline.Sync.Concurrency)
	envInt("PIPELINE_CONCURRENCY_BUILD", &c.Pipeline.Build.Concurrency)
	envInt("PIPELINE_CONCURRENCY_INDEX", &c.Pipeline.Index.Concurrency)
	envInt("PIPELINE_CONCURRENCY_ORCHESTRATOR", &c.Pipeline.Orchestrator.Concurrency)
	envInt("PIPELINE_SYNC_RATE_LIMIT_MAX", &c.Pipeline.Sync.RateLimitMax)
	envMillis("PIPELINE_SYNC_RATE_LIMIT_DURATION_MS", &c.Pipeline.Sync.RateLimitDuration)
	envInt("PIPELINE_BUILD_RATE_LIMIT_MAX", &c.Pipeline.Build.RateLimitMax)
	envMillis("PIPELINE_BUILD_RATE_LIMIT_DURATION_MS", &c.Pipeline.Build.RateLimitDuration)
	envInt("PIPELINE_INDEX_RATE_LIMIT_MAX", &c.Pipeline.Index.RateLimitMax)
	envMillis("PIPELINE_INDEX_RATE_LIMIT_DURATION_MS", &c.Pipeline.Index.RateLimitDuration)

	envInt("INDEXER_BATCH_SIZE", &c.Indexer.BatchSize)
	envInt("INDEXER_EMBED_CONCURRENCY", &c.Indexer.EmbedConcurrency)
	envInt("INDEXER_CLEANUP_SCROLL_BATCH_SIZE", &c.Indexer.CleanupScrollBatchSize)
	envInt("INDEXER_CLEANUP_DELETE_BATCH_SIZE", &c.Indexer.CleanupDeleteBatchSize)

	envStr("RAG_LISTEN_ADDR", &c.RAG.ListenAddr)
	envStr("CHAT_MODEL", &c.RAG.ChatModel)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envMillis(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Sprintf(".boerag/%s", name)
	}
	return fmt.Sprintf("%s/.boerag/%s", home, name)
}
