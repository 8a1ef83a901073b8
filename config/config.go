package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/rifatrzn/tax-assistant/source"
	"github.com/spf13/viper"
)

const EnvPrefix = "TAX_ASSISTANT"

// Config holds the CLI configuration. The database connection is configured
// separately through helper.NewDatabaseConfiguration.
type Config struct {
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Store    StoreConfig    `mapstructure:"store"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Query    QueryConfig    `mapstructure:"query"`
	Source   SourceConfig   `mapstructure:"source"`
	Log      LogConfig      `mapstructure:"log"`
}

// EmbedderConfig selects the embedding backend: openai, bedrock, local or hash.
type EmbedderConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	Region     string `mapstructure:"region"`
	OnnxFile   string `mapstructure:"onnx_file"`
}

// StoreConfig selects the vector store backend: postgres, qdrant or memory.
type StoreConfig struct {
	Backend string       `mapstructure:"backend"`
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type IngestConfig struct {
	ChunkSize              int           `mapstructure:"chunk_size"`
	Overlap                int           `mapstructure:"overlap"`
	Concurrency            int           `mapstructure:"concurrency"`
	EmbedTimeout           time.Duration `mapstructure:"embed_timeout"`
	StoreTimeout           time.Duration `mapstructure:"store_timeout"`
	StoreRetries           int           `mapstructure:"store_retries"`
	RetryInitialInterval   time.Duration `mapstructure:"retry_initial_interval"`
	EmbedRequestsPerSecond float64       `mapstructure:"embed_requests_per_second"`
	EmbedBurst             int           `mapstructure:"embed_burst"`
	Entities               bool          `mapstructure:"entities"`
	EntityMinScore         float64       `mapstructure:"entity_min_score"`
}

type QueryConfig struct {
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// SourceConfig selects where documents are read from: edgar, s3 or dir.
type SourceConfig struct {
	Type  string      `mapstructure:"type"`
	Edgar EdgarConfig `mapstructure:"edgar"`
	S3    S3Config    `mapstructure:"s3"`
	Dir   DirConfig   `mapstructure:"dir"`
}

type EdgarConfig struct {
	UserAgent         string           `mapstructure:"user_agent"`
	Companies         []source.Company `mapstructure:"companies"`
	FormTypes         []string         `mapstructure:"form_types"`
	PerForm           int              `mapstructure:"per_form"`
	RequestsPerSecond float64          `mapstructure:"requests_per_second"`
}

type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

type DirConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ChunkConfig returns the chunking parameters.
func (c IngestConfig) ChunkConfig() model.ChunkConfig {
	return model.ChunkConfig{ChunkSize: c.ChunkSize, Overlap: c.Overlap}
}

// Model converts the ingest section into the pipeline configuration.
func (c IngestConfig) Model() model.IngestConfig {
	return model.IngestConfig{
		Chunk:                  c.ChunkConfig(),
		Concurrency:            c.Concurrency,
		EmbedTimeout:           c.EmbedTimeout,
		StoreTimeout:           c.StoreTimeout,
		StoreRetries:           c.StoreRetries,
		RetryInitialInterval:   c.RetryInitialInterval,
		EmbedRequestsPerSecond: c.EmbedRequestsPerSecond,
		EmbedBurst:             c.EmbedBurst,
	}
}

func (c QueryConfig) Model() model.QueryConfig {
	return model.QueryConfig{TopK: c.TopK, SimilarityThreshold: c.SimilarityThreshold}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Embedder.Provider {
	case "openai":
		if c.Embedder.APIKey == "" {
			warnings = append(warnings, "embedder provider 'openai' is configured but api_key is empty")
		}
	case "bedrock", "local", "hash":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown embedder provider '%s'", c.Embedder.Provider))
	}

	switch c.Store.Backend {
	case "postgres", "qdrant", "memory":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown store backend '%s'", c.Store.Backend))
	}

	switch c.Source.Type {
	case "edgar", "dir":
	case "s3":
		if c.Source.S3.Bucket == "" {
			warnings = append(warnings, "source type 's3' is configured but bucket is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown source type '%s'", c.Source.Type))
	}

	if err := c.Ingest.Model().Validate(); err != nil {
		warnings = append(warnings, fmt.Sprintf("ingest: %v", err))
	}
	if c.Ingest.Concurrency > 10 {
		warnings = append(warnings, fmt.Sprintf("ingest concurrency %d is above 10 and may get throttled by the embedding service", c.Ingest.Concurrency))
	}
	if err := c.Query.Model().Validate(); err != nil {
		warnings = append(warnings, fmt.Sprintf("query: %v", err))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	ingest := model.DefaultIngestConfig()
	query := model.DefaultQueryConfig()

	v.SetDefault("embedder.provider", "openai")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.dimensions", 0)
	v.SetDefault("embedder.region", "us-east-1")
	v.SetDefault("embedder.onnx_file", "")

	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.qdrant.host", "localhost")
	v.SetDefault("store.qdrant.port", 6334)
	v.SetDefault("store.qdrant.collection", "filings")

	v.SetDefault("ingest.chunk_size", ingest.Chunk.ChunkSize)
	v.SetDefault("ingest.overlap", ingest.Chunk.Overlap)
	v.SetDefault("ingest.concurrency", ingest.Concurrency)
	v.SetDefault("ingest.embed_timeout", ingest.EmbedTimeout)
	v.SetDefault("ingest.store_timeout", ingest.StoreTimeout)
	v.SetDefault("ingest.store_retries", ingest.StoreRetries)
	v.SetDefault("ingest.retry_initial_interval", ingest.RetryInitialInterval)
	v.SetDefault("ingest.embed_requests_per_second", ingest.EmbedRequestsPerSecond)
	v.SetDefault("ingest.embed_burst", ingest.EmbedBurst)
	v.SetDefault("ingest.entities", false)
	v.SetDefault("ingest.entity_min_score", 0.5)

	v.SetDefault("query.top_k", query.TopK)
	v.SetDefault("query.similarity_threshold", query.SimilarityThreshold)

	v.SetDefault("source.type", "edgar")
	v.SetDefault("source.edgar.user_agent", source.DefaultEdgarUserAgent)
	v.SetDefault("source.edgar.form_types", source.DefaultFormTypes)
	v.SetDefault("source.edgar.per_form", 2)
	v.SetDefault("source.edgar.requests_per_second", source.DefaultEdgarRequestsPerSecond)
	v.SetDefault("source.s3.bucket", "")
	v.SetDefault("source.s3.prefix", source.DefaultS3Prefix)
	v.SetDefault("source.s3.region", source.DefaultS3Region)
	v.SetDefault("source.dir.path", "./filings")

	v.SetDefault("log.level", "info")
}

// Load reads configuration from .env files, the optional config file and
// the environment, e.g. TAX_ASSISTANT_QUERY_TOP_K. An empty path skips the file.
func Load(path string) (*Config, error) {
	for _, envFile := range []string{".env.local", ".env"} {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &cfg, nil
}
