// Package config builds the single Config value handed to every component at
// construction. Values come from the environment (optionally seeded from a
// .env file) with defaults for everything except credentials.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"pg"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Chunking   ChunkingConfig   `mapstructure:"chunk"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Indexer    IndexerConfig    `mapstructure:"indexer"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr" validate:"required"`
	UploadsDir string `mapstructure:"uploads_dir" validate:"required"`
	BodyLimit  int    `mapstructure:"body_limit" validate:"min=1"`
}

// PostgresConfig selects the Postgres store. An empty Host keeps everything in memory.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Pass     string `mapstructure:"pass"`
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Pass, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr    string        `mapstructure:"addr"`
	Pass    string        `mapstructure:"pass"`
	DB      int           `mapstructure:"db"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider" validate:"oneof=ollama openai hash"`
	URL       string        `mapstructure:"url" validate:"required_unless=Provider hash"`
	Model     string        `mapstructure:"model" validate:"required_unless=Provider hash"`
	APIKey    string        `mapstructure:"api_key"`
	Dimension int           `mapstructure:"dimension" validate:"min=1"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"min=1ms"`
}

type GenerationConfig struct {
	Provider    string        `mapstructure:"provider" validate:"oneof=ollama openai"`
	URL         string        `mapstructure:"url" validate:"required"`
	Model       string        `mapstructure:"model" validate:"required"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=1ms"`
}

// ChunkingConfig holds the target chunk size and overlap in tokens and the
// tokens-per-word ratio used to convert them into word counts.
type ChunkingConfig struct {
	Size          int     `mapstructure:"size" validate:"min=1"`
	Overlap       int     `mapstructure:"overlap" validate:"min=0,ltfield=Size"`
	TokensPerWord float64 `mapstructure:"tokens_per_word" validate:"gt=0"`
}

type RetrievalConfig struct {
	MaxChunks        int     `mapstructure:"max_chunks" validate:"min=1"`
	MinSimilarity    float64 `mapstructure:"min_similarity" validate:"gte=-1,lte=1"`
	MaxContextTokens int     `mapstructure:"max_context_tokens" validate:"min=1"`
}

type IndexerConfig struct {
	Workers    int           `mapstructure:"workers" validate:"min=1"`
	QueueSize  int           `mapstructure:"queue_size" validate:"min=1"`
	RunTimeout time.Duration `mapstructure:"run_timeout" validate:"min=1s"`
}

type LoaderConfig struct {
	SourceDir      string        `mapstructure:"source_dir"`
	ArchiveDir     string        `mapstructure:"archive_dir"`
	BadDir         string        `mapstructure:"bad_dir"`
	MonitoringTime time.Duration `mapstructure:"monitoring_time"`
	TenantID       string        `mapstructure:"tenant_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var defaults = map[string]any{
	"server.addr":                  ":3000",
	"server.uploads_dir":           "./uploads",
	"server.body_limit":            20 * 1024 * 1024,
	"pg.host":                      "",
	"pg.port":                      5432,
	"pg.user":                      "postgres",
	"pg.pass":                      "",
	"pg.db_name":                   "knowledge",
	"pg.sslmode":                   "disable",
	"pg.max_conns":                 10,
	"redis.addr":                   "",
	"redis.pass":                   "",
	"redis.db":                     0,
	"redis.lock_ttl":               10 * time.Minute,
	"embedding.provider":           "ollama",
	"embedding.url":                "http://localhost:11434/api/embeddings",
	"embedding.model":              "nomic-embed-text",
	"embedding.api_key":            "",
	"embedding.dimension":          768,
	"embedding.timeout":            30 * time.Second,
	"generation.provider":          "ollama",
	"generation.url":               "http://localhost:11434/api/generate",
	"generation.model":             "llama3.1",
	"generation.api_key":           "",
	"generation.temperature":       0.2,
	"generation.timeout":           60 * time.Second,
	"chunk.size":                   500,
	"chunk.overlap":                50,
	"chunk.tokens_per_word":        1.33,
	"retrieval.max_chunks":         5,
	"retrieval.min_similarity":     0.7,
	"retrieval.max_context_tokens": 3000,
	"indexer.workers":              2,
	"indexer.queue_size":           100,
	"indexer.run_timeout":          10 * time.Minute,
	"loader.source_dir":            "./data/source",
	"loader.archive_dir":           "./data/archive",
	"loader.bad_dir":               "./data/bad",
	"loader.monitoring_time":       5 * time.Second,
	"loader.tenant_id":             "",
	"log.level":                    "info",
	"log.format":                   "text",
}

// Load reads an optional .env file and the process environment. Keys map to
// variables by upper-casing and replacing dots, e.g. chunk.size -> CHUNK_SIZE.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
