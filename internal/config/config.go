package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/askql/askql/internal/failure"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	RetrievalModeRetrieval = "retrieval"
	RetrievalModeFull      = "full"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	DB            DBConfig
	Catalog       CatalogConfig
	Retrieval     RetrievalConfig
	Embedding     EmbeddingConfig
	LLM           LLMConfig
	Exec          ExecConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DBConfig describes the database questions are answered against.
type DBConfig struct {
	Driver           string
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxIdleTime  time.Duration
	ConnMaxLifetime  time.Duration
	StatementTimeout time.Duration
}

type CatalogConfig struct {
	Source string
	Path   string
	Schema string
}

type RetrievalConfig struct {
	Mode             string
	TopK             int
	FallbackToFull   bool
	IndexOnStartup   bool
	IndexConcurrency int
}

type EmbeddingConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Dimensions  int
	Timeout     time.Duration
	Store       string
	StoreDSN    string
	SnapshotKey string
	// SnapshotRetain is how many snapshots per model survive a save; zero
	// keeps all of them.
	SnapshotRetain int
}

type LLMConfig struct {
	Backend        string
	BaseURL        string
	APIKey         string
	AllowAnonymous bool
	Model          string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

type ExecConfig struct {
	MaxRows int
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "ASKQL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "ASKQL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "ASKQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "ASKQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "ASKQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "ASKQL_DB_DRIVER", &cfg.DB.Driver) },
		func() error { return applyString(lookup, "ASKQL_DB_DSN", &cfg.DB.DSN) },
		func() error { return applyInt(lookup, "ASKQL_DB_MAX_OPEN_CONNS", &cfg.DB.MaxOpenConns) },
		func() error { return applyInt(lookup, "ASKQL_DB_MAX_IDLE_CONNS", &cfg.DB.MaxIdleConns) },
		func() error { return applyDuration(lookup, "ASKQL_DB_CONN_MAX_IDLE_TIME", &cfg.DB.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "ASKQL_DB_CONN_MAX_LIFETIME", &cfg.DB.ConnMaxLifetime) },
		func() error { return applyDuration(lookup, "ASKQL_DB_STATEMENT_TIMEOUT", &cfg.DB.StatementTimeout) },

		func() error { return applyString(lookup, "ASKQL_CATALOG_SOURCE", &cfg.Catalog.Source) },
		func() error { return applyString(lookup, "ASKQL_CATALOG_PATH", &cfg.Catalog.Path) },
		func() error { return applyString(lookup, "ASKQL_CATALOG_SCHEMA", &cfg.Catalog.Schema) },

		func() error { return applyString(lookup, "ASKQL_RETRIEVAL_MODE", &cfg.Retrieval.Mode) },
		func() error { return applyInt(lookup, "ASKQL_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK) },
		func() error { return applyBool(lookup, "ASKQL_RETRIEVAL_FALLBACK_FULL", &cfg.Retrieval.FallbackToFull) },
		func() error {
			return applyBool(lookup, "ASKQL_RETRIEVAL_INDEX_ON_STARTUP", &cfg.Retrieval.IndexOnStartup)
		},
		func() error {
			return applyInt(lookup, "ASKQL_RETRIEVAL_INDEX_CONCURRENCY", &cfg.Retrieval.IndexConcurrency)
		},

		func() error { return applyString(lookup, "ASKQL_EMBEDDING_PROVIDER", &cfg.Embedding.Provider) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_API_KEY", &cfg.Embedding.APIKey) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_MODEL", &cfg.Embedding.Model) },
		func() error { return applyInt(lookup, "ASKQL_EMBEDDING_DIMENSIONS", &cfg.Embedding.Dimensions) },
		func() error { return applyDuration(lookup, "ASKQL_EMBEDDING_TIMEOUT", &cfg.Embedding.Timeout) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_STORE", &cfg.Embedding.Store) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_STORE_DSN", &cfg.Embedding.StoreDSN) },
		func() error { return applyString(lookup, "ASKQL_EMBEDDING_SNAPSHOT_KEY", &cfg.Embedding.SnapshotKey) },
		func() error {
			return applyInt(lookup, "ASKQL_EMBEDDING_SNAPSHOT_RETAIN", &cfg.Embedding.SnapshotRetain)
		},

		func() error { return applyString(lookup, "ASKQL_LLM_BACKEND", &cfg.LLM.Backend) },
		func() error { return applyString(lookup, "ASKQL_LLM_BASE_URL", &cfg.LLM.BaseURL) },
		func() error { return applyString(lookup, "ASKQL_LLM_API_KEY", &cfg.LLM.APIKey) },
		func() error { return applyBool(lookup, "ASKQL_LLM_ALLOW_ANONYMOUS", &cfg.LLM.AllowAnonymous) },
		func() error { return applyString(lookup, "ASKQL_LLM_MODEL", &cfg.LLM.Model) },
		func() error { return applyFloat(lookup, "ASKQL_LLM_TEMPERATURE", &cfg.LLM.Temperature) },
		func() error { return applyInt(lookup, "ASKQL_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens) },
		func() error { return applyDuration(lookup, "ASKQL_LLM_TIMEOUT", &cfg.LLM.Timeout) },

		func() error { return applyInt(lookup, "ASKQL_EXEC_MAX_ROWS", &cfg.Exec.MaxRows) },

		func() error { return applyBool(lookup, "ASKQL_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "ASKQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "ASKQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "ASKQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "ASKQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "ASKQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "ASKQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "ASKQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "ASKQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyBool(lookup, "ASKQL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "ASKQL_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "ASKQL_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "ASKQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.DB.Driver = strings.ToLower(cfg.DB.Driver)
	cfg.Catalog.Source = strings.ToLower(cfg.Catalog.Source)
	cfg.Retrieval.Mode = strings.ToLower(cfg.Retrieval.Mode)
	cfg.Embedding.Provider = strings.ToLower(cfg.Embedding.Provider)
	cfg.Embedding.Store = strings.ToLower(cfg.Embedding.Store)
	cfg.LLM.Backend = strings.ToLower(cfg.LLM.Backend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that makes the service unable to
// answer any question. The returned error is a failure.ConfigurationError.
func (c Config) Validate() error {
	if c.Service.Name == "" {
		return failure.Configuration("service name is required")
	}
	if c.HTTP.Address == "" {
		return failure.Configuration("http address is required")
	}
	switch c.DB.Driver {
	case "duckdb", "postgres", "mysql":
	default:
		return failure.Configuration("unsupported ASKQL_DB_DRIVER %q", c.DB.Driver)
	}
	if c.DB.Driver != "duckdb" && c.DB.DSN == "" {
		return failure.Configuration("ASKQL_DB_DSN is required for driver %s", c.DB.Driver)
	}
	switch c.Catalog.Source {
	case "file":
		if c.Catalog.Path == "" {
			return failure.Configuration("ASKQL_CATALOG_PATH is required when the catalog source is file")
		}
	case "introspect", "demo":
	default:
		return failure.Configuration("unsupported ASKQL_CATALOG_SOURCE %q", c.Catalog.Source)
	}
	switch c.Retrieval.Mode {
	case RetrievalModeRetrieval, RetrievalModeFull:
	default:
		return failure.Configuration("unsupported ASKQL_RETRIEVAL_MODE %q", c.Retrieval.Mode)
	}
	if c.Retrieval.TopK < 1 {
		return failure.Configuration("ASKQL_RETRIEVAL_TOP_K must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.IndexConcurrency < 1 {
		return failure.Configuration("ASKQL_RETRIEVAL_INDEX_CONCURRENCY must be at least 1")
	}
	switch c.Embedding.Provider {
	case "hashing":
		if c.Embedding.Dimensions < 1 {
			return failure.Configuration("ASKQL_EMBEDDING_DIMENSIONS must be at least 1")
		}
	case "openai":
		if c.Embedding.APIKey == "" {
			return failure.Configuration("ASKQL_EMBEDDING_API_KEY is required for the openai embedding provider")
		}
	case "ollama":
	default:
		return failure.Configuration("unsupported ASKQL_EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	switch c.Embedding.Store {
	case "memory":
	case "postgres":
		if c.Embedding.StoreDSN == "" {
			return failure.Configuration("ASKQL_EMBEDDING_STORE_DSN is required for the postgres embedding store")
		}
	default:
		return failure.Configuration("unsupported ASKQL_EMBEDDING_STORE %q", c.Embedding.Store)
	}
	if c.Embedding.SnapshotRetain < 0 {
		return failure.Configuration("ASKQL_EMBEDDING_SNAPSHOT_RETAIN must not be negative, got %d", c.Embedding.SnapshotRetain)
	}
	if c.Embedding.SnapshotKey != "" && !c.ObjectStore.Enabled {
		return failure.Configuration("ASKQL_EMBEDDING_SNAPSHOT_KEY requires ASKQL_OBJECTSTORE_ENABLED")
	}
	switch c.LLM.Backend {
	case "openai":
		if c.LLM.APIKey == "" && !c.LLM.AllowAnonymous {
			return failure.Configuration("ASKQL_LLM_API_KEY is required for the openai backend")
		}
	case "ollama":
	default:
		return failure.Configuration("unsupported ASKQL_LLM_BACKEND %q", c.LLM.Backend)
	}
	if c.LLM.BaseURL == "" {
		return failure.Configuration("ASKQL_LLM_BASE_URL is required")
	}
	if c.LLM.Model == "" {
		return failure.Configuration("ASKQL_LLM_MODEL is required")
	}
	if c.Exec.MaxRows < 1 {
		return failure.Configuration("ASKQL_EXEC_MAX_ROWS must be at least 1")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 150 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		DB: DBConfig{
			Driver:           "duckdb",
			DSN:              "",
			MaxOpenConns:     10,
			MaxIdleConns:     10,
			ConnMaxIdleTime:  5 * time.Minute,
			ConnMaxLifetime:  30 * time.Minute,
			StatementTimeout: 30 * time.Second,
		},
		Catalog: CatalogConfig{
			Source: "demo",
		},
		Retrieval: RetrievalConfig{
			Mode:             RetrievalModeRetrieval,
			TopK:             5,
			FallbackToFull:   true,
			IndexOnStartup:   true,
			IndexConcurrency: 4,
		},
		Embedding: EmbeddingConfig{
			Provider:       "hashing",
			BaseURL:        "http://localhost:11434",
			Model:          "all-minilm",
			Dimensions:     384,
			Timeout:        30 * time.Second,
			Store:          "memory",
			SnapshotRetain: 5,
		},
		LLM: LLMConfig{
			Backend:     "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "llama3.1:8b",
			Temperature: 0,
			MaxTokens:   500,
			Timeout:     120 * time.Second,
		},
		Exec: ExecConfig{
			MaxRows: 1000,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "askql",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.Retrieval.IndexConcurrency = 1
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
		cfg.Retrieval.FallbackToFull = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
