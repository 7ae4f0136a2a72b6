// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 RESUMECAST_EMBEDDING_BASE_URL。
const EnvPrefix = "RESUMECAST"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Search        SearchConfig        `mapstructure:"search"`
	JWT           JWTConfig           `mapstructure:"jwt"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 PostgreSQL（pgvector）的配置。
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// BrokerList 将逗号分隔的 broker 地址拆分为切片。
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// 向量存储后端
const (
	BackendPostgres      = "postgres"
	BackendElasticsearch = "elasticsearch"
)

// VectorStoreConfig 选择向量存储后端以及距离度量。
type VectorStoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Distance string `mapstructure:"distance"`
}

// RateLimitConfig 描述某一类流量访问 embedding 服务的限流参数。
// RPS <= 0 表示不限流。
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// EmbeddingRateLimits 按流量类型区分索引（worker）和查询（search）的限流。
type EmbeddingRateLimits struct {
	Indexing RateLimitConfig `mapstructure:"indexing"`
	Query    RateLimitConfig `mapstructure:"query"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	BaseURL       string              `mapstructure:"base_url"`
	Model         string              `mapstructure:"model"`
	Dimensions    int                 `mapstructure:"dimensions"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	MaxInputChars int                 `mapstructure:"max_input_chars"`
	ContentWeight float64             `mapstructure:"content_weight"`
	RateLimits    EmbeddingRateLimits `mapstructure:"rate_limits"`
}

// QueueConfig 存储 embedding 任务队列的重试与保留策略。
type QueueConfig struct {
	KeyPrefix     string        `mapstructure:"key_prefix"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	KeepCompleted int           `mapstructure:"keep_completed"`
	KeepFailed    int           `mapstructure:"keep_failed"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

// WorkerConfig 控制是否在当前进程内启动消费者以及并发数。
type WorkerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// SearchConfig 存储语义搜索的默认参数。
type SearchConfig struct {
	DefaultLimit         int     `mapstructure:"default_limit"`
	MaxLimit             int     `mapstructure:"max_limit"`
	DefaultMinSimilarity float64 `mapstructure:"default_min_similarity"`
	PreviewLength        int     `mapstructure:"preview_length"`
	RejectModelMismatch  bool    `mapstructure:"reject_model_mismatch"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("database.postgres.dsn", "host=localhost user=postgres password=postgres dbname=resumecast port=5432 sslmode=disable")
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.max_open_conns", 100)
	v.SetDefault("database.postgres.conn_max_lifetime", time.Hour)
	v.SetDefault("database.postgres.auto_migrate", true)
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "resume-embeddings")
	v.SetDefault("kafka.group_id", "resumecast-embedding-worker")

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_name", "resume_embeddings")

	v.SetDefault("vector_store.backend", BackendPostgres)
	v.SetDefault("vector_store.distance", "cosine")

	v.SetDefault("embedding.base_url", "http://localhost:5000")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.max_input_chars", 6000)
	v.SetDefault("embedding.content_weight", 0.7)
	v.SetDefault("embedding.rate_limits.indexing.rps", 0)
	v.SetDefault("embedding.rate_limits.indexing.burst", 1)
	v.SetDefault("embedding.rate_limits.query.rps", 0)
	v.SetDefault("embedding.rate_limits.query.burst", 1)

	v.SetDefault("queue.key_prefix", "embeddings")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", 2*time.Second)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 500)
	v.SetDefault("queue.poll_interval", time.Second)

	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 1)

	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 100)
	v.SetDefault("search.default_min_similarity", 0.4)
	v.SetDefault("search.preview_length", 500)
	v.SetDefault("search.reject_model_mismatch", true)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)
}

// Load 读取 .env（若存在）和 YAML 配置文件，并应用环境变量覆盖。
// configPath 为空或文件不存在时只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置之间的一致性。
func (c *Config) Validate() error {
	var errs []error
	switch c.VectorStore.Backend {
	case BackendPostgres:
	case BackendElasticsearch:
		if c.VectorStore.Distance != "cosine" {
			errs = append(errs, fmt.Errorf("elasticsearch 后端仅支持 cosine 距离, got %q", c.VectorStore.Distance))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的向量存储后端: %q", c.VectorStore.Backend))
	}
	switch c.VectorStore.Distance {
	case "cosine", "l2", "inner_product":
	default:
		errs = append(errs, fmt.Errorf("未知的距离度量: %q", c.VectorStore.Distance))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, errors.New("embedding.dimensions 必须大于 0"))
	}
	if c.Embedding.ContentWeight < 0 || c.Embedding.ContentWeight > 1 {
		errs = append(errs, fmt.Errorf("embedding.content_weight 必须在 [0,1] 之间, got %v", c.Embedding.ContentWeight))
	}
	if c.Embedding.MaxInputChars <= 0 {
		errs = append(errs, errors.New("embedding.max_input_chars 必须大于 0"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts 至少为 1"))
	}
	if c.Queue.BackoffBase <= 0 {
		errs = append(errs, errors.New("queue.backoff_base 必须大于 0"))
	}
	if c.Search.MaxLimit < 1 || c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		errs = append(errs, fmt.Errorf("search.default_limit/max_limit 配置无效: %d/%d", c.Search.DefaultLimit, c.Search.MaxLimit))
	}
	if c.Search.DefaultMinSimilarity < 0 || c.Search.DefaultMinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("search.default_min_similarity 必须在 [0,1] 之间, got %v", c.Search.DefaultMinSimilarity))
	}
	if c.Worker.Concurrency < 1 {
		c.Worker.Concurrency = 1
	}
	if len(errs) > 0 {
		return fmt.Errorf("配置校验失败: %w", errors.Join(errs...))
	}
	return nil
}
