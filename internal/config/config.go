// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Extract       ExtractConfig       `mapstructure:"extract"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Prompt        PromptConfig        `mapstructure:"prompt"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ExtractConfig 存储文本提取相关的配置。
// provider 可选 "tika"（外部 Tika 服务）或 "local"（进程内 PDF 解析）。
type ExtractConfig struct {
	Provider      string `mapstructure:"provider"`
	TikaServerURL string `mapstructure:"tika_server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// provider 可选 "stub"（确定性伪向量，用于测试与离线环境）或 "openai"（OpenAI 兼容 API）。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
// provider 可选 "stub"、"openai"（OpenAI 兼容 API）或 "ollama"（本地模型）。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Ollama     OllamaConfig        `mapstructure:"ollama"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// OllamaConfig 存储 Ollama 本地模型服务的配置。
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IngestConfig 存储文档切块相关的配置。
type IngestConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// RetrievalConfig 存储混合检索相关的阈值配置。
// 以显式配置对象注入检索服务，避免散落的包级常量。
type RetrievalConfig struct {
	DefaultTopK        int     `mapstructure:"default_top_k"`
	MaxTopK            int     `mapstructure:"max_top_k"`
	LexicalBaseScore   float64 `mapstructure:"lexical_base_score"`
	HybridBoost        float64 `mapstructure:"hybrid_boost"`
	ScoreDropThreshold float64 `mapstructure:"score_drop_threshold"`
	FallbackScore      float64 `mapstructure:"fallback_score"`
	LexicalLimit       int     `mapstructure:"lexical_limit"`
}

// PromptConfig 存储提示词组装相关的配置。
type PromptConfig struct {
	MaxChunkChars       int     `mapstructure:"max_chunk_chars"`
	MaxContextChars     int     `mapstructure:"max_context_chars"`
	SimilarScoreRange   float64 `mapstructure:"similar_score_range"`
	SimilarContextRatio float64 `mapstructure:"similar_context_ratio"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	ApplyDefaults(&Conf)
}

// ApplyDefaults 为未填写的核心参数补充默认值，保证行为可复现。
func ApplyDefaults(c *Config) {
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 900
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		c.Ingest.ChunkOverlap = 100
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Retrieval.DefaultTopK <= 0 {
		c.Retrieval.DefaultTopK = 4
	}
	if c.Retrieval.MaxTopK <= 0 {
		c.Retrieval.MaxTopK = 20
	}
	if c.Retrieval.LexicalBaseScore <= 0 {
		c.Retrieval.LexicalBaseScore = 0.35
	}
	if c.Retrieval.HybridBoost <= 0 {
		c.Retrieval.HybridBoost = 0.2
	}
	if c.Retrieval.ScoreDropThreshold <= 0 {
		c.Retrieval.ScoreDropThreshold = 0.15
	}
	if c.Retrieval.FallbackScore <= 0 {
		c.Retrieval.FallbackScore = 0.5
	}
	if c.Retrieval.LexicalLimit <= 0 {
		c.Retrieval.LexicalLimit = 20
	}
	if c.Prompt.MaxChunkChars <= 0 {
		c.Prompt.MaxChunkChars = 2000
	}
	if c.Prompt.MaxContextChars <= 0 {
		c.Prompt.MaxContextChars = 8000
	}
	if c.Prompt.SimilarScoreRange <= 0 {
		c.Prompt.SimilarScoreRange = 0.1
	}
	if c.Prompt.SimilarContextRatio <= 0 {
		c.Prompt.SimilarContextRatio = 0.6
	}
}
