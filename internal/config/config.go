package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Interview InterviewConfig `mapstructure:"interview"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Share     ShareConfig     `mapstructure:"share"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 描述 JWT 密钥位置与有效期。
type AuthConfig struct {
	PrivateKeyPath  string        `mapstructure:"private_key_path"`
	PublicKeyPath   string        `mapstructure:"public_key_path"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// LLMConfig 描述生成模型的访问方式。
type LLMConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	QuestionModel     string  `mapstructure:"question_model"`
	ScoringModel      string  `mapstructure:"scoring_model"`
	ReportModel       string  `mapstructure:"report_model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// InterviewConfig 控制面试编排的时间预算与限流。
type InterviewConfig struct {
	CompletionTimeout   time.Duration `mapstructure:"completion_timeout"`
	RecheckInterval     time.Duration `mapstructure:"recheck_interval"`
	WatchSpec           string        `mapstructure:"watch_spec"`
	GenerationPerHour   int           `mapstructure:"generation_per_hour"`
	ResumeTextLimit     int           `mapstructure:"resume_text_limit"`
	MaxAnswerRunes      int           `mapstructure:"max_answer_runes"`
	MaxQuestionsPerSess int           `mapstructure:"max_questions_per_session"`
}

// ScoringConfig 决定评分任务的执行方式：queue 走 asynq，inline 走进程内协程池。
type ScoringConfig struct {
	Mode     string `mapstructure:"mode"`
	PoolSize int    `mapstructure:"pool_size"`
	MaxRetry int    `mapstructure:"max_retry"`
}

// ShareConfig 包含分享链接签名密钥与对外地址。
type ShareConfig struct {
	Secret        string `mapstructure:"secret"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// WorkerConfig 控制 asynq worker 的并发与 PDF 渲染。
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	ChromiumPath  string        `mapstructure:"chromium_path"`
	PDFTimeout    time.Duration `mapstructure:"pdf_timeout"`
	ExportLinkTTL time.Duration `mapstructure:"export_link_ttl"`
}

const (
	ScoringModeQueue  = "queue"
	ScoringModeInline = "inline"
)

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "mockview")
	v.SetDefault("database.user", "mockview")
	v.SetDefault("database.password", "mockview")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "mockview")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 24*time.Hour)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.question_model", "gpt-4o-mini")
	v.SetDefault("llm.scoring_model", "gpt-4o-mini")
	v.SetDefault("llm.report_model", "gpt-4o")
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.burst", 10)
	v.SetDefault("interview.completion_timeout", 30*time.Second)
	v.SetDefault("interview.recheck_interval", 2*time.Second)
	v.SetDefault("interview.watch_spec", "@every 30s")
	v.SetDefault("interview.generation_per_hour", 120)
	v.SetDefault("interview.resume_text_limit", 6000)
	v.SetDefault("interview.max_answer_runes", 8000)
	v.SetDefault("interview.max_questions_per_session", 20)
	v.SetDefault("scoring.mode", ScoringModeQueue)
	v.SetDefault("scoring.pool_size", 4)
	v.SetDefault("scoring.max_retry", 3)
	v.SetDefault("share.public_base_url", "http://localhost:3000")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.pdf_timeout", 30*time.Second)
	v.SetDefault("worker.export_link_ttl", 5*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                            "API_PORT",
		"api.allowed_origins":                 "API_ALLOWED_ORIGINS",
		"database.host":                       "DATABASE_HOST",
		"database.port":                       "DATABASE_PORT",
		"database.name":                       "POSTGRES_DB",
		"database.user":                       "POSTGRES_USER",
		"database.password":                   "POSTGRES_PASSWORD",
		"database.sslmode":                    "DATABASE_SSLMODE",
		"redis.host":                          "REDIS_HOST",
		"redis.port":                          "REDIS_PORT",
		"minio.endpoint":                      "MINIO_ENDPOINT",
		"minio.public_endpoint":               "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":                 "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":             "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                       "MINIO_USE_SSL",
		"minio.bucket":                        "MINIO_BUCKET",
		"minio.region":                        "MINIO_REGION",
		"minio.auto_create_bucket":            "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":               "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":                "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":               "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":              "JWT_REFRESH_TOKEN_TTL",
		"llm.api_key":                         "LLM_API_KEY",
		"llm.base_url":                        "LLM_BASE_URL",
		"llm.question_model":                  "LLM_QUESTION_MODEL",
		"llm.scoring_model":                   "LLM_SCORING_MODEL",
		"llm.report_model":                    "LLM_REPORT_MODEL",
		"llm.requests_per_second":             "LLM_REQUESTS_PER_SECOND",
		"llm.burst":                           "LLM_BURST",
		"interview.completion_timeout":        "INTERVIEW_COMPLETION_TIMEOUT",
		"interview.recheck_interval":          "INTERVIEW_RECHECK_INTERVAL",
		"interview.watch_spec":                "INTERVIEW_WATCH_SPEC",
		"interview.generation_per_hour":       "INTERVIEW_GENERATION_PER_HOUR",
		"interview.resume_text_limit":         "INTERVIEW_RESUME_TEXT_LIMIT",
		"interview.max_answer_runes":          "INTERVIEW_MAX_ANSWER_RUNES",
		"interview.max_questions_per_session": "INTERVIEW_MAX_QUESTIONS",
		"scoring.mode":                        "SCORING_MODE",
		"scoring.pool_size":                   "SCORING_POOL_SIZE",
		"scoring.max_retry":                   "SCORING_MAX_RETRY",
		"share.secret":                        "SHARE_SECRET",
		"share.public_base_url":               "SHARE_PUBLIC_BASE_URL",
		"worker.concurrency":                  "WORKER_CONCURRENCY",
		"worker.chromium_path":                "WORKER_CHROMIUM_PATH",
		"worker.pdf_timeout":                  "WORKER_PDF_TIMEOUT",
		"worker.export_link_ttl":              "WORKER_EXPORT_LINK_TTL",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.LLM.APIKey == "" {
		return errors.New("llm api key is required")
	}
	if cfg.LLM.RequestsPerSecond <= 0 {
		return errors.New("llm requests per second must be positive")
	}
	if cfg.Interview.CompletionTimeout <= 0 {
		return errors.New("interview completion timeout must be positive")
	}
	if cfg.Interview.RecheckInterval <= 0 {
		return errors.New("interview recheck interval must be positive")
	}
	switch cfg.Scoring.Mode {
	case ScoringModeQueue, ScoringModeInline:
	default:
		return fmt.Errorf("unknown scoring mode %q", cfg.Scoring.Mode)
	}
	if cfg.Scoring.PoolSize <= 0 {
		return errors.New("scoring pool size must be positive")
	}
	if len(cfg.Share.Secret) < 32 {
		return errors.New("share secret must be at least 32 bytes")
	}
	if cfg.Share.PublicBaseURL == "" {
		return errors.New("share public base url is required")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
