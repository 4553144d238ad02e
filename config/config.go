package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Режимы захвата речи абонента
const (
	CaptureModeRecording = "recording"
	CaptureModeSpeech    = "speech"
)

// Хранилища сессий звонков
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config содержит все настройки приложения
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Twilio       TwilioConfig       `mapstructure:"twilio"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Session      SessionConfig      `mapstructure:"session"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
	Resilience   ResilienceConfig   `mapstructure:"resilience"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig порты HTTP API, health и метрик
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	HealthPort      int           `mapstructure:"health_port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// GRPCConfig содержит настройки для gRPC сервера
type GRPCConfig struct {
	Port int `mapstructure:"port"`
}

// PostgresConfig содержит настройки для PostgreSQL
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN строка подключения для драйвера postgres
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig содержит настройки для Redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TwilioConfig настройки телефонии
type TwilioConfig struct {
	AccountSID     string `mapstructure:"account_sid"`
	AuthToken      string `mapstructure:"auth_token"`
	FromNumber     string `mapstructure:"from_number"`
	VerifiedNumber string `mapstructure:"verified_number"`
	WebhookBaseURL string `mapstructure:"webhook_base_url"`
	Voice          string `mapstructure:"voice"`
	CaptureMode    string `mapstructure:"capture_mode"`
}

// OpenAIConfig настройки языковой модели и распознавания речи
type OpenAIConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	BaseURL            string  `mapstructure:"base_url"`
	ChatModel          string  `mapstructure:"chat_model"`
	TranscriptionModel string  `mapstructure:"transcription_model"`
	Language           string  `mapstructure:"language"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
}

// SchedulerConfig настройки планировщика звонков
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	Concurrency        int           `mapstructure:"concurrency"`
	MinIntervalMinutes int           `mapstructure:"min_interval_minutes"`
}

// ConversationConfig ограничения диалога
type ConversationConfig struct {
	HistoryWindow int `mapstructure:"history_window"`
	MaxTurns      int `mapstructure:"max_turns"`
}

// SessionConfig хранилище сессий звонков
type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// SecretsConfig чтение секретов из AWS SSM Parameter Store
type SecretsConfig struct {
	SSMPrefix string `mapstructure:"ssm_prefix"`
}

// LogConfig уровень логирования
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig загружает настройки из .env, config.yaml и переменных окружения
func LoadConfig() (*Config, error) {
	// .env необязателен, переменные окружения процесса имеют приоритет
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Если файл конфигурации не найден, используем переменные окружения
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	loadFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Twilio.FromNumber = NormalizePhone(cfg.Twilio.FromNumber)
	cfg.Twilio.VerifiedNumber = NormalizePhone(cfg.Twilio.VerifiedNumber)
	cfg.Twilio.WebhookBaseURL = strings.TrimRight(cfg.Twilio.WebhookBaseURL, "/")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.health_port", 8100)
	v.SetDefault("server.metrics_port", 8200)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("grpc.port", 50051)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.username", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "voice_coach")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("twilio.voice", "Polly.Matthew-Neural")
	v.SetDefault("twilio.capture_mode", CaptureModeRecording)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-3.5-turbo")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.language", "en")
	v.SetDefault("openai.max_tokens", 80)
	v.SetDefault("openai.temperature", 0.7)

	v.SetDefault("scheduler.tick_interval", time.Minute)
	v.SetDefault("scheduler.concurrency", 4)
	v.SetDefault("scheduler.min_interval_minutes", 5)

	v.SetDefault("conversation.history_window", 6)
	v.SetDefault("conversation.max_turns", 8)

	v.SetDefault("session.backend", SessionBackendMemory)
	v.SetDefault("session.ttl", time.Hour)

	v.SetDefault("log.level", "info")

	setResilienceDefaults(v)
}

// loadFromEnv переопределяет значения из переменных окружения с историческими именами
func loadFromEnv(v *viper.Viper) {
	envString := map[string]string{
		"DB_HOST":               "postgres.host",
		"DB_USER":               "postgres.username",
		"DB_PASSWORD":           "postgres.password",
		"DB_NAME":               "postgres.dbname",
		"DB_SSLMODE":            "postgres.sslmode",
		"REDIS_PASSWORD":        "redis.password",
		"TWILIO_ACCOUNT_SID":    "twilio.account_sid",
		"TWILIO_AUTH_TOKEN":     "twilio.auth_token",
		"TWILIO_PHONE_NUMBER":   "twilio.from_number",
		"VERIFIED_PHONE_NUMBER": "twilio.verified_number",
		"WEBHOOK_BASE_URL":      "twilio.webhook_base_url",
		"CAPTURE_MODE":          "twilio.capture_mode",
		"OPENAI_API_KEY":        "openai.api_key",
		"OPENAI_BASE_URL":       "openai.base_url",
		"OPENAI_MODEL":          "openai.chat_model",
		"SESSION_BACKEND":       "session.backend",
		"SECRETS_SSM_PREFIX":    "secrets.ssm_prefix",
		"LOG_LEVEL":             "log.level",
	}
	for env, key := range envString {
		if value := os.Getenv(env); value != "" {
			v.Set(key, value)
		}
	}

	envInt := map[string]string{
		"DB_PORT":      "postgres.port",
		"GRPC_PORT":    "grpc.port",
		"HTTP_PORT":    "server.http_port",
		"HEALTH_PORT":  "server.health_port",
		"METRICS_PORT": "server.metrics_port",
	}
	for env, key := range envInt {
		if value := os.Getenv(env); value != "" {
			if n, err := strconv.Atoi(value); err == nil {
				v.Set(key, n)
			}
		}
	}

	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		redisPort := "6379"
		if port := os.Getenv("REDIS_PORT"); port != "" {
			redisPort = port
		}
		v.Set("redis.addr", redisHost+":"+redisPort)
	}
}

// Validate проверяет согласованность настроек, которые нельзя исправить значением по умолчанию
func (c *Config) Validate() error {
	var problems []string

	if c.Twilio.WebhookBaseURL == "" {
		problems = append(problems, "twilio.webhook_base_url is required")
	}
	switch c.Twilio.CaptureMode {
	case CaptureModeRecording, CaptureModeSpeech:
	default:
		problems = append(problems, fmt.Sprintf("twilio.capture_mode %q is not supported", c.Twilio.CaptureMode))
	}
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		problems = append(problems, fmt.Sprintf("session.backend %q is not supported", c.Session.Backend))
	}
	if c.Scheduler.TickInterval <= 0 {
		problems = append(problems, "scheduler.tick_interval must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		problems = append(problems, "scheduler.concurrency must be at least 1")
	}
	if c.Scheduler.MinIntervalMinutes < 1 {
		problems = append(problems, "scheduler.min_interval_minutes must be at least 1")
	}
	if c.Conversation.MaxTurns < 1 {
		problems = append(problems, "conversation.max_turns must be at least 1")
	}
	if c.Conversation.HistoryWindow < 1 {
		problems = append(problems, "conversation.history_window must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NormalizePhone убирает пробелы и добавляет код +1, если код страны не указан
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	if !strings.HasPrefix(phone, "+") {
		phone = "+1" + phone
	}
	return phone
}
