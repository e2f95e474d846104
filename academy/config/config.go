package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBSSLMode  string
	JWTSecret  string
	Port       string
	LogDir     string

	LLMGatewayURL string
	LLMAPIKey     string
	LLMModel      string

	RedisURL string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	SendGridAPIKey   string
	EmailFromName    string
	EmailFromAddress string
	EmailFunctionURL string

	SequenceInterval  time.Duration
	SequenceLease     time.Duration
	SequenceBatchSize int

	DefaultEmailLimit    int
	DefaultAICreditLimit int
	ChatRateLimit        int
	ChatRateWindow       time.Duration
	StreamMaxRetries     int

	ModesFile       string
	NoticesFile     string
	NoticesLocale   string
	ProcessorSecret string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PORT", "8000")
	v.SetDefault("LOG_DIR", "./logs")
	v.SetDefault("LLM_GATEWAY_URL", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("MINIO_BUCKET", "academy-reports")
	v.SetDefault("EMAIL_FROM_NAME", "Academy")
	v.SetDefault("SEQUENCE_INTERVAL", "5m")
	v.SetDefault("SEQUENCE_LEASE", "2m")
	v.SetDefault("SEQUENCE_BATCH_SIZE", 100)
	v.SetDefault("DEFAULT_EMAIL_LIMIT", 1000)
	v.SetDefault("DEFAULT_AI_CREDIT_LIMIT", 500)
	v.SetDefault("CHAT_RATE_LIMIT", 20)
	v.SetDefault("CHAT_RATE_WINDOW", "1m")
	v.SetDefault("STREAM_MAX_RETRIES", 3)
}

// LoadConfig reads .env (if any), then config.yaml (if any), then the process
// environment. Environment variables win.
func LoadConfig() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// a broken config.yaml should not silently fall back to defaults
			panic("config: reading config.yaml: " + err.Error())
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),
		JWTSecret:  v.GetString("JWT_SECRET"),
		Port:       v.GetString("PORT"),
		LogDir:     v.GetString("LOG_DIR"),

		LLMGatewayURL: v.GetString("LLM_GATEWAY_URL"),
		LLMAPIKey:     v.GetString("LLM_API_KEY"),
		LLMModel:      v.GetString("LLM_MODEL"),

		RedisURL: v.GetString("REDIS_URL"),

		MinIOEndpoint:  v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey: v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey: v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:    v.GetString("MINIO_BUCKET"),
		MinIOUseSSL:    v.GetBool("MINIO_USE_SSL"),

		SendGridAPIKey:   v.GetString("SENDGRID_API_KEY"),
		EmailFromName:    v.GetString("EMAIL_FROM_NAME"),
		EmailFromAddress: v.GetString("EMAIL_FROM_ADDRESS"),
		EmailFunctionURL: v.GetString("EMAIL_FUNCTION_URL"),

		SequenceInterval:  v.GetDuration("SEQUENCE_INTERVAL"),
		SequenceLease:     v.GetDuration("SEQUENCE_LEASE"),
		SequenceBatchSize: v.GetInt("SEQUENCE_BATCH_SIZE"),

		DefaultEmailLimit:    v.GetInt("DEFAULT_EMAIL_LIMIT"),
		DefaultAICreditLimit: v.GetInt("DEFAULT_AI_CREDIT_LIMIT"),
		ChatRateLimit:        v.GetInt("CHAT_RATE_LIMIT"),
		ChatRateWindow:       v.GetDuration("CHAT_RATE_WINDOW"),
		StreamMaxRetries:     v.GetInt("STREAM_MAX_RETRIES"),

		ModesFile:       v.GetString("MODES_FILE"),
		NoticesFile:     v.GetString("NOTICES_FILE"),
		NoticesLocale:   v.GetString("NOTICES_LOCALE"),
		ProcessorSecret: v.GetString("PROCESSOR_SECRET"),
	}
}
