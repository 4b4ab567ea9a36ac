package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process configuration read from the environment and an
// optional .env file.
type Config struct {
	Port      string
	Debug     bool
	JWTSecret string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	MongoURI    string
	MongoDBName string

	RedisURL     string
	RedisChannel string

	TxMaxRetries   int
	TxRetryBackoff time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("PORT", "8080")
	v.SetDefault("DEBUG", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "traininghub")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "traininghub")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_CHANNEL", "traininghub.events")
	v.SetDefault("TX_MAX_RETRIES", 3)
	v.SetDefault("TX_RETRY_BACKOFF", 20*time.Millisecond)
	v.AutomaticEnv()

	cfg := &Config{
		Port:           v.GetString("PORT"),
		Debug:          v.GetBool("DEBUG"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		DBHost:         v.GetString("DB_HOST"),
		DBPort:         v.GetString("DB_PORT"),
		DBUser:         v.GetString("DB_USER"),
		DBPassword:     v.GetString("DB_PASSWORD"),
		DBName:         v.GetString("DB_NAME"),
		DBSSLMode:      v.GetString("DB_SSLMODE"),
		MongoURI:       v.GetString("MONGO_URI"),
		MongoDBName:    v.GetString("MONGO_DB_NAME"),
		RedisURL:       v.GetString("REDIS_URL"),
		RedisChannel:   v.GetString("REDIS_CHANNEL"),
		TxMaxRetries:   v.GetInt("TX_MAX_RETRIES"),
		TxRetryBackoff: v.GetDuration("TX_RETRY_BACKOFF"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.TxMaxRetries < 1 {
		return fmt.Errorf("config: TX_MAX_RETRIES must be at least 1, got %d", c.TxMaxRetries)
	}
	if c.TxRetryBackoff < 0 {
		return fmt.Errorf("config: TX_RETRY_BACKOFF must not be negative")
	}
	return nil
}

// PostgresDSN builds the gorm/postgres connection string. Sessions run in UTC.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}
