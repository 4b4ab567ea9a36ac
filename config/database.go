package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"traininghub-backend/internal/repository"
)

type Database struct {
	PG    *gorm.DB
	Mongo *mongo.Database
	Redis *redis.Client // nil when REDIS_URL is empty
}

func ConnectDB(ctx context.Context, cfg *Config) (*Database, error) {
	// 1. PostgreSQL Connection
	gormLogLevel := logger.Warn
	if cfg.Debug {
		gormLogLevel = logger.Info
	}
	pgDB, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLogLevel),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	// 2. MongoDB Connection
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := mongoClient.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := &Database{
		PG:    pgDB,
		Mongo: mongoClient.Database(cfg.MongoDBName),
	}

	// 3. Redis (optional)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(connectCtx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		db.Redis = client
	}

	slog.Info("connected to data stores", "postgres", cfg.DBHost, "mongodb", cfg.MongoDBName, "redis", db.Redis != nil)
	return db, nil
}

// Close releases every connection opened by ConnectDB.
func (d *Database) Close(ctx context.Context) {
	if sqlDB, err := d.PG.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if d.Mongo != nil {
		_ = d.Mongo.Client().Disconnect(ctx)
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		return err
	}
	slog.Info("database migration completed")
	return nil
}
