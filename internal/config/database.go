package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prefeitura-rio/app-resume-cache/internal/logging"
	"github.com/prefeitura-rio/app-resume-cache/internal/redisclient"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
)

var (
	// MongoDB client
	MongoDB *mongo.Database
	// Redis client
	Redis *redisclient.Client
)

// InitMongoDB connects to the remote the sync queue replays into. A failed
// ping is logged but not fatal; the connectivity probe keeps the engine
// offline until the server answers.
func InitMongoDB(ctx context.Context, cfg *Config) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMonitor(otelmongo.NewMonitor()).
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(5 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logging.Logger.Warn("MongoDB not reachable, starting offline",
			zap.String("uri", maskMongoURI(cfg.MongoURI)),
			zap.Error(err))
	} else {
		logging.Logger.Info("connected to MongoDB",
			zap.String("uri", maskMongoURI(cfg.MongoURI)),
			zap.String("database", cfg.MongoDatabase))
	}

	MongoDB = client.Database(cfg.MongoDatabase)
	return MongoDB, nil
}

// InitRedis initializes the Redis connection backing the failed log. A
// comma-separated REDIS_URI selects cluster mode.
func InitRedis(ctx context.Context, cfg *Config) (*redisclient.Client, error) {
	var client *redisclient.Client
	if addrs := strings.Split(cfg.RedisURI, ","); len(addrs) > 1 {
		client = redisclient.NewClusterClient(redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        addrs,
			Password:     cfg.RedisPassword,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}))
	} else {
		client = redisclient.NewClient(redis.NewClient(&redis.Options{
			Addr:         cfg.RedisURI,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
			MinIdleConns: 2,
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisURI, err)
	}

	logging.Logger.Info("connected to Redis", zap.String("uri", cfg.RedisURI))
	Redis = client
	return client, nil
}

// maskMongoURI masks credentials in a MongoDB URI
func maskMongoURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	at := strings.LastIndex(uri, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return uri
	}
	return uri[:schemeEnd+3] + "***:***" + uri[at:]
}
