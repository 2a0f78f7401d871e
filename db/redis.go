// db/redis.go
package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
)

var RedisClient *redis.Client

func InitRedis() error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:         viper.GetString("redis.addr"),
		Password:     viper.GetString("redis.password"),
		DB:           viper.GetInt("redis.db"),
		DialTimeout:  viper.GetDuration("redis.dialTimeout"),
		ReadTimeout:  viper.GetDuration("redis.readTimeout"),
		WriteTimeout: viper.GetDuration("redis.writeTimeout"),
		PoolSize:     viper.GetInt("redis.poolSize"),
		PoolTimeout:  viper.GetDuration("redis.poolTimeout"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", viper.GetString("redis.addr")))
	return nil
}

func CloseRedis() {
	if RedisClient == nil {
		return
	}
	if err := RedisClient.Close(); err != nil {
		logger.Error("Error closing Redis connection", zap.Error(err))
	}
}

// RateLimit reports whether the caller identified by bucket stays inside
// limit requests per window. The window is a sorted set scored by arrival
// time and is shared by every API instance; the issuer layers its own
// per-subject window on top.
func RateLimit(ctx context.Context, bucket string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + bucket
	now := time.Now().UnixNano()
	horizon := now - window.Nanoseconds()

	pipe := RedisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(horizon, 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	count := countCmd.Val()
	allowed := count <= int64(limit)
	if !allowed {
		logger.Debug("Perimeter rate limit hit",
			zap.String("bucket", bucket),
			zap.Int64("count", count),
			zap.Int("limit", limit))
	}
	return allowed, nil
}

// LockResource takes a best-effort distributed lock so periodic maintenance
// (audit retention, consistency sweeps) runs on one instance at a time. The
// lock value records when it was taken, which helps when a stuck holder
// needs to be diagnosed.
func LockResource(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	acquired, err := RedisClient.SetNX(ctx, "lock:"+name, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return acquired, nil
}

func UnlockResource(ctx context.Context, name string) error {
	if err := RedisClient.Del(ctx, "lock:"+name).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}
