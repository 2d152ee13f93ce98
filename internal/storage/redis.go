package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/worldping/internal/report"
	"github.com/worldping/internal/types"
)

const (
	redisSnapshotKey = "worldping:snapshot"
	redisRankingKey  = "worldping:ranking"
)

// RedisStorage stores the snapshot JSON under worldping:snapshot and the
// ranked records as a list of "<world> <latency>" entries under
// worldping:ranking.
type RedisStorage struct {
	client *redis.Client
}

func NewRedisStorage(addr string) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStorage{client: client}, nil
}

func (r *RedisStorage) Save(ctx context.Context, snapshot *types.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entries := make([]interface{}, 0, len(snapshot.Results))
	for _, result := range snapshot.Results {
		entries = append(entries, fmt.Sprintf("%d %s", result.WorldID, report.FormatLatency(result.AveragePing)))
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSnapshotKey, data, 0)
		pipe.Del(ctx, redisRankingKey)
		if len(entries) > 0 {
			pipe.RPush(ctx, redisRankingKey, entries...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}

	return nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
