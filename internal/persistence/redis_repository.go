package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a StatusStore for deployments that already run Redis. Status and the
// active set are JSON strings; closed trades live in a sorted set scored by exit time.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg models.StoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

func (s *RedisStore) SaveStatus(ctx context.Context, status *models.BotStatus) error {
	return s.setJSON(ctx, "bot_status", status)
}

func (s *RedisStore) LoadStatus(ctx context.Context) (*models.BotStatus, error) {
	var status models.BotStatus
	found, err := s.getJSON(ctx, "bot_status", &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

func (s *RedisStore) SaveActiveTrades(ctx context.Context, positions []models.Position) error {
	if positions == nil {
		positions = []models.Position{}
	}
	return s.setJSON(ctx, "active_trades", positions)
}

func (s *RedisStore) LoadActiveTrades(ctx context.Context) ([]models.Position, error) {
	positions := []models.Position{}
	if _, err := s.getJSON(ctx, "active_trades", &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *RedisStore) AppendClosedTrade(ctx context.Context, trade models.ClosedTrade) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.key("closed_trades"), redis.Z{
		Score:  float64(trade.ExitTime.UnixMilli()),
		Member: data,
	}).Err()
}

func (s *RedisStore) ClosedTrades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key("closed_trades"), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	trades := make([]models.ClosedTrade, 0, len(members))
	for _, m := range members {
		var trade models.ClosedTrade
		if err := json.Unmarshal([]byte(m), &trade); err != nil {
			return nil, fmt.Errorf("decode closed trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) setJSON(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(name), data, 0).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, name string, v any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}
