package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adaxion/LibMythicPlus/internal/model"
	"github.com/go-redis/redis/v8"
)

var ErrCacheMiss = errors.New("data not found in Redis")

// HistoryLimit is the number of finished runs kept per character.
const HistoryLimit = 50

const keyPrefix = "mythicplus"

type RedisClient struct {
	Client redis.UniversalClient
}

// NewRedisClient creates a Redis client for one node or a cluster and checks the connection.
func NewRedisClient(addrs []string, password string, db int) (*RedisClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}

	return &RedisClient{Client: client}, nil
}

// Ping tests connectivity to the Redis server.
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.Client.Ping(ctx).Err()
}

func activeKey(characterID string) string {
	return fmt.Sprintf("%s:%s:active", keyPrefix, characterID)
}

func historyKey(characterID string) string {
	return fmt.Sprintf("%s:%s:history", keyPrefix, characterID)
}

// LoadActive retrieves the in-progress run of a character.
func (rc *RedisClient) LoadActive(ctx context.Context, characterID string) (*model.Session, error) {
	data, err := rc.Client.Get(ctx, activeKey(characterID)).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	} else if err != nil {
		return nil, err
	}

	session := &model.Session{}
	if err := json.Unmarshal([]byte(data), session); err != nil {
		return nil, fmt.Errorf("error unmarshalling session data: %w", err)
	}

	return session, nil
}

// SaveActive stores the in-progress run of a character. It does not expire.
func (rc *RedisClient) SaveActive(ctx context.Context, characterID string, session model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("error marshalling session data: %w", err)
	}

	return rc.Client.Set(ctx, activeKey(characterID), data, 0).Err()
}

// FinishActive clears the in-progress run and records the finished one in the history,
// in one transaction.
func (rc *RedisClient) FinishActive(ctx context.Context, characterID string, session model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("error marshalling session data: %w", err)
	}

	pipe := rc.Client.TxPipeline()
	pipe.Del(ctx, activeKey(characterID))
	pipe.LPush(ctx, historyKey(characterID), data)
	pipe.LTrim(ctx, historyKey(characterID), 0, HistoryLimit-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error finishing session in Redis: %w", err)
	}

	return nil
}

// History returns up to limit finished runs of a character, newest first.
func (rc *RedisClient) History(ctx context.Context, characterID string, limit int) ([]model.Session, error) {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}

	entries, err := rc.Client.LRange(ctx, historyKey(characterID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]model.Session, 0, len(entries))
	for _, entry := range entries {
		var session model.Session
		if err := json.Unmarshal([]byte(entry), &session); err != nil {
			return nil, fmt.Errorf("error unmarshalling history entry: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}
