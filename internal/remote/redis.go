package remote

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/examprep/internal/model"
)

const redisKeyPrefix = "examprep:progress:"

// Redis keeps one hash per identity, with a field per test.
type Redis struct {
	client *redis.Client
}

// NewRedis connects using a redis:// URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(identity string) string {
	return redisKeyPrefix + identity
}

// Save writes the snapshot into the identity's hash.
func (r *Redis) Save(ctx context.Context, identity string, snap model.ProgressSnapshot) error {
	data, err := encodeSnapshot(identity, snap)
	if err != nil {
		return err
	}
	if err := r.client.HSet(ctx, redisKey(identity), snap.TestID, data).Err(); err != nil {
		return fmt.Errorf("hset snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot for identity and test, or nil if none exists.
func (r *Redis) Load(ctx context.Context, identity, testID string) (*model.ProgressSnapshot, error) {
	data, err := r.client.HGet(ctx, redisKey(identity), testID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// LoadAll returns every snapshot stored for identity.
func (r *Redis) LoadAll(ctx context.Context, identity string) ([]model.ProgressSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(identity)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall snapshots: %w", err)
	}
	snaps := make([]model.ProgressSnapshot, 0, len(fields))
	for _, data := range fields {
		snap, err := decodeSnapshot([]byte(data))
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	slices.SortFunc(snaps, func(a, b model.ProgressSnapshot) int {
		return strings.Compare(a.TestID, b.TestID)
	})
	return snaps, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
