package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore snapshots the cluster catalog to Redis so a restarted control
// plane can rehydrate its federation instead of waiting for every cluster to
// re-register. Clusters are stored as JSON under a key prefix with a set
// index of known ids.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig configures the snapshot store.
type RedisStoreConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	// KeyPrefix defaults to "godel:federation:".
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "godel:federation:"
	}

	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests with
// miniredis.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "godel:federation:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) clusterKey(id string) string {
	return s.keyPrefix + "cluster:" + id
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "clusters"
}

// Save persists one cluster and adds it to the index.
func (s *RedisStore) Save(ctx context.Context, c *Cluster) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal cluster %s: %w", c.ID, err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.clusterKey(c.ID), data, 0)
	pipe.SAdd(ctx, s.indexKey(), c.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save cluster %s: %w", c.ID, err)
	}
	return nil
}

// Delete removes one cluster and its index entry.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.clusterKey(id))
	pipe.SRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete cluster %s: %w", id, err)
	}
	return nil
}

// Load returns every snapshotted cluster. Index entries whose value has
// disappeared are skipped.
func (s *RedisStore) Load(ctx context.Context) ([]*Cluster, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster index: %w", err)
	}

	clusters := make([]*Cluster, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, s.clusterKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cluster %s: %w", id, err)
		}
		var c Cluster
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cluster %s: %w", id, err)
		}
		clusters = append(clusters, &c)
	}
	return clusters, nil
}
