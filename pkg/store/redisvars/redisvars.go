// Package redisvars keeps durable variable scopes in Redis hashes, one hash
// per scope reference.
package redisvars

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/devicelab-dev/apiflow/pkg/vars"
)

// DefaultPrefix namespaces the keys written by the backend.
const DefaultPrefix = "apiflow"

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Backend implements vars.Backend.
type Backend struct {
	client *redis.Client
	prefix string
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

// Close closes the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Key returns the hash key holding ref.
func (b *Backend) Key(ref vars.ScopeRef) string {
	return fmt.Sprintf("%s:vars:%s:%s", b.prefix, ref.Scope, ref.ID)
}

// Load reads every variable of ref.
func (b *Backend) Load(ctx context.Context, ref vars.ScopeRef) (map[string]interface{}, error) {
	raw, err := b.client.HGetAll(ctx, b.Key(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("load variables %s: %w", ref, err)
	}
	out := make(map[string]interface{}, len(raw))
	for name, data := range raw {
		var v interface{}
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode variable %s in %s: %w", name, ref, err)
		}
		out[name] = v
	}
	return out, nil
}

// Apply writes changes in one MULTI/EXEC block: an HSET for the values
// and an HDEL for the tombstones.
func (b *Backend) Apply(ctx context.Context, ref vars.ScopeRef, changes []vars.Change) error {
	if len(changes) == 0 {
		return nil
	}
	var sets []interface{}
	var dels []string
	for _, c := range changes {
		if c.Deleted {
			dels = append(dels, c.Name)
			continue
		}
		data, err := json.Marshal(c.Value)
		if err != nil {
			return fmt.Errorf("encode variable %s: %w", c.Name, err)
		}
		sets = append(sets, c.Name, string(data))
	}

	key := b.Key(ref)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(sets) > 0 {
			pipe.HSet(ctx, key, sets...)
		}
		if len(dels) > 0 {
			pipe.HDel(ctx, key, dels...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply variables %s: %w", ref, err)
	}
	return nil
}

var _ vars.Backend = (*Backend)(nil)
