// Package redis provides Redis-backed stores, a distributed locker and a
// pub/sub event bus, so several engine replicas can share one durable queue.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "lattice:"

var _ ports.MutationStore = (*Store)(nil)

// Store implements ports.MutationStore using Redis.
// Records are JSON strings under <prefix>mutation:<id>; a sorted set scored by
// the mutation timestamp keeps List ordered.
type Store struct {
	client *backend.Client
	prefix string
}

// Option configures the stores in this package.
type Option func(*options)

type options struct {
	prefix string
}

// WithPrefix sets the key prefix (default "lattice:").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

func applyOptions(opts []Option) options {
	o := options{prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to a Redis server.
func Dial(addr, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New connects to addr and returns a mutation store on that connection.
func New(addr, password string, db int, opts ...Option) *Store {
	return NewFromClient(Dial(addr, password, db), opts...)
}

// NewFromClient creates a new Store using an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	o := applyOptions(opts)
	return &Store{client: client, prefix: o.prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + "mutation:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + "mutation-index"
}

// Save upserts the record and its index entry in one pipeline.
func (s *Store) Save(ctx context.Context, m domain.Mutation) error {
	if m.ID == "" {
		return domain.Invalid("id", "required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(m.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(m.Timestamp),
		Member: m.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save mutation to redis: %w", err)
	}
	return nil
}

// Load retrieves the mutation record.
func (s *Store) Load(ctx context.Context, id string) (*domain.Mutation, error) {
	val, err := s.client.Get(ctx, s.key(id)).Result()
	if err == backend.Nil {
		return nil, domain.NotFound("mutation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mutation from redis: %w", err)
	}

	var m domain.Mutation
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation: %w", err)
	}
	return &m, nil
}

// Delete removes the record and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete mutation from redis: %w", err)
	}
	return nil
}

// List returns every record ordered by timestamp, then id.
// Index entries whose record has vanished are pruned lazily.
func (s *Store) List(ctx context.Context) ([]domain.Mutation, error) {
	// Equal scores are ordered lexicographically by member, which is the id.
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations from redis: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Mutation{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mutations from redis: %w", err)
	}

	out := make([]domain.Mutation, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var m domain.Mutation
		if err := json.Unmarshal([]byte(str), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mutation %s: %w", ids[i], err)
		}
		out = append(out, m)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
