package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const redisUpdateRetries = 10

// RedisStore keeps sessions as JSON values with a TTL so several service
// instances can share them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects using a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return NewRedisStoreWithClient(redis.NewClient(opts)), nil
}

func NewRedisStoreWithClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c, prefix: "ems:session:"}
}

// Ping checks connectivity at startup.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(id string) string { return r.prefix + id }

func decode(id string, raw []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	s.ID = id
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return decode(id, raw)
}

func (r *RedisStore) Put(ctx context.Context, id string, s *Session, ttl time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := r.client.Set(ctx, r.key(id), raw, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Update uses WATCH/MULTI and retries when another writer touched the key.
func (r *RedisStore) Update(ctx context.Context, id string, ttl time.Duration, fn func(*Session) error) error {
	key := r.key(id)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "redis get")
		}
		s, err := decode(id, raw)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		out, err := json.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "encode session")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}
	for i := 0; i < redisUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Newf("session update: too many concurrent writers on %s", id)
}
