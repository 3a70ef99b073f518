package cachemanager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goforj/cachemanager/cachecore"
)

// RedisClient captures the subset of redis.Client used by the backend.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SInter(ctx context.Context, keys ...string) *redis.StringSliceCmd
	SUnion(ctx context.Context, keys ...string) *redis.StringSliceCmd
}

// RedisOptions configure the Redis backend. Either Client or Addr is
// required.
type RedisOptions struct {
	Addr     string      `option:"addr"`
	Password string      `option:"password"`
	DB       int         `option:"db"`
	Prefix   string      `option:"prefix"`
	Client   RedisClient `option:"client"`
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = "cache"
	}
	return o
}

// redisBackend keeps entries under prefix:e:<id>, the ids carrying a tag in
// the set prefix:t:<tag> and the tags of an entry in the set prefix:i:<id>.
type redisBackend struct {
	cachecore.Base
	client RedisClient
	prefix string
	owned  *redis.Client
}

// NewRedisBackend connects to Redis and verifies the server answers.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (Backend, error) {
	opts = opts.withDefaults()
	b := &redisBackend{Base: cachecore.NewBase("Redis"), prefix: opts.Prefix, client: opts.Client}
	if b.client == nil {
		if opts.Addr == "" {
			return nil, cachecore.NewConfigError(`backend "Redis"`, "addr or client is required")
		}
		b.owned = redis.NewClient(&redis.Options{
			Addr:        opts.Addr,
			Password:    opts.Password,
			DB:          opts.DB,
			DialTimeout: 2 * time.Second,
			MaxRetries:  -1,
		})
		b.client = b.owned
	}
	if err := b.client.Ping(ctx).Err(); err != nil {
		_ = b.Close()
		return nil, &BackendUnavailableError{Backend: "Redis", Err: err}
	}
	return b, nil
}

func newRedisBackend(ctx context.Context, opts Options) (Backend, error) {
	var cfg RedisOptions
	if err := cachecore.DecodeOptions(`backend "Redis"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewRedisBackend(ctx, cfg)
}

// Close releases the connection pool when the backend created it.
func (b *redisBackend) Close() error {
	if b.owned == nil {
		return nil
	}
	return b.owned.Close()
}

func (b *redisBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, Persistent: true}
}

func (b *redisBackend) Load(ctx context.Context, id string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, b.entryKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (b *redisBackend) Save(ctx context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	if lifetime < 0 {
		lifetime = 0
	}
	if err := b.untag(ctx, id); err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.entryKey(id), data, lifetime).Err(); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(tags))
	for _, tag := range tags {
		if err := b.client.SAdd(ctx, b.tagKey(tag), id).Err(); err != nil {
			return err
		}
		members = append(members, tag)
	}
	return b.client.SAdd(ctx, b.idTagsKey(id), members...).Err()
}

func (b *redisBackend) Remove(ctx context.Context, id string) error {
	if err := b.untag(ctx, id); err != nil {
		return err
	}
	return b.client.Del(ctx, b.entryKey(id)).Err()
}

// Clean removes entries by mode. Redis expires entries on its own, so
// CleanOld has nothing to do.
func (b *redisBackend) Clean(ctx context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	switch mode {
	case CleanOld:
		return nil
	case CleanAll:
		return b.scan(ctx, b.prefix+":*", func(keys []string) error {
			return b.client.Del(ctx, keys...).Err()
		})
	case CleanNotMatchingTag:
		entryPrefix := b.entryKey("")
		return b.scan(ctx, entryPrefix+"*", func(keys []string) error {
			for _, key := range keys {
				id := strings.TrimPrefix(key, entryPrefix)
				entryTags, err := b.client.SMembers(ctx, b.idTagsKey(id)).Result()
				if err != nil {
					return err
				}
				if !cachecore.MatchTags(mode, entryTags, tags) {
					continue
				}
				if err := b.Remove(ctx, id); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if len(tags) == 0 {
		return nil
	}
	tagKeys := make([]string, 0, len(tags))
	for _, tag := range tags {
		tagKeys = append(tagKeys, b.tagKey(tag))
	}
	var (
		ids []string
		err error
	)
	if mode == CleanMatchingTag {
		ids, err = b.client.SInter(ctx, tagKeys...).Result()
	} else {
		ids, err = b.client.SUnion(ctx, tagKeys...).Result()
	}
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := b.Remove(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (b *redisBackend) untag(ctx context.Context, id string) error {
	old, err := b.client.SMembers(ctx, b.idTagsKey(id)).Result()
	if err != nil {
		return err
	}
	for _, tag := range old {
		if err := b.client.SRem(ctx, b.tagKey(tag), id).Err(); err != nil {
			return err
		}
	}
	if len(old) == 0 {
		return nil
	}
	return b.client.Del(ctx, b.idTagsKey(id)).Err()
}

func (b *redisBackend) scan(ctx context.Context, pattern string, fn func([]string) error) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (b *redisBackend) entryKey(id string) string  { return b.prefix + ":e:" + id }
func (b *redisBackend) tagKey(tag string) string   { return b.prefix + ":t:" + tag }
func (b *redisBackend) idTagsKey(id string) string { return b.prefix + ":i:" + id }
