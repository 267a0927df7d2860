package cachestore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server, for deployments that share
// one cache across several server processes. Each entry is a JSON blob
// under its key; a sorted set indexed by expiry time supports Oldest
// without a full scan.
type Redis struct {
	client    *redis.Client
	keyPrefix string
	zsetKey   string
}

// NewRedis returns a Store using client, namespacing every key under
// keyPrefix so one Redis instance can back several caches.
func NewRedis(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix, zsetKey: keyPrefix + "expiry"}
}

type redisEntry struct {
	Key         string    `json:"key"`
	Expires     time.Time `json:"expires"`
	RequestedAt time.Time `json:"requested_at"`
	ReceivedAt  time.Time `json:"received_at"`
	Policy      []byte    `json:"policy"`
	Body        []byte    `json:"body"`
}

func (r *Redis) dataKey(key string) string { return r.keyPrefix + "e:" + key }

func (r *Redis) All(prefix string) ([]Entry, error) {
	ctx := context.Background()
	var out []Entry
	iter := r.client.Scan(ctx, 0, r.dataKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		if e, ok := decodeRedisEntry(raw); ok {
			out = append(out, e)
		}
	}
	return out, iter.Err()
}

func (r *Redis) AllKeys(prefix string, cb func(string)) {
	ctx := context.Background()
	iter := r.client.Scan(ctx, 0, r.dataKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		cb(iter.Val()[len(r.keyPrefix)+2:])
	}
}

func (r *Redis) Get(key string) (Entry, bool, error) {
	ctx := context.Background()
	raw, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := decodeRedisEntry(raw)
	return e, ok, nil
}

func (r *Redis) Put(e Entry) error {
	ctx := context.Background()
	raw, err := json.Marshal(redisEntry{
		Key: e.Key, Expires: e.Expires, RequestedAt: e.RequestedAt,
		ReceivedAt: e.ReceivedAt, Policy: e.Policy, Body: e.Body,
	})
	if err != nil {
		return err
	}
	ttl := time.Duration(0)
	if !e.Expires.IsZero() {
		ttl = time.Until(e.Expires)
	}
	if err := r.client.Set(ctx, r.dataKey(e.Key), raw, ttl).Err(); err != nil {
		return err
	}
	if !e.Expires.IsZero() {
		return r.client.ZAdd(ctx, r.zsetKey, redis.Z{Score: float64(e.Expires.Unix()), Member: e.Key}).Err()
	}
	return nil
}

func (r *Redis) Oldest(prefix string) (string, time.Time, error) {
	ctx := context.Background()
	members, err := r.client.ZRangeWithScores(ctx, r.zsetKey, 0, -1).Result()
	if err != nil {
		return "", time.Time{}, err
	}
	for _, m := range members {
		key, ok := m.Member.(string)
		if !ok || !hasPrefix(key, prefix) {
			continue
		}
		return key, time.Unix(int64(m.Score), 0), nil
	}
	return "", time.Time{}, nil
}

func (r *Redis) Purge(key string) error {
	ctx := context.Background()
	r.client.ZRem(ctx, r.zsetKey, key)
	return r.client.Del(ctx, r.dataKey(key)).Err()
}

func (r *Redis) Has(key string) bool {
	n, err := r.client.Exists(context.Background(), r.dataKey(key)).Result()
	return err == nil && n > 0
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeRedisEntry(raw []byte) (Entry, bool) {
	var re redisEntry
	if json.Unmarshal(raw, &re) != nil {
		return Entry{}, false
	}
	return Entry{
		Key: re.Key, Expires: re.Expires, RequestedAt: re.RequestedAt,
		ReceivedAt: re.ReceivedAt, Policy: re.Policy, Body: re.Body,
	}, true
}
