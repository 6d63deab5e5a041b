package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store backed by a single Redis instance (or cluster client).
// Every key stores a JSON-encoded redisEnvelope; PutIfAbsent and
// CompareAndSet use Lua scripts so their read-check-write is atomic
// server-side. Add is a client-side loop over Get and CompareAndSet.
type Redis struct {
	client redis.Cmdable
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing redis.Cmdable (a *redis.Client or
// *redis.ClusterClient).
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

type redisEnvelope struct {
	Value   []byte `json:"value"`
	Version int64  `json:"version"`
}

var casScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw == false then
	return {0, "not_found"}
end
local env = cjson.decode(raw)
if env.version ~= tonumber(ARGV[1]) then
	return {0, "version_mismatch"}
end
local newEnv = {value = ARGV[2], version = env.version + 1}
redis.call("SET", KEYS[1], cjson.encode(newEnv), "KEEPTTL")
return {1, cjson.encode(newEnv)}
`)

var putIfAbsentScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
if exists == 1 then
	return {0, "conflict"}
end
local env = {value = ARGV[1], version = 1}
redis.call("SET", KEYS[1], cjson.encode(env))
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, cjson.encode(env)}
`)

func (r *Redis) Get(ctx context.Context, key string, _ Consistency) (Record, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Join(ErrUnavailable, err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Record{}, errors.Join(ErrUnavailable, err)
	}
	return Record{Key: key, Value: env.Value, Version: env.Version}, nil
}

func (r *Redis) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (Record, error) {
	ttlMillis := int64(0)
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}

	res, err := putIfAbsentScript.Run(ctx, r.client, []string{key}, string(value), ttlMillis).Slice()
	if err != nil {
		return Record{}, errors.Join(ErrUnavailable, err)
	}
	if toInt(res[0]) == 0 {
		return Record{}, ErrConflict
	}
	return Record{Key: key, Value: value, Version: 1}, nil
}

func (r *Redis) CompareAndSet(ctx context.Context, key string, expectedVersion int64, value []byte, ttl time.Duration) (Record, error) {
	res, err := casScript.Run(ctx, r.client, []string{key}, expectedVersion, string(value)).Slice()
	if err != nil {
		return Record{}, errors.Join(ErrUnavailable, err)
	}

	switch {
	case toInt(res[0]) == 1:
		if ttl > 0 {
			r.client.PExpire(ctx, key, ttl)
		}
		return Record{Key: key, Value: value, Version: expectedVersion + 1}, nil
	case res[1] == "not_found":
		return Record{}, ErrNotFound
	default:
		return Record{}, ErrVersionMismatch
	}
}

// Add performs a client-side read-modify-write, evaluating guard in Go, then
// commits via CompareAndSet so the guard and the commit race the same way
// every other adapter's Add does: a concurrent writer forces a retry instead
// of silently clobbering the guard's decision.
func (r *Redis) Add(ctx context.Context, key string, delta int64, guard func(int64) bool) (int64, error) {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, err := r.Get(ctx, key, Strong)
		if err != nil {
			return 0, err
		}

		current := decodeInt64(rec.Value)
		result := current + delta
		if guard != nil && !guard(result) {
			return current, ErrGuardFailed
		}

		_, err = r.CompareAndSet(ctx, key, rec.Version, encodeInt64(result), 0)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrVersionMismatch) {
			return 0, err
		}
		// lost the race to a concurrent Add/CompareAndSet; retry against the
		// new version.
	}
	return 0, errors.Join(ErrUnavailable, errors.New("recordstore: redis add exceeded retry budget"))
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
