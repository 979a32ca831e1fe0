package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRevocationPrefix = "auth:revoked:"
	// Provider ID tokens live for an hour; keep the watermark well past that.
	defaultRevocationTTL = 24 * time.Hour
)

// RedisRevocations stores revocation watermarks in Redis.
type RedisRevocations struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRevocations constructs a Redis-backed RevocationStore.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: defaultRevocationPrefix, ttl: defaultRevocationTTL}
}

func (r *RedisRevocations) key(subject string) string { return r.prefix + subject }

// Revoke records at as the subject's revocation watermark.
func (r *RedisRevocations) Revoke(ctx context.Context, subject string, at time.Time) error {
	return r.client.Set(ctx, r.key(subject), strconv.FormatInt(at.Unix(), 10), r.ttl).Err()
}

// RevokedAt returns the subject's watermark, if one is set.
func (r *RedisRevocations) RevokedAt(ctx context.Context, subject string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.key(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0).UTC(), true, nil
}
