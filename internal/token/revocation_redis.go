package token

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocations is the shared-store RevocationStore used when the
// platform runs more than one API replica. Entries self-expire through
// the key TTL, so the store never grows past the live revocation set.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocations wraps an existing client. The caller owns the
// client lifecycle.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: "revoked:"}
}

func (s *RedisRevocations) key(rawToken string) string {
	return s.prefix + Digest(rawToken)
}

// Revoke stores the digest with the kind's max TTL as key expiry.
func (s *RedisRevocations) Revoke(ctx context.Context, rawToken string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(rawToken), "1", ttl).Err()
}

// IsRevoked is a digest existence check. A transport error is
// returned as-is: the caller decides how an unreachable store maps
// onto the request outcome.
func (s *RedisRevocations) IsRevoked(ctx context.Context, rawToken string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(rawToken)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
