package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// One-time token kinds.
const (
	KindPasswordReset = "pwreset"
	KindVerifyEmail   = "verify"
	KindOAuthState    = "oauth_state"
)

// ErrTokenStoreUnavailable is returned when no Redis client is configured.
var ErrTokenStoreUnavailable = errors.New("token store unavailable")

// TokenStore keeps revoked session ids and one-time tokens in Redis.
type TokenStore struct {
	rdb *redis.Client
}

func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func blacklistKey(jti string) string {
	return "auth:revoked:" + jti
}

func oneTimeKey(kind, token string) string {
	return fmt.Sprintf("auth:%s:%s", kind, token)
}

// Revoke marks jti as revoked until ttl elapses.
func (s *TokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if s == nil || s.rdb == nil {
		return ErrTokenStoreUnavailable
	}
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, blacklistKey(jti), "1", ttl).Err()
}

// IsRevoked reports whether jti was revoked. Without Redis nothing is revoked.
func (s *TokenStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s == nil || s.rdb == nil {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Issue stores value under a fresh random token of the given kind.
func (s *TokenStore) Issue(ctx context.Context, kind, value string, ttl time.Duration) (string, error) {
	if s == nil || s.rdb == nil {
		return "", ErrTokenStoreUnavailable
	}
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, oneTimeKey(kind, token), value, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Consume returns and deletes the value of a one-time token. ok is false for
// unknown, expired, or already used tokens.
func (s *TokenStore) Consume(ctx context.Context, kind, token string) (value string, ok bool, err error) {
	if s == nil || s.rdb == nil {
		return "", false, ErrTokenStoreUnavailable
	}
	value, err = s.rdb.GetDel(ctx, oneTimeKey(kind, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
