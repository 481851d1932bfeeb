// Package redisstore keeps the token blacklist and handshake nonces in
// redis so that several instances share them.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "trace_auth"

// Store implements the blacklist cache and the nonce claimer
type Store struct {
	client redis.UniversalClient
	prefix string
}

type Option func(*Store)

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a client for addr and pings it
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) blacklistKey(jti string) string {
	return fmt.Sprintf("%s:blacklist:%s", s.prefix, jti)
}

func (s *Store) nonceKey(nonce string) string {
	return fmt.Sprintf("%s:nonce:%s", s.prefix, nonce)
}

// MarkBlacklisted remembers jti until the token would expire anyway
func (s *Store) MarkBlacklisted(ctx context.Context, jti string, ttl time.Duration) error {
	return s.client.Set(ctx, s.blacklistKey(jti), "1", ttl).Err()
}

// IsBlacklisted reports a cache hit for jti
func (s *Store) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimNonce reserves nonce. It returns false when the nonce was
// claimed before.
func (s *Store) ClaimNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.nonceKey(nonce), "1", ttl).Result()
}
