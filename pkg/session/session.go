// Package session keeps login sessions in Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// ErrNoSession is returned for unknown or expired session ids.
var ErrNoSession = errors.New("session not found")

// Store maps session ids to user names.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a session store. Sessions expire after ttl.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// TTL is the lifetime of new sessions.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create starts a session for user and returns its id.
func (s *Store) Create(ctx context.Context, user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("user is required")
	}
	sid := uuid.NewString()
	if err := s.client.Set(ctx, keyPrefix+sid, user, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sid, nil
}

// Lookup returns the user that owns sid.
func (s *Store) Lookup(ctx context.Context, sid string) (string, error) {
	if sid == "" {
		return "", ErrNoSession
	}
	user, err := s.client.Get(ctx, keyPrefix+sid).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	return user, nil
}

// Delete ends a session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, keyPrefix+sid).Err()
}
