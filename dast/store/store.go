// Package store provides the key/value cache used for live scan progress
// and finished-scan summaries, backed by valkey.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const defaultAddr = "localhost:6379"

// ErrKeyNotFound is returned when a key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// KVStore defines the key/value operations the engine needs.
type KVStore interface {
	// SetValue sets the given key to the specified value.
	SetValue(ctx context.Context, key, value string) error
	// SetValueWithTTL sets the key with a TTL.
	SetValueWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// GetValue retrieves the value for the key, or ErrKeyNotFound.
	GetValue(ctx context.Context, key string) (string, error)
	// ListKeys retrieves all keys matching the given pattern.
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	// DeleteValue removes the key.
	DeleteValue(ctx context.Context, key string) error
	// Close shuts down the underlying connection.
	Close() error
}

// valkeyStore implements KVStore with the valkey-go client.
type valkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to the address in QA_GUARDIAN_VALKEY_ADDR, or
// localhost:6379 when unset.
func NewValkeyStore() (KVStore, error) {
	addr := os.Getenv("QA_GUARDIAN_VALKEY_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	return NewValkeyStoreAt(addr)
}

// NewValkeyStoreAt connects to an explicit address.
func NewValkeyStoreAt(addr string) (KVStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect to valkey at %s: %w", addr, err)
	}
	return &valkeyStore{client: client}, nil
}

func (s *valkeyStore) SetValue(ctx context.Context, key, value string) error {
	cmd := s.client.B().Set().Key(key).Value(value).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) SetValueWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	cmd := s.client.B().Set().Key(key).Value(value).Ex(ttl).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *valkeyStore) GetValue(ctx context.Context, key string) (string, error) {
	cmd := s.client.B().Get().Key(key).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", fmt.Errorf("valkey GET %q: %w", key, err)
	}
	value, err := resp.ToString()
	if err != nil {
		return "", fmt.Errorf("decode valkey reply for %q: %w", key, err)
	}
	return value, nil
}

func (s *valkeyStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	cmd := s.client.B().Keys().Pattern(pattern).Build()
	resp := s.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("valkey KEYS %q: %w", pattern, err)
	}
	messages, err := resp.ToArray()
	if err != nil {
		return nil, fmt.Errorf("decode valkey KEYS reply for %q: %w", pattern, err)
	}
	keys := make([]string, len(messages))
	for i, msg := range messages {
		k, err := msg.ToString()
		if err != nil {
			return nil, fmt.Errorf("decode key at index %d for pattern %q: %w", i, pattern, err)
		}
		keys[i] = k
	}
	return keys, nil
}

func (s *valkeyStore) DeleteValue(ctx context.Context, key string) error {
	cmd := s.client.B().Del().Key(key).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}
