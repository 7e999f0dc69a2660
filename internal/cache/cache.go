package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache defines the interface for caching operations.
// Values are raw bytes so the in-memory and shared backends are interchangeable.
type Cache interface {
	// Get retrieves a value from the cache
	// Returns the value and a boolean indicating whether the key was found
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set adds a value to the cache with the specified expiration
	// If expiration is NoExpiration the item is kept until deleted
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string) error

	// Keys lists all keys with the given prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// DeleteByPrefix removes all keys with the given prefix
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// NoExpiration keeps an entry until it is deleted explicitly
const NoExpiration time.Duration = -1

// Predefined cache key prefixes for different entity types
const (
	PrefixExchangeRate = "exchange_rate:v1:"
)

// GenerateKey creates a cache key from a prefix and a set of parameters
// It joins all parameters with a colon and appends them to the prefix
func GenerateKey(prefix string, params ...interface{}) string {
	parts := make([]string, len(params))
	for i, param := range params {
		parts[i] = fmt.Sprintf("%v", param)
	}

	return prefix + strings.Join(parts, ":")
}
