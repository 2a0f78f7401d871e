// cache/mirror.go
package cache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
)

// Mirror is an optional durable copy of the live store used for
// cross-restart recall. All mirror traffic is best-effort; failures are
// logged and never surface to cache callers.
type Mirror interface {
	Store(ctx context.Context, entry Entry) error
	Load(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

const mirrorNamespace = "aegis:cache:"

// RedisMirror persists encrypted cache entries in Redis. Values are
// AES-GCM sealed before they leave the process; the Redis key carries the
// entry's remaining lifetime so the mirror never resurrects dead data.
type RedisMirror struct {
	client        *redis.Client
	encryptionKey []byte
}

func NewRedisMirror(client *redis.Client, encryptionKey []byte) (*RedisMirror, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("invalid encryption key length: must be 32 bytes")
	}
	return &RedisMirror{
		client:        client,
		encryptionKey: encryptionKey,
	}, nil
}

func (m *RedisMirror) Store(ctx context.Context, entry Entry) error {
	remaining := time.Until(entry.ExpiresAt())
	if remaining <= 0 {
		return nil
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	sealed, err := m.encrypt(entryJSON)
	if err != nil {
		return fmt.Errorf("failed to encrypt cache entry: %w", err)
	}

	key := mirrorNamespace + entry.Key
	if err := m.client.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed), remaining).Err(); err != nil {
		return fmt.Errorf("failed to mirror cache entry: %w", err)
	}
	logger.Debug("Cache entry mirrored", zap.String("key", entry.Key))
	return nil
}

func (m *RedisMirror) Load(ctx context.Context, key string) (*Entry, error) {
	sealedStr, err := m.client.Get(ctx, mirrorNamespace+key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to load mirrored entry: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(sealedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mirrored entry: %w", err)
	}
	entryJSON, err := m.decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt mirrored entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(entryJSON, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirrored entry: %w", err)
	}
	return &entry, nil
}

func (m *RedisMirror) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = mirrorNamespace + key
	}
	if err := m.client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("failed to delete mirrored entries: %w", err)
	}
	return nil
}

func (m *RedisMirror) DeleteByPrefix(ctx context.Context, prefix string) error {
	pattern := mirrorNamespace + prefix + "*"
	iter := m.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan mirrored entries: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete mirrored entries: %w", err)
	}
	logger.Debug("Mirrored entries invalidated",
		zap.String("prefix", prefix),
		zap.Int("count", len(keys)))
	return nil
}

func (m *RedisMirror) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (m *RedisMirror) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
