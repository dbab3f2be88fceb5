// Package app holds the wiring shared by the scanhub binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hugh/scanhub/internal/scanner"
	"github.com/hugh/scanhub/internal/scans"
	"github.com/hugh/scanhub/pkg/config"
	"github.com/hugh/scanhub/pkg/crypto"
	"github.com/redis/go-redis/v9"
)

// NewSealer returns the results encryptor, or nil when ENCRYPTION_KEY is
// unset and results are stored in plaintext. Every process sharing a
// database must use the same key.
func NewSealer(cfg *config.EncryptionConfig) (scans.Sealer, error) {
	if cfg.Key == "" {
		return nil, nil
	}
	enc, err := crypto.NewEncryptor(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	return enc, nil
}

// NewBackend creates the scanning backend client.
func NewBackend(cfg *config.ScannerConfig) (*scanner.Client, error) {
	return scanner.NewClient(scanner.ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout(),
		MaxRPS:  cfg.MaxRPS,
	})
}

// ConnectRedis returns a client, or nil if Redis does not answer within
// a few seconds.
func ConnectRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable", "addr", cfg.Addr(), "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
