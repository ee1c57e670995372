package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/consume_otp.lua
var consumeOTPScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// OTPResult is the outcome of ConsumeOTP
type OTPResult int

const (
	OTPMissing  OTPResult = -1
	OTPMismatch OTPResult = 0
	OTPAccepted OTPResult = 1
)

type Client struct {
	rdb           *redis.Client
	consumeScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		consumeScript: redis.NewScript(consumeOTPScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// ThrottleOTP claims the send window for phone. It returns false if a code
// was already sent inside the window.
func (c *Client) ThrottleOTP(ctx context.Context, phone string, window time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("otp:throttle:%s", phone), "1", window).Result()
}

// SaveOTP stores the pending code for phone, replacing any earlier one
func (c *Client) SaveOTP(ctx context.Context, phone, code string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("otp:code:%s", phone), code, ttl).Err()
}

// ConsumeOTP atomically compares and deletes the pending code, so a code can
// be used once.
func (c *Client) ConsumeOTP(ctx context.Context, phone, code string) (OTPResult, error) {
	key := fmt.Sprintf("otp:code:%s", phone)

	result, err := c.consumeScript.Run(ctx, c.rdb, []string{key}, code).Result()
	if err != nil {
		return OTPMissing, fmt.Errorf("consume otp script failed: %w", err)
	}

	n, ok := result.(int64)
	if !ok {
		return OTPMissing, fmt.Errorf("unexpected script result type")
	}
	return OTPResult(n), nil
}

// ClaimIdempotencyKey records key for ttl. It returns false when the key was
// already claimed.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ReleaseIdempotencyKey frees a claimed key so the request can be retried
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
