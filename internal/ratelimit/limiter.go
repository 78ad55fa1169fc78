package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/voxlate/voxlate/internal/config"
)

const (
	keyWebhook         = "gateway:webhook:%s"
	keyUsageIngest     = "gateway:usage:%s"
	keyLiveSessionLock = "gateway:live:lock:%s"
)

// Limiter throttles the webhook and usage-ingest surfaces and holds the
// one-live-session-per-user lock. A nil Limiter allows everything, so the
// gateway degrades cleanly when redis is not configured.
type Limiter struct {
	enabled bool

	bucket *TokenBucket
	slot   *sessionSlot

	webhookRate  float64
	webhookBurst int
	usageRate    float64
	usageBurst   int
}

func NewLimiter(cfg config.Config) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}
	if limitCfg.UsageRate <= 0 || limitCfg.UsageBurst <= 0 {
		return nil, errors.New("usage rate limit must be positive")
	}
	if limitCfg.LiveSessionTTLSeconds <= 0 {
		return nil, errors.New("live session ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &Limiter{
		enabled:      true,
		bucket:       NewTokenBucket(client),
		slot:         newSessionSlot(client, time.Duration(limitCfg.LiveSessionTTLSeconds)*time.Second),
		webhookRate:  limitCfg.WebhookRate,
		webhookBurst: limitCfg.WebhookBurst,
		usageRate:    limitCfg.UsageRate,
		usageBurst:   limitCfg.UsageBurst,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowWebhook throttles webhook deliveries per remote address.
func (l *Limiter) AllowWebhook(ctx context.Context, remoteAddr string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhook, strings.TrimSpace(remoteAddr)), l.webhookRate, l.webhookBurst)
}

// AllowUsageIngest throttles internal usage writes per user.
func (l *Limiter) AllowUsageIngest(ctx context.Context, userID string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngest, strings.TrimSpace(userID)), l.usageRate, l.usageBurst)
}

// TryLockLiveSession claims the single live session slot of a user.
func (l *Limiter) TryLockLiveSession(ctx context.Context, userID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.slot.Claim(ctx, fmt.Sprintf(keyLiveSessionLock, strings.TrimSpace(userID)))
}

// ReleaseLiveSession releases the slot claimed by TryLockLiveSession.
func (l *Limiter) ReleaseLiveSession(ctx context.Context, userID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.slot.Free(ctx, fmt.Sprintf(keyLiveSessionLock, strings.TrimSpace(userID)), token)
}
