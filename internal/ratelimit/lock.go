package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Fenced release: only the holder that stored the token may delete the key,
// so a claim that outlived its TTL cannot free a newer session's slot.
var releaseSlotScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// sessionSlot claims the single concurrent live session a user may hold.
// The TTL is a backstop for crashed relays; a clean shutdown frees the slot.
type sessionSlot struct {
	client *redis.Client
	ttl    time.Duration
}

func newSessionSlot(client *redis.Client, ttl time.Duration) *sessionSlot {
	if client == nil {
		return nil
	}
	return &sessionSlot{client: client, ttl: ttl}
}

func (s *sessionSlot) Claim(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("session slot client not configured")
	}
	if key == "" {
		return "", false, errors.New("session slot key is empty")
	}

	token := uuid.NewString()
	claimed, err := s.client.SetNX(ctx, key, token, s.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, claimed, nil
}

func (s *sessionSlot) Free(ctx context.Context, key, token string) error {
	if s == nil || s.client == nil || key == "" || token == "" {
		return nil
	}
	return releaseSlotScript.Run(ctx, s.client, []string{key}, token).Err()
}
