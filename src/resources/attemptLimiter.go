package resources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited   = errors.New("too many verification attempts")
	ErrTokenReplayed = errors.New("challenge token already used")
)

const attemptWindow = time.Minute

// AttemptLimiter throttles verification attempts per client IP and rejects
// tokens that were already submitted inside the replay window.
// A nil *AttemptLimiter allows everything.
type AttemptLimiter struct {
	cache        *Cache
	maxAttempts  int
	replayWindow time.Duration
}

// NewAttemptLimiter returns a limiter backed by cache. maxAttempts <= 0
// disables throttling and replayWindow <= 0 disables the replay guard.
func NewAttemptLimiter(cache *Cache, maxAttempts int, replayWindow time.Duration) *AttemptLimiter {
	if cache == nil {
		return nil
	}
	return &AttemptLimiter{cache: cache, maxAttempts: maxAttempts, replayWindow: replayWindow}
}

// Allow records one attempt for ip against provider.
func (l *AttemptLimiter) Allow(ctx context.Context, provider, ip string) error {
	if l == nil || l.maxAttempts <= 0 || ip == "" {
		return nil
	}
	count, err := l.cache.Incr(ctx, attemptKey(provider, ip), attemptWindow)
	if err != nil {
		return err
	}
	if count > int64(l.maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Claim marks token as used. A second claim for the same token inside the
// replay window returns ErrTokenReplayed.
func (l *AttemptLimiter) Claim(ctx context.Context, provider, token string) error {
	if l == nil || l.replayWindow <= 0 || token == "" {
		return nil
	}
	fresh, err := l.cache.SetIfAbsent(ctx, tokenKey(provider, token), 1, l.replayWindow)
	if err != nil {
		return err
	}
	if !fresh {
		return ErrTokenReplayed
	}
	return nil
}

// RetryAfter reports how long until ip's attempt window for provider resets.
func (l *AttemptLimiter) RetryAfter(ctx context.Context, provider, ip string) (time.Duration, error) {
	if l == nil || l.maxAttempts <= 0 || ip == "" {
		return 0, nil
	}
	ttl, err := l.cache.GetTTL(ctx, attemptKey(provider, ip))
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Release drops the claim on token so it can be submitted again. Used when
// the verifier never judged the token.
func (l *AttemptLimiter) Release(ctx context.Context, provider, token string) error {
	if l == nil || l.replayWindow <= 0 || token == "" {
		return nil
	}
	return l.cache.Delete(ctx, tokenKey(provider, token))
}

func attemptKey(provider, ip string) string {
	return fmt.Sprintf("captcha:%s:attempts:%s", provider, ip)
}

// Tokens are hashed so raw tokens never land in Redis.
func tokenKey(provider, token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("captcha:%s:token:%s", provider, hex.EncodeToString(sum[:]))
}
