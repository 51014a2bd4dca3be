package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeChallengeSend AuthAbuseScope = "mfa_send"
	AuthAbuseScopeMfaVerify     AuthAbuseScope = "mfa_verify"
)

// AuthAbusePolicy shapes the exponential cooldown. The zero value disables
// the guard entirely; no threshold is assumed on the caller's behalf.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   int
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func (p AuthAbusePolicy) enabled() bool {
	return p.BaseDelay > 0 && p.ResetWindow > 0
}

// AuthAbuseGuard tracks repeated events per identity and per peer in Redis
// and answers with a growing cooldown. Identity and peer are independent
// partitions; the effective cooldown is the larger of the two.
type AuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *AuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &AuthAbuseGuard{client: client, prefix: prefix, policy: policy}
}

// RegisterFailure records one event and returns the cooldown now in force.
func (g *AuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, peer string) (time.Duration, error) {
	if g.client == nil || !g.policy.enabled() {
		return 0, nil
	}
	var worst time.Duration
	for _, key := range g.keys(scope, identity, peer) {
		cooldown, err := g.registerOne(ctx, key)
		if err != nil {
			return 0, err
		}
		if cooldown > worst {
			worst = cooldown
		}
	}
	return worst, nil
}

// Check returns the remaining cooldown without recording an event.
func (g *AuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, peer string) (time.Duration, error) {
	if g.client == nil || !g.policy.enabled() {
		return 0, nil
	}
	now := time.Now()
	var worst time.Duration
	for _, key := range g.keys(scope, identity, peer) {
		untilMs, err := g.readInt(ctx, key, "cooldown_until_ms")
		if err != nil {
			return 0, err
		}
		remaining := time.UnixMilli(untilMs).Sub(now)
		if remaining > worst {
			worst = remaining
		}
	}
	if worst < 0 {
		worst = 0
	}
	return worst, nil
}

func (g *AuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, peer string) error {
	if g.client == nil {
		return nil
	}
	keys := g.keys(scope, identity, peer)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

func (g *AuthAbuseGuard) registerOne(ctx context.Context, key string) (time.Duration, error) {
	now := time.Now()
	failures, err := g.readInt(ctx, key, "failures")
	if err != nil {
		return 0, err
	}
	lastMs, err := g.readInt(ctx, key, "last_failure_ms")
	if err != nil {
		return 0, err
	}
	if lastMs > 0 && now.Sub(time.UnixMilli(lastMs)) > g.policy.ResetWindow {
		failures = 0
	}
	failures++

	cooldown := g.cooldownFor(int(failures))
	fields := map[string]any{
		"failures":        failures,
		"last_failure_ms": now.UnixMilli(),
	}
	if cooldown > 0 {
		fields["cooldown_until_ms"] = now.Add(cooldown).UnixMilli()
	} else {
		fields["cooldown_until_ms"] = 0
	}
	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, g.policy.ResetWindow+g.policy.MaxDelay)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cooldown, nil
}

func (g *AuthAbuseGuard) cooldownFor(failures int) time.Duration {
	excess := failures - g.policy.FreeAttempts
	if excess <= 0 {
		return 0
	}
	multiplier := g.policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	cooldown := g.policy.BaseDelay
	for i := 1; i < excess; i++ {
		cooldown *= time.Duration(multiplier)
		if g.policy.MaxDelay > 0 && cooldown >= g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
	}
	if g.policy.MaxDelay > 0 && cooldown > g.policy.MaxDelay {
		cooldown = g.policy.MaxDelay
	}
	return cooldown
}

func (g *AuthAbuseGuard) readInt(ctx context.Context, key, field string) (int64, error) {
	v, err := g.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value in %s: %w", field, key, err)
	}
	return n, nil
}

func (g *AuthAbuseGuard) keys(scope AuthAbuseScope, identity, peer string) []string {
	var keys []string
	if identity != "" {
		keys = append(keys, g.stateKey(scope, "id", normalizeAuthIdentity(identity)))
	}
	if peer != "" {
		keys = append(keys, g.stateKey(scope, "peer", normalizeAuthIdentity(peer)))
	}
	return keys
}

func (g *AuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}

func normalizeAuthIdentity(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
