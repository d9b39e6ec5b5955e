package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/claimwise/internal/config"
)

const keyEDIToolsActor = "edi:tools:actor:%s"

// Operation is an EDI tool endpoint. Fix costs more because it re-diagnoses
// the interchange after every applied change.
type Operation string

const (
	OpParse    Operation = "parse"
	OpDiagnose Operation = "diagnose"
	OpFix      Operation = "fix"
)

var operationCost = map[Operation]int{
	OpParse:    1,
	OpDiagnose: 1,
	OpFix:      3,
}

// Cost returns the tokens op takes. Unknown operations cost one.
func (op Operation) Cost() int {
	if cost, ok := operationCost[op]; ok {
		return cost
	}
	return 1
}

// EDIToolsLimiter throttles parse, diagnose and fix calls per actor. A nil
// limiter allows everything.
type EDIToolsLimiter struct {
	bucket *TokenBucket
	limits Bucket
}

// NewEDIToolsLimiter returns nil when rate limiting is disabled. It shares the
// Redis client used for submission idempotency.
func NewEDIToolsLimiter(cfg config.Config, client *redis.Client) (*EDIToolsLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	limits := Bucket{Rate: limitCfg.EDIRate, Burst: limitCfg.EDIBurst}
	if err := limits.validate(OpFix.Cost()); err != nil {
		return nil, fmt.Errorf("edi tools rate limit: %w", err)
	}
	return &EDIToolsLimiter{
		bucket: NewTokenBucket(client),
		limits: limits,
	}, nil
}

func (l *EDIToolsLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *EDIToolsLimiter) Allow(ctx context.Context, actorID string, op Operation) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return nil, fmt.Errorf("%w: empty actor", ErrInvalidBucket)
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyEDIToolsActor, actorID), l.limits, op.Cost())
}
