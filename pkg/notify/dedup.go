package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DedupSink drops repeat emissions of the same (target, template, eventKey)
// tuple. The engine's at-least-once passes may replay an Emit after a crash;
// the SETNX guard turns that into at-most-once delivery downstream.
type DedupSink struct {
	next    Sink
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.Logger
}

// NewDedupSink wraps next with a Redis-backed dedup guard.
func NewDedupSink(next Sink, rdb *redis.Client, ttl, timeout time.Duration, logger *zap.Logger) *DedupSink {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DedupSink{next: next, rdb: rdb, ttl: ttl, timeout: timeout, logger: logger}
}

// Emit delivers through the wrapped sink unless the tuple was seen before.
func (s *DedupSink) Emit(ctx context.Context, target, templateKey, eventKey string, payload map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := fmt.Sprintf("notify:%s:%s:%s", target, templateKey, eventKey)
	fresh, err := s.rdb.SetNX(ctx, key, 1, s.ttl).Result()
	if err != nil {
		// Dedup store down: deliver anyway. Duplicates are preferred over
		// drops here.
		s.logger.Sugar().Warnw("sink dedup check failed, delivering anyway", "key", key, "error", err)
		return s.next.Emit(ctx, target, templateKey, eventKey, payload)
	}
	if !fresh {
		s.logger.Sugar().Debugw("duplicate notification suppressed", "key", key)
		return nil
	}
	if err := s.next.Emit(ctx, target, templateKey, eventKey, payload); err != nil {
		// Release the claim so the engine's replay can deliver what never
		// reached the queue.
		if delErr := s.rdb.Del(ctx, key).Err(); delErr != nil {
			s.logger.Sugar().Warnw("dedup claim release failed", "key", key, "error", delErr)
		}
		return err
	}
	return nil
}
