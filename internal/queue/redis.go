package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"postscript/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	bodyField        = "event"
	deadLetterSuffix = ":dead"
)

// RedisStreamConfig configures a consumer on a Redis Stream consumer group.
type RedisStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block bounds how long XREADGROUP waits for new entries.
	Block time.Duration
	// MinIdle is how long an entry must sit unacknowledged before another
	// consumer may claim it. It is also the reclaim sweep interval.
	MinIdle time.Duration
}

// RedisStreamQueue is a Queue over a Redis Stream consumer group. Entries
// stay in the group's pending list until acknowledged, so a crashed
// consumer's work is reclaimed by the next live one.
type RedisStreamQueue struct {
	rdb *redis.Client
	cfg RedisStreamConfig

	mu          sync.Mutex
	lastReclaim time.Time
}

// NewRedisStreamQueue creates the stream and consumer group if needed.
func NewRedisStreamQueue(ctx context.Context, rdb *redis.Client, cfg RedisStreamConfig) (*RedisStreamQueue, error) {
	if rdb == nil {
		return nil, errors.New("redis stream queue requires a redis client")
	}
	if cfg.Stream == "" || cfg.Group == "" || cfg.Consumer == "" {
		return nil, errors.New("redis stream queue requires stream, group and consumer names")
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}

	err := rdb.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}

	return &RedisStreamQueue{rdb: rdb, cfg: cfg}, nil
}

// Enqueue appends body to the stream.
func (q *RedisStreamQueue) Enqueue(ctx context.Context, body []byte) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{bodyField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue on %s: %w", q.cfg.Stream, err)
	}
	return nil
}

// Receive first reclaims stale pending entries when a sweep is due, then
// reads new entries for this consumer.
func (q *RedisStreamQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}

	if q.reclaimDue() {
		claimed, err := q.reclaim(ctx, max)
		if err != nil {
			observability.Logger.WarnContext(ctx, "failed to reclaim pending stream entries",
				"stream", q.cfg.Stream, "error", err)
		} else if len(claimed) > 0 {
			return claimed, nil
		}
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    int64(max),
		Block:    q.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read from %s: %w", q.cfg.Stream, err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, toDelivery(msg, false))
		}
	}
	return out, nil
}

func (q *RedisStreamQueue) reclaimDue() bool {
	if q.cfg.MinIdle <= 0 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.lastReclaim.IsZero() && time.Since(q.lastReclaim) < q.cfg.MinIdle {
		return false
	}
	q.lastReclaim = time.Now()
	return true
}

func (q *RedisStreamQueue) reclaim(ctx context.Context, max int) ([]Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		MinIdle:  q.cfg.MinIdle,
		Start:    "0-0",
		Count:    int64(max),
		Consumer: q.cfg.Consumer,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toDelivery(msg, true))
	}
	if len(out) > 0 {
		observability.Logger.InfoContext(ctx, "reclaimed pending stream entries",
			"stream", q.cfg.Stream, "count", len(out))
	}
	return out, nil
}

func toDelivery(msg redis.XMessage, redelivered bool) Delivery {
	d := Delivery{ID: msg.ID, Redelivered: redelivered}
	if raw, ok := msg.Values[bodyField].(string); ok {
		d.Body = []byte(raw)
	}
	return d
}

// Ack removes d from the group's pending list.
func (q *RedisStreamQueue) Ack(ctx context.Context, d Delivery) error {
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, d.ID).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", d.ID, err)
	}
	return nil
}

// DeadLetter copies d to the dead-letter stream and acknowledges it.
func (q *RedisStreamQueue) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.DeadLetterStream(),
		Values: map[string]interface{}{
			bodyField:   string(d.Body),
			"reason":    reason,
			"source_id": d.ID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", d.ID, err)
	}
	return q.Ack(ctx, d)
}

// DeadLetterStream is the stream dead-lettered entries are copied to.
func (q *RedisStreamQueue) DeadLetterStream() string {
	return q.cfg.Stream + deadLetterSuffix
}
