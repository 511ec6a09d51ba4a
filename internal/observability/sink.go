package observability

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Sink counts named domain events. Business logic takes a Sink instead of
// touching counters directly so the backing store stays swappable.
type Sink interface {
	Increment(ctx context.Context, name string)
}

type NoopSink struct{}

func (NoopSink) Increment(context.Context, string) {}

// OTelSink forwards events into the user_api.events counter.
type OTelSink struct{}

func (OTelSink) Increment(ctx context.Context, name string) { RecordDomainEvent(ctx, name) }

// MemorySink keeps in-process totals; used in tests and as the snapshot
// fallback when Redis is not configured.
type MemorySink struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemorySink() *MemorySink { return &MemorySink{counts: make(map[string]int64)} }

func (s *MemorySink) Increment(_ context.Context, name string) {
	s.mu.Lock()
	s.counts[name]++
	s.mu.Unlock()
}

func (s *MemorySink) Snapshot(context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

const redisMetricsHash = "metrics:user_api"

// RedisSink mirrors event totals into a Redis hash, best effort, so the admin
// metrics endpoint can read a cumulative snapshot across instances.
type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink { return &RedisSink{rdb: rdb} }

func (s *RedisSink) Increment(ctx context.Context, name string) {
	// Writeback failures are swallowed; counters are advisory.
	_ = s.rdb.HIncrBy(ctx, redisMetricsHash, name, 1).Err()
}

func (s *RedisSink) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, redisMetricsHash).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Increment(ctx context.Context, name string) {
	for _, s := range m {
		s.Increment(ctx, name)
	}
}

// SnapshotSink is implemented by sinks able to report cumulative totals.
type SnapshotSink interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}
