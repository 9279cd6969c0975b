package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/replayfuzz/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Ledger implements ports.Ledger using Redis. Several harness processes (or restarts
// of one) sharing a prefix share the consumed set and quota counters.
//
// Keys:
//
//	<prefix>consumed  SET of consumed paths
//	<prefix>quota     HASH pair -> counter of the current cycle
//	<prefix>records   LIST of JSON trial records
type Ledger struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Ledger)

// WithTTL sets an expiration refreshed on every Record.
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		l.ttl = ttl
	}
}

// WithPrefix sets the key prefix of the ledger.
func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		l.prefix = prefix
	}
}

// New creates a new Redis ledger with options.
func New(address, password string, db int, opts ...Option) *Ledger {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis ledger from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Ledger {
	ledger := &Ledger{
		client: client,
		prefix: "replayfuzz:",
	}

	for _, opt := range opts {
		opt(ledger)
	}

	return ledger
}

// Client exposes the underlying client so a Locker can share the connection.
func (l *Ledger) Client() *backend.Client {
	return l.client
}

func (l *Ledger) consumedKey() string { return l.prefix + "consumed" }
func (l *Ledger) quotaKey() string    { return l.prefix + "quota" }
func (l *Ledger) recordsKey() string  { return l.prefix + "records" }

func (l *Ledger) Consumed(ctx context.Context, path string) (bool, error) {
	ok, err := l.client.SIsMember(ctx, l.consumedKey(), path).Result()
	if err != nil {
		return false, fmt.Errorf("failed to query consumed set: %w", err)
	}
	return ok, nil
}

// Record marks the path consumed, bumps the pair counter and appends the record atomically.
func (l *Ledger) Record(ctx context.Context, rec domain.TrialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	pipe := l.client.TxPipeline()
	pipe.SAdd(ctx, l.consumedKey(), rec.Path)
	pipe.HIncrBy(ctx, l.quotaKey(), rec.Pair.String(), 1)
	pipe.RPush(ctx, l.recordsKey(), data)
	if l.ttl > 0 {
		pipe.Expire(ctx, l.consumedKey(), l.ttl)
		pipe.Expire(ctx, l.quotaKey(), l.ttl)
		pipe.Expire(ctx, l.recordsKey(), l.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record trial in redis: %w", err)
	}
	return nil
}

func (l *Ledger) PairCount(ctx context.Context, key domain.PairKey) (int, error) {
	n, err := l.client.HGet(ctx, l.quotaKey(), key.String()).Int()
	if err != nil {
		if err == backend.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pair counter: %w", err)
	}
	return n, nil
}

func (l *Ledger) ResetPair(ctx context.Context, key domain.PairKey) error {
	return l.client.HDel(ctx, l.quotaKey(), key.String()).Err()
}

func (l *Ledger) Stats(ctx context.Context) (domain.RunStats, error) {
	stats := domain.NewRunStats()

	raw, err := l.client.LRange(ctx, l.recordsKey(), 0, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to list records: %w", err)
	}

	for _, item := range raw {
		var rec domain.TrialRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return stats, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		stats.Add(rec)
	}
	return stats, nil
}

// Close closes the redis client.
func (l *Ledger) Close() error {
	return l.client.Close()
}
