// Package redis reads tabular sources and records from Redis and writes query destinations
// back to it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimburion/tabular/pkg/engine"
	"github.com/nimburion/tabular/pkg/observability/logger"
	"github.com/nimburion/tabular/pkg/observability/tracing"
	"github.com/nimburion/tabular/pkg/query"
)

// OrderedListKind selects the Redis type GET ... STORE writes.
type OrderedListKind string

const (
	// OrderedList stores the ids with DEL + RPUSH.
	OrderedList OrderedListKind = "list"
	// OrderedZSet stores the ids with DEL + ZADD, scoring each id by its position.
	OrderedZSet OrderedListKind = "zset"
)

// ParseOrderedListKind validates a configured kind. Empty means list.
func ParseOrderedListKind(s string) (OrderedListKind, error) {
	switch OrderedListKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderedList:
		return OrderedList, nil
	case OrderedZSet:
		return OrderedZSet, nil
	default:
		return "", fmt.Errorf("unsupported ordered list kind %q (supported: list, zset)", s)
	}
}

const (
	defaultScanCount = 500
	// pushChunk bounds the arguments of one RPUSH/ZADD inside the write transaction.
	pushChunk = 1000
)

// Config holds Redis connection and write settings.
type Config struct {
	URL              string
	MaxConns         int
	OperationTimeout time.Duration

	OrderedListKind    OrderedListKind
	ClearStaleCounters bool
	ScanCount          int64
}

// Adapter implements engine.RecordStore and engine.ResultStore on a Redis client.
type Adapter struct {
	client *redis.Client
	logger logger.Logger
	config Config
}

var (
	_ engine.RecordStore = (*Adapter)(nil)
	_ engine.ResultStore = (*Adapter)(nil)
)

// NewAdapter connects to cfg.URL and verifies the connection with PING.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	opts.DialTimeout = 5 * time.Second
	if cfg.OperationTimeout > 0 {
		opts.ReadTimeout = cfg.OperationTimeout
		opts.WriteTimeout = cfg.OperationTimeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("Redis connection established",
		"max_conns", opts.PoolSize,
		"operation_timeout", cfg.OperationTimeout,
		"ordered_list_kind", cfg.OrderedListKind,
	)
	return NewFromClient(client, cfg, log), nil
}

// NewFromClient wraps an existing client. The adapter takes ownership of it.
func NewFromClient(client *redis.Client, cfg Config, log logger.Logger) *Adapter {
	if cfg.OrderedListKind == "" {
		cfg.OrderedListKind = OrderedList
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = defaultScanCount
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{client: client, logger: log, config: cfg}
}

// Client returns the underlying client, shared with the refresh lock provider.
func (a *Adapter) Client() *redis.Client {
	return a.client
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// Members implements engine.RecordStore. Sets, lists and sorted sets are collections.
func (a *Adapter) Members(ctx context.Context, collection string) (ids []string, err error) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStoreRead,
		tracing.WithStoreSystem("redis"), tracing.WithStoreCommand("MEMBERS"), tracing.WithStoreKey(collection))
	defer func() { tracing.End(span, err) }()

	typ, err := a.client.Type(ctx, collection).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read type of %s: %w", collection, err)
	}

	switch typ {
	case "none":
		return nil, nil
	case "set":
		ids, err = a.client.SMembers(ctx, collection).Result()
	case "list":
		ids, err = a.client.LRange(ctx, collection, 0, -1).Result()
	case "zset":
		ids, err = a.client.ZRange(ctx, collection, 0, -1).Result()
	default:
		return nil, query.WrongTypeError(collection)
	}
	switch {
	case isWrongType(err):
		// the key changed type between TYPE and the read
		return nil, query.WrongTypeError(collection)
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read members of %s: %w", collection, err)
	}
	return ids, nil
}

// Fields implements engine.RecordStore with one pipelined HMGET per id. An id holding
// something other than a hash reads as an absent record.
func (a *Adapter) Fields(ctx context.Context, ids []string, columns []string) (out [][]engine.FieldValue, err error) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStoreRead,
		tracing.WithStoreSystem("redis"), tracing.WithStoreCommand("HMGET"), tracing.WithStoreBatchSize(len(ids)))
	defer func() { tracing.End(span, err) }()

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, id, columns...)
		}
		return nil
	})
	if err != nil && !isWrongType(err) {
		return nil, fmt.Errorf("failed to fetch fields: %w", err)
	}

	out = make([][]engine.FieldValue, len(ids))
	for i, cmd := range cmds {
		vals := make([]engine.FieldValue, len(columns))
		out[i] = vals
		raw, cmdErr := cmd.Result()
		if isWrongType(cmdErr) {
			continue
		}
		if cmdErr != nil {
			return nil, fmt.Errorf("failed to fetch fields of %s: %w", ids[i], cmdErr)
		}
		for j, v := range raw {
			if s, ok := v.(string); ok && j < len(vals) {
				vals[j] = engine.FieldValue{Value: s, Present: true}
			}
		}
	}
	return out, nil
}

// SetContains implements engine.RecordStore for set (SMISMEMBER) and sorted set (ZSCORE)
// keys. A missing key contains nothing.
func (a *Adapter) SetContains(ctx context.Context, set string, values []string) (found []bool, err error) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStoreRead,
		tracing.WithStoreSystem("redis"), tracing.WithStoreCommand("SMISMEMBER"), tracing.WithStoreKey(set))
	defer func() { tracing.End(span, err) }()

	found = make([]bool, len(values))
	if len(values) == 0 {
		return found, nil
	}

	typ, err := a.client.Type(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read type of %s: %w", set, err)
	}
	switch typ {
	case "none":
		return found, nil
	case "set":
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = v
		}
		found, err = a.client.SMIsMember(ctx, set, args...).Result()
		if isWrongType(err) {
			return nil, query.WrongTypeError(set)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to test membership in %s: %w", set, err)
		}
		return found, nil
	case "zset":
		cmds := make([]*redis.FloatCmd, len(values))
		// a missing member fails its ZSCORE with redis.Nil, so the pipeline error is only
		// the first of possibly many; each command is checked on its own
		_, _ = a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, v := range values {
				cmds[i] = pipe.ZScore(ctx, set, v)
			}
			return nil
		})
		for i, cmd := range cmds {
			cmdErr := cmd.Err()
			switch {
			case cmdErr == nil:
				found[i] = true
			case errors.Is(cmdErr, redis.Nil):
			case isWrongType(cmdErr):
				return nil, query.WrongTypeError(set)
			default:
				return nil, fmt.Errorf("failed to test membership in %s: %w", set, cmdErr)
			}
		}
		return found, nil
	default:
		return nil, query.WrongTypeError(set)
	}
}

// WriteOrderedList implements engine.ResultStore. The old value is deleted and the ids
// written in one MULTI/EXEC, so readers see either the old or the new index.
func (a *Adapter) WriteOrderedList(ctx context.Context, key string, ids []string) (err error) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStoreWrite,
		tracing.WithStoreSystem("redis"), tracing.WithStoreCommand(string(a.config.OrderedListKind)),
		tracing.WithStoreKey(key), tracing.WithStoreBatchSize(len(ids)))
	defer func() { tracing.End(span, err) }()

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for start := 0; start < len(ids); start += pushChunk {
			end := min(start+pushChunk, len(ids))
			if a.config.OrderedListKind == OrderedZSet {
				members := make([]redis.Z, 0, end-start)
				for i := start; i < end; i++ {
					members = append(members, redis.Z{Score: float64(i), Member: ids[i]})
				}
				pipe.ZAdd(ctx, key, members...)
				continue
			}
			args := make([]interface{}, 0, end-start)
			for _, id := range ids[start:end] {
				args = append(args, id)
			}
			pipe.RPush(ctx, key, args...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store order index %s: %w", key, err)
	}
	return nil
}

// WriteCounters implements engine.ResultStore. With ClearStaleCounters the existing
// counters of dest are collected first and deleted in the same transaction that sets the
// new ones.
func (a *Adapter) WriteCounters(ctx context.Context, dest string, counters []engine.Counter) (err error) {
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationStoreWrite,
		tracing.WithStoreSystem("redis"), tracing.WithStoreCommand("SET"),
		tracing.WithStoreKey(dest), tracing.WithStoreBatchSize(len(counters)))
	defer func() { tracing.End(span, err) }()

	var stale []string
	if a.config.ClearStaleCounters {
		stale, err = a.scanKeys(ctx, escapeGlob(engine.CounterPrefix(dest))+"*")
		if err != nil {
			return err
		}
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for _, c := range counters {
			pipe.Set(ctx, c.Key, c.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store counters of %s: %w", dest, err)
	}
	if len(stale) > 0 {
		a.logger.Debug("stale counters cleared", "destination", dest, "keys", len(stale))
	}
	return nil
}

func (a *Adapter) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := a.client.Scan(ctx, 0, pattern, a.config.ScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HealthCheck pings Redis with a two second timeout.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.client.Ping(ctx).Err(); err != nil {
		a.logger.Error("Redis health check failed", "error", err)
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		a.logger.Error("failed to close Redis connection", "error", err)
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	a.logger.Info("Redis connection closed")
	return nil
}
