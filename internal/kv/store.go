// Package kv provides the ordered key-value store the index runs on.
//
// A Store offers string, field-map, sorted-set and set primitives keyed by
// caller-chosen strings. Writes are only possible inside Atomic or Update, so
// every mutation is part of a batch that either lands whole or not at all.
// SQLite, PostgreSQL and Redis backends satisfy the same interface.
package kv

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"
)

var (
	// ErrUnavailable reports a transport fault or timeout talking to the backend.
	ErrUnavailable = errors.New("kv: store unavailable")

	// ErrBatchFailed reports that the backend rejected an atomic batch.
	// Nothing from the batch is visible.
	ErrBatchFailed = errors.New("kv: batch rejected")

	// ErrConflict reports that a watched key changed before an Update committed.
	// Nothing from the batch is visible.
	ErrConflict = errors.New("kv: transaction conflict")
)

// Z is a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// ScoreRange selects sorted-set members by score. Min and Max may be infinite.
type ScoreRange struct {
	Min, Max     float64
	MinExclusive bool
	MaxExclusive bool
}

// Below returns the range of scores strictly less than max.
func Below(max float64) ScoreRange {
	return ScoreRange{Min: math.Inf(-1), Max: max, MaxExclusive: true}
}

// Contains reports whether score lies within r.
func (r ScoreRange) Contains(score float64) bool {
	if score < r.Min || (r.MinExclusive && score == r.Min) {
		return false
	}
	if score > r.Max || (r.MaxExclusive && score == r.Max) {
		return false
	}
	return true
}

// redisBounds renders r in the ZRANGEBYSCORE min/max syntax.
func (r ScoreRange) redisBounds() (string, string) {
	return formatBound(r.Min, r.MinExclusive), formatBound(r.Max, r.MaxExclusive)
}

func formatBound(v float64, exclusive bool) string {
	var s string
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	default:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	}
	if exclusive {
		return "(" + s
	}
	return s
}

// Reader is the read side of a store. Reads of expired keys behave as if the
// key does not exist.
type Reader interface {
	// Get returns the value of a string key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// HGetAll returns all fields of a field-map key. A missing key yields an
	// empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HGetAllMulti is a batched HGetAll preserving input order.
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)

	ZCard(ctx context.Context, key string) (int64, error)
	ZCount(ctx context.Context, key string, r ScoreRange) (int64, error)

	// ZScore returns a member's score and whether the member exists.
	ZScore(ctx context.Context, key, member string) (float64, bool, error)

	// ZRevRange returns members by rank, highest score first. Equal scores
	// order by member, descending. stop < 0 means "to the end".
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRangeByScore returns members within r, lowest score first.
	ZRangeByScore(ctx context.Context, key string, r ScoreRange) ([]string, error)

	SMembers(ctx context.Context, key string) ([]string, error)
}

// Pipeline queues writes for one atomic batch. Errors are reported by the
// Atomic or Update call that owns the pipeline.
type Pipeline interface {
	HSet(key string, fields map[string]string)
	Set(key, value string)
	SetEx(key, value string, ttl time.Duration)
	Expire(key string, ttl time.Duration)
	Del(keys ...string)
	ZAdd(key string, members ...Z)
	ZRem(key string, members ...string)
	ZRemRangeByScore(key string, r ScoreRange)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
}

// Tx is a read-then-write unit of work.
type Tx interface {
	Reader

	// Watch adds keys whose modification by another client aborts the
	// transaction with ErrConflict.
	Watch(ctx context.Context, keys ...string) error

	// Pipelined queues the transaction's writes. It must be called at most
	// once, after all reads.
	Pipelined(ctx context.Context, fn func(Pipeline)) error
}

// Store is an ordered key-value store with atomic batches.
type Store interface {
	Reader

	// Atomic runs fn and commits every write it queued as one batch.
	Atomic(ctx context.Context, fn func(Pipeline)) error

	// Update runs fn inside a transaction watching the given keys. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error, watch ...string) error

	// Backend names the implementation ("SQLite", "PostgreSQL", "Redis").
	Backend() string

	// SupportsHighConcurrency reports whether many concurrent writers are
	// reasonable. SQLite serializes writers and returns false.
	SupportsHighConcurrency() bool

	Close() error
}

// Purger is implemented by backends that keep expired keys until told to
// drop them.
type Purger interface {
	// Purge deletes expired keys and returns how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// Options tune a backend connection.
type Options struct {
	// Timeout bounds every round-trip. Zero means no extra bound.
	Timeout time.Duration

	// Now overrides the clock used for expiry. Nil means time.Now.
	Now func() time.Time
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}
